// Package linker maintains the relationship graph between runs of the same
// sample: a date chain across visible-light runs and a spectrum ring across
// the non-visible ones.
package linker

import (
	"fmt"
	"sort"

	"polo/internal/logger"
	"polo/internal/model"
)

// LinkSkipped records a run left out of a link pass. It is informational;
// the run is still returned by the pass.
type LinkSkipped struct {
	RunID  model.RunID
	Run    string
	Reason string
}

func (s LinkSkipped) Error() string {
	return fmt.Sprintf("run %s not linked: %s", s.Run, s.Reason)
}

// ReasonBusy marks runs whose sample group was left as it was because one
// of its runs is locked by another operation.
const ReasonBusy = "sample group is busy"

// Report is the outcome of a full link pass.
type Report struct {
	Runs    []*model.Run
	Skipped []LinkSkipped
}

// Deferred reports whether a group was left unlinked because it was busy.
func (r Report) Deferred() bool {
	for _, s := range r.Skipped {
		if s.Reason == ReasonBusy {
			return true
		}
	}
	return false
}

// Linker wires runs together through their relationship ids.
type Linker struct {
	arena  *model.Arena
	logger *logger.Logger
}

// New creates a Linker resolving ids through arena.
func New(arena *model.Arena, logger *logger.Logger) *Linker {
	return &Linker{arena: arena, logger: logger}
}

// UnlinkAll clears every relationship field of runs and their images.
func (l *Linker) UnlinkAll(runs []*model.Run) {
	for _, r := range runs {
		if r != nil {
			r.ClearLinks()
		}
	}
}

// LinkByDate chains visible runs in ascending date order. Images are paired
// by position, up to the shorter of two neighbouring runs. Visible runs
// without a date are reported and left out of the chain.
func (l *Linker) LinkByDate(runs []*model.Run) ([]*model.Run, []LinkSkipped) {
	var linkable []*model.Run
	var skipped []LinkSkipped
	for _, r := range runs {
		if r == nil || !r.Spectrum.IsVisible() {
			continue
		}
		if r.Date.IsZero() {
			skipped = append(skipped, skip(r, "missing date"))
			continue
		}
		clearDateLinks(r)
		linkable = append(linkable, r)
	}

	sort.SliceStable(linkable, func(i, j int) bool { return model.RunByDate(linkable[i], linkable[j]) })
	for i := 0; i+1 < len(linkable); i++ {
		linkDate(linkable[i], linkable[i+1])
	}
	return runs, skipped
}

// LinkBySpectrum builds a ring over the non-visible runs ordered by
// spectrum, then date, and points every visible run at the ring's first
// node. A lone non-visible run gets no self-link.
func (l *Linker) LinkBySpectrum(runs []*model.Run) ([]*model.Run, []LinkSkipped) {
	var visible, ring []*model.Run
	var skipped []LinkSkipped
	for _, r := range runs {
		if r == nil {
			continue
		}
		if r.Spectrum == "" {
			skipped = append(skipped, skip(r, "missing spectrum"))
			continue
		}
		clearAltLinks(r)
		if r.Spectrum.IsVisible() {
			visible = append(visible, r)
		} else {
			ring = append(ring, r)
		}
	}
	if len(ring) == 0 {
		return runs, skipped
	}

	sort.SliceStable(ring, func(i, j int) bool { return model.RunBySpectrum(ring[i], ring[j]) })
	if len(ring) > 1 {
		for i := range ring {
			linkAlt(ring[i], ring[(i+1)%len(ring)])
		}
	}
	head := ring[0]
	for _, v := range visible {
		linkAlt(v, head)
	}
	return runs, skipped
}

// LinkAll unlinks runs and rebuilds both axes while holding every run's lock.
func (l *Linker) LinkAll(runs []*model.Run) Report {
	unlock := model.LockRuns(runs)
	defer unlock()
	return l.linkLocked(runs)
}

// linkLocked is LinkAll for a caller holding every run lock.
func (l *Linker) linkLocked(runs []*model.Run) Report {
	l.UnlinkAll(runs)
	_, byDate := l.LinkByDate(runs)
	_, bySpectrum := l.LinkBySpectrum(runs)

	report := Report{Runs: runs, Skipped: append(byDate, bySpectrum...)}
	for _, s := range report.Skipped {
		l.logger.Warning("%v", s)
	}
	return report
}

// Relink regroups every loaded run by sample and links each group. Runs
// without a sample key are unlinked and reported. Relink never waits on a
// run lock: a group holding a locked run keeps its links and every run in
// it is reported with ReasonBusy.
func (l *Linker) Relink() Report {
	groups := make(map[string][]*model.Run)
	var keys []string
	var report Report
	for _, r := range l.arena.Runs() {
		report.Runs = append(report.Runs, r)
		key := r.SampleKey()
		if key == "" {
			if !r.TryLock() {
				report.Skipped = append(report.Skipped, skip(r, ReasonBusy))
				continue
			}
			r.ClearLinks()
			r.Unlock()
			report.Skipped = append(report.Skipped, skip(r, "no sample or plate id"))
			continue
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}

	sort.Strings(keys)
	for _, key := range keys {
		group := groups[key]
		unlock, busy := model.TryLockRuns(group)
		if busy != nil {
			l.logger.Warning("Sample %s not relinked: %d of its runs are busy", key, len(busy))
			for _, r := range group {
				report.Skipped = append(report.Skipped, skip(r, ReasonBusy))
			}
			continue
		}
		sub := l.linkLocked(group)
		unlock()
		report.Skipped = append(report.Skipped, sub.Skipped...)
	}
	l.logger.Info("Relinked %d runs across %d samples", len(report.Runs), len(keys))
	return report
}

func skip(r *model.Run, reason string) LinkSkipped {
	return LinkSkipped{RunID: r.ID, Run: r.Name, Reason: reason}
}

func clearDateLinks(r *model.Run) {
	r.Next, r.Previous = "", ""
	for _, img := range r.Images {
		if img != nil {
			img.Next, img.Previous = "", ""
		}
	}
}

func clearAltLinks(r *model.Run) {
	r.AltSpectrum = ""
	for _, img := range r.Images {
		if img != nil {
			img.Alt = ""
		}
	}
}

func linkDate(earlier, later *model.Run) {
	earlier.Next = later.ID
	later.Previous = earlier.ID
	n := min(len(earlier.Images), len(later.Images))
	for i := 0; i < n; i++ {
		a, b := earlier.Images[i], later.Images[i]
		if a == nil || b == nil {
			continue
		}
		a.Next = b.ID
		b.Previous = a.ID
	}
}

func linkAlt(from, to *model.Run) {
	from.AltSpectrum = to.ID
	n := min(len(from.Images), len(to.Images))
	for i := 0; i < n; i++ {
		a, b := from.Images[i], to.Images[i]
		if a == nil || b == nil {
			continue
		}
		a.Alt = b.ID
	}
}
