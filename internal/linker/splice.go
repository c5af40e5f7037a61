package linker

import (
	"errors"
	"fmt"

	"polo/internal/model"
)

var (
	ErrNotVisible = errors.New("only visible runs can be spliced into a spectrum ring")
	ErrNoRing     = errors.New("run has no spectrum link")
)

// ringSlot is one position of a ring walk. A slot holding a visible run is
// a break: the place where a previously spliced visible run sits.
type ringSlot struct {
	run     *model.Run
	isBreak bool
}

// Splice is a reversible insertion of a visible run into a spectrum ring.
type Splice struct {
	run    *model.Run
	runs   map[*model.Run]model.RunID
	images map[*model.Image]model.ImageID
	undone bool
}

// Run returns the spliced run.
func (s *Splice) Run() *model.Run { return s.run }

// Undo restores every alt link the splice changed. Calling it again is a no-op.
func (s *Splice) Undo() {
	if s.undone {
		return
	}
	runs := make([]*model.Run, 0, len(s.runs))
	for r := range s.runs {
		runs = append(runs, r)
	}
	unlock := model.LockRuns(runs)
	defer unlock()

	for r, prev := range s.runs {
		r.AltSpectrum = prev
	}
	for img, prev := range s.images {
		img.Alt = prev
	}
	s.undone = true
}

// SpliceIntoRing temporarily makes a visible run a member of the spectrum
// ring its AltSpectrum points into, so navigation can cycle back to it. A
// visible run already sitting in the ring is replaced. When the target is a
// lone run with no ring, the two form a two-node ring.
func (l *Linker) SpliceIntoRing(run *model.Run) (*Splice, error) {
	if !run.Spectrum.IsVisible() {
		return nil, fmt.Errorf("splice %s: %w", run.Name, ErrNotVisible)
	}
	target, ok := l.arena.Run(run.AltSpectrum)
	if !ok {
		return nil, fmt.Errorf("splice %s: %w", run.Name, ErrNoRing)
	}

	slots := l.walkRing(target)
	if len(slots) == 0 || (len(slots) == 1 && slots[0].isBreak) {
		return nil, fmt.Errorf("splice %s: %w", run.Name, ErrNoRing)
	}

	touched := []*model.Run{run}
	for _, s := range slots {
		touched = append(touched, s.run)
	}
	unlock := model.LockRuns(touched)
	defer unlock()

	sp := &Splice{
		run:    run,
		runs:   make(map[*model.Run]model.RunID),
		images: make(map[*model.Image]model.ImageID),
	}

	n := len(slots)
	breakAt := -1
	for i, s := range slots {
		if s.isBreak {
			breakAt = i
			break
		}
	}

	var pred, succ *model.Run
	if breakAt >= 0 {
		pred = slots[(breakAt-1+n)%n].run
		succ = slots[(breakAt+1)%n].run
	} else {
		pred = slots[n-1].run
		succ = slots[0].run
	}
	sp.relink(pred, run)
	sp.relink(run, succ)

	l.logger.Info("Spliced %s between %s and %s", run.Name, pred.Name, succ.Name)
	return sp, nil
}

// walkRing follows AltSpectrum from start, recording each distinct run.
func (l *Linker) walkRing(start *model.Run) []ringSlot {
	var slots []ringSlot
	visited := make(map[model.RunID]bool)
	for cur, ok := start, true; ok && !visited[cur.ID]; cur, ok = l.arena.Run(cur.AltSpectrum) {
		visited[cur.ID] = true
		slots = append(slots, ringSlot{run: cur, isBreak: cur.Spectrum.IsVisible()})
	}
	return slots
}

// relink points from at to, remembering the previous links of from and its images.
func (s *Splice) relink(from, to *model.Run) {
	if _, seen := s.runs[from]; !seen {
		s.runs[from] = from.AltSpectrum
	}
	from.AltSpectrum = to.ID
	n := min(len(from.Images), len(to.Images))
	for i := 0; i < n; i++ {
		a, b := from.Images[i], to.Images[i]
		if a == nil || b == nil {
			continue
		}
		if _, seen := s.images[a]; !seen {
			s.images[a] = a.Alt
		}
		a.Alt = b.ID
	}
}
