package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// RunID identifies a run inside an Arena. The empty id means "no link".
type RunID string

// NewRunID returns a fresh random run id.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// RunKind distinguishes plain image folders from HWI plate runs.
type RunKind string

const (
	RunKindGeneric RunKind = "run"
	RunKindHWI     RunKind = "hwi"
)

var (
	ErrDuplicateRunName = errors.New("run name already loaded")
	ErrInvalidRunName   = errors.New("invalid run name")
	ErrRunNotFound      = errors.New("run not found")
)

// CocktailRef is the screening condition applied to one well.
type CocktailRef struct {
	Number         string
	WellAssignment int
	CommercialCode string
	PH             float64
	Reagents       []Reagent
}

// Reagent is one chemical of a cocktail.
type Reagent struct {
	Chemical      string
	Concentration string
}

// Clone deep-copies the cocktail reference.
func (c CocktailRef) Clone() CocktailRef {
	c.Reagents = append([]Reagent(nil), c.Reagents...)
	return c
}

// Run is an ordered set of well images captured in one imaging session.
type Run struct {
	ID           RunID
	Kind         RunKind
	Name         string
	ImageDir     string
	Date         time.Time
	Spectrum     Spectrum
	PlateID      string
	Sample       string
	NumWells     int
	CocktailMenu string
	Images       []*Image

	// Date axis.
	Next     RunID
	Previous RunID
	// Spectrum axis.
	AltSpectrum RunID

	mu sync.Mutex
}

// Lock acquires the run for structural or classification mutation.
func (r *Run) Lock() { r.mu.Lock() }

// Unlock releases the run.
func (r *Run) Unlock() { r.mu.Unlock() }

// TryLock acquires the run if it is free.
func (r *Run) TryLock() bool { return r.mu.TryLock() }

// Len returns the number of image slots, placeholders included.
func (r *Run) Len() int {
	return len(r.Images)
}

// ClearLinks drops the run's relationship fields and those of its images.
func (r *Run) ClearLinks() {
	r.Next, r.Previous, r.AltSpectrum = "", "", ""
	for _, img := range r.Images {
		if img != nil {
			img.ClearLinks()
		}
	}
}

// Clone deep-copies the run and its images. The copy has its own lock.
func (r *Run) Clone() *Run {
	c := &Run{
		ID:           r.ID,
		Kind:         r.Kind,
		Name:         r.Name,
		ImageDir:     r.ImageDir,
		Date:         r.Date,
		Spectrum:     r.Spectrum,
		PlateID:      r.PlateID,
		Sample:       r.Sample,
		NumWells:     r.NumWells,
		CocktailMenu: r.CocktailMenu,
		Next:         r.Next,
		Previous:     r.Previous,
		AltSpectrum:  r.AltSpectrum,
	}
	if r.Images != nil {
		c.Images = make([]*Image, len(r.Images))
		for i, img := range r.Images {
			if img != nil {
				c.Images[i] = img.Clone()
			}
		}
	}
	return c
}

// SampleKey groups runs imaged from the same physical drop: the sample name
// when known, else the plate id.
func (r *Run) SampleKey() string {
	if r.Sample != "" {
		return r.Sample
	}
	return r.PlateID
}

// ImageByWell returns the image for a 1-based well number.
func (r *Run) ImageByWell(well int) (*Image, bool) {
	if well >= 1 && well <= len(r.Images) && r.Images[well-1] != nil && r.Images[well-1].WellNumber == well {
		return r.Images[well-1], true
	}
	for _, img := range r.Images {
		if img != nil && img.WellNumber == well {
			return img, true
		}
	}
	return nil, false
}

// ImagesByClassification groups images by their human or machine label.
// Unclassified images are grouped under the empty classification.
func (r *Run) ImagesByClassification(human bool) map[Classification][]*Image {
	groups := make(map[Classification][]*Image)
	for _, img := range r.Images {
		if img == nil || img.IsPlaceholder() {
			continue
		}
		c := img.MachineClass
		if human {
			c = img.HumanClass
		}
		groups[c] = append(groups[c], img)
	}
	return groups
}

// FilterImages returns the non-placeholder images matching f.
func (r *Run) FilterImages(f ImageFilter) []*Image {
	var out []*Image
	for _, img := range r.Images {
		if img == nil || img.IsPlaceholder() {
			continue
		}
		if img.Matches(f) {
			out = append(out, img)
		}
	}
	return out
}

// CurrentHits returns images a human marked as crystals.
func (r *Run) CurrentHits() []*Image {
	var hits []*Image
	for _, img := range r.Images {
		if img != nil && img.HumanClass == ClassCrystals {
			hits = append(hits, img)
		}
	}
	return hits
}

// Tooltip summarizes the run on a few lines.
func (r *Run) Tooltip() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run Name: %s\nSpectrum: %s\nDate: %s\nNum Images: %d", r.Name, r.Spectrum, formatDate(r.Date), r.Len())
	if r.Kind == RunKindHWI {
		fmt.Fprintf(&b, "\nCocktail Version: %s\nPlate ID: %s", r.CocktailMenu, r.PlateID)
	}
	return b.String()
}

// ClassificationCounts tallies human and machine labels across the run.
func (r *Run) ClassificationCounts() (human, machine map[Classification]int) {
	human = make(map[Classification]int)
	machine = make(map[Classification]int)
	for _, img := range r.Images {
		if img == nil || img.IsPlaceholder() {
			continue
		}
		if img.HumanClass != "" {
			human[img.HumanClass]++
		}
		if img.MachineClass != "" {
			machine[img.MachineClass]++
		}
	}
	return human, machine
}

// ValidateRunName checks that a name is usable as a run key.
func ValidateRunName(name string) error {
	if strings.TrimSpace(name) == "" || !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidRunName, name)
	}
	return nil
}

func distinctByID(runs []*Run) []*Run {
	seen := make(map[*Run]bool, len(runs))
	ordered := make([]*Run, 0, len(runs))
	for _, r := range runs {
		if r != nil && !seen[r] {
			seen[r] = true
			ordered = append(ordered, r)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return ordered
}

func unlockAll(ordered []*Run) {
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i].Unlock()
	}
}

// LockRuns locks every distinct run in id order and returns the matching unlock.
func LockRuns(runs []*Run) func() {
	ordered := distinctByID(runs)
	for _, r := range ordered {
		r.Lock()
	}
	return func() { unlockAll(ordered) }
}

// TryLockRuns locks every distinct run or none of them. It returns the
// runs that were already locked when it fails.
func TryLockRuns(runs []*Run) (unlock func(), busy []*Run) {
	ordered := distinctByID(runs)
	var held []*Run
	for _, r := range ordered {
		if r.TryLock() {
			held = append(held, r)
		} else {
			busy = append(busy, r)
		}
	}
	if len(busy) > 0 {
		unlockAll(held)
		return nil, busy
	}
	return func() { unlockAll(ordered) }, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04")
}
