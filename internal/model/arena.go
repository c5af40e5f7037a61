package model

import (
	"fmt"
	"sort"
	"sync"
)

// Arena owns every loaded run and resolves relationship ids to records.
// Run names are unique within an arena.
type Arena struct {
	mu     sync.RWMutex
	runs   map[RunID]*Run
	names  map[string]RunID
	images map[ImageID]*Image
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		runs:   make(map[RunID]*Run),
		names:  make(map[string]RunID),
		images: make(map[ImageID]*Image),
	}
}

// Add registers a run and its images, assigning ids where missing.
func (a *Arena) Add(run *Run) error {
	if err := ValidateRunName(run.Name); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, taken := a.names[run.Name]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateRunName, run.Name)
	}
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if _, taken := a.runs[run.ID]; taken {
		run.ID = NewRunID()
	}
	a.runs[run.ID] = run
	a.names[run.Name] = run.ID
	a.indexImages(run)
	return nil
}

// Reindex rebuilds the image table after a run's image slice was replaced.
func (a *Arena) Reindex() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.images = make(map[ImageID]*Image, len(a.images))
	for _, r := range a.runs {
		a.indexImages(r)
	}
}

func (a *Arena) indexImages(run *Run) {
	for _, img := range run.Images {
		if img == nil {
			continue
		}
		if img.ID == "" {
			img.ID = NewImageID()
		}
		if _, taken := a.images[img.ID]; taken {
			img.ID = NewImageID()
		}
		a.images[img.ID] = img
	}
}

// Remove drops a run and nulls every relationship field that referenced it
// or one of its images.
func (a *Arena) Remove(id RunID) (*Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	run, ok := a.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	delete(a.runs, id)
	delete(a.names, run.Name)

	gone := make(map[ImageID]bool, len(run.Images))
	for _, img := range run.Images {
		if img != nil {
			gone[img.ID] = true
			delete(a.images, img.ID)
		}
	}

	for _, other := range a.runs {
		if other.Next == id {
			other.Next = ""
		}
		if other.Previous == id {
			other.Previous = ""
		}
		if other.AltSpectrum == id {
			other.AltSpectrum = ""
		}
		for _, img := range other.Images {
			if img == nil {
				continue
			}
			if gone[img.Next] {
				img.Next = ""
			}
			if gone[img.Previous] {
				img.Previous = ""
			}
			if gone[img.Alt] {
				img.Alt = ""
			}
		}
	}
	run.ClearLinks()
	return run, nil
}

// Run resolves a run id.
func (a *Arena) Run(id RunID) (*Run, bool) {
	if id == "" {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.runs[id]
	return r, ok
}

// RunByName resolves a run by its unique name.
func (a *Arena) RunByName(name string) (*Run, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.names[name]
	if !ok {
		return nil, false
	}
	return a.runs[id], true
}

// Image resolves an image id.
func (a *Arena) Image(id ImageID) (*Image, bool) {
	if id == "" {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	img, ok := a.images[id]
	return img, ok
}

// Runs returns every loaded run ordered by name.
func (a *Arena) Runs() []*Run {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Run, 0, len(a.runs))
	for _, r := range a.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of loaded runs.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.runs)
}

// collect follows step from start until it reaches an absent id or one
// already in visited.
func collect[ID comparable, T any](start ID, visited map[ID]bool, lookup func(ID) (T, bool), step func(T) ID) []T {
	var zero ID
	var out []T
	for id := start; id != zero && !visited[id]; {
		node, ok := lookup(id)
		if !ok {
			break
		}
		visited[id] = true
		out = append(out, node)
		id = step(node)
	}
	return out
}

// LinkedByDate returns run and every run reachable over the date axis,
// sorted by date.
func (a *Arena) LinkedByDate(run *Run) []*Run {
	visited := map[RunID]bool{run.ID: true}
	out := []*Run{run}
	out = append(out, collect(run.Previous, visited, a.Run, func(r *Run) RunID { return r.Previous })...)
	out = append(out, collect(run.Next, visited, a.Run, func(r *Run) RunID { return r.Next })...)
	sort.SliceStable(out, func(i, j int) bool { return RunByDate(out[i], out[j]) })
	return out
}

// LinkedBySpectrum returns run and every run reachable over the spectrum
// ring. less orders the result; nil keeps visit order.
func (a *Arena) LinkedBySpectrum(run *Run, less func(x, y *Run) bool) []*Run {
	visited := map[RunID]bool{run.ID: true}
	out := []*Run{run}
	out = append(out, collect(run.AltSpectrum, visited, a.Run, func(r *Run) RunID { return r.AltSpectrum })...)
	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// ImageLinkedByDate is LinkedByDate for images.
func (a *Arena) ImageLinkedByDate(img *Image) []*Image {
	visited := map[ImageID]bool{img.ID: true}
	out := []*Image{img}
	out = append(out, collect(img.Previous, visited, a.Image, func(i *Image) ImageID { return i.Previous })...)
	out = append(out, collect(img.Next, visited, a.Image, func(i *Image) ImageID { return i.Next })...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ImageLinkedBySpectrum is LinkedBySpectrum for images.
func (a *Arena) ImageLinkedBySpectrum(img *Image, less func(x, y *Image) bool) []*Image {
	visited := map[ImageID]bool{img.ID: true}
	out := []*Image{img}
	out = append(out, collect(img.Alt, visited, a.Image, func(i *Image) ImageID { return i.Alt })...)
	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// RunByDate orders runs by date, then name.
func RunByDate(x, y *Run) bool {
	if !x.Date.Equal(y.Date) {
		return x.Date.Before(y.Date)
	}
	return x.Name < y.Name
}

// RunBySpectrum orders runs by spectrum rank, then date, then name.
func RunBySpectrum(x, y *Run) bool {
	if x.Spectrum.Rank() != y.Spectrum.Rank() {
		return x.Spectrum.Rank() < y.Spectrum.Rank()
	}
	return RunByDate(x, y)
}

// ImageBySpectrum orders images by spectrum rank, then date.
func ImageBySpectrum(x, y *Image) bool {
	if x.Spectrum.Rank() != y.Spectrum.Rank() {
		return x.Spectrum.Rank() < y.Spectrum.Rank()
	}
	return x.Date.Before(y.Date)
}
