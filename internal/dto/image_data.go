package dto

import (
	"encoding/json"
	"time"

	"polo/internal/model"
	"polo/internal/models"
)

// RunInfo summarizes a loaded run.
type RunInfo struct {
	ID           model.RunID    `json:"id"`
	Name         string         `json:"name"`
	Kind         model.RunKind  `json:"kind"`
	Spectrum     model.Spectrum `json:"spectrum"`
	Date         time.Time      `json:"date"`
	PlateID      string         `json:"plateId,omitempty"`
	Sample       string         `json:"sample,omitempty"`
	NumWells     int            `json:"numWells"`
	CocktailMenu string         `json:"cocktailMenu,omitempty"`
	Tooltip      string         `json:"tooltip"`
	Human        map[string]int `json:"human"`
	Machine      map[string]int `json:"machine"`
	Next         model.RunID    `json:"next,omitempty"`
	Previous     model.RunID    `json:"previous,omitempty"`
	AltSpectrum  model.RunID    `json:"altSpectrum,omitempty"`
	Busy         bool           `json:"busy,omitempty"`
}

// MarshalJSON formats the run date like ImageInfo.
func (r RunInfo) MarshalJSON() ([]byte, error) {
	type Alias RunInfo
	date := ""
	if !r.Date.IsZero() {
		date = r.Date.Format("02-01-2006 15:04")
	}
	return json.Marshal(&struct {
		Date string `json:"date"`
		Alias
	}{
		Date:  date,
		Alias: (Alias)(r),
	})
}

// NewRunInfo builds the summary of run.
func NewRunInfo(run *model.Run) RunInfo {
	human, machine := run.ClassificationCounts()
	return RunInfo{
		ID:           run.ID,
		Name:         run.Name,
		Kind:         run.Kind,
		Spectrum:     run.Spectrum,
		Date:         run.Date,
		PlateID:      run.PlateID,
		Sample:       run.Sample,
		NumWells:     run.Len(),
		CocktailMenu: run.CocktailMenu,
		Tooltip:      run.Tooltip(),
		Human:        countsView(human),
		Machine:      countsView(machine),
		Next:         run.Next,
		Previous:     run.Previous,
		AltSpectrum:  run.AltSpectrum,
	}
}

// NewBusyRunInfo summarizes a run that is locked by a classification. Only
// fields the classifier never writes are filled in.
func NewBusyRunInfo(run *model.Run) RunInfo {
	return RunInfo{
		ID:           run.ID,
		Name:         run.Name,
		Kind:         run.Kind,
		Spectrum:     run.Spectrum,
		Date:         run.Date,
		PlateID:      run.PlateID,
		Sample:       run.Sample,
		NumWells:     run.Len(),
		CocktailMenu: run.CocktailMenu,
		Tooltip:      run.Tooltip(),
		Busy:         true,
	}
}

func countsView(counts map[model.Classification]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}

// RunData is a paginated page of a run's images.
type RunData struct {
	Run         RunInfo     `json:"run"`
	Images      []ImageInfo `json:"images"`
	Length      int         `json:"length"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
	Limit       int         `json:"pageSize"`
}

// LinkedData lists the runs reachable from one run along an axis.
type LinkedData struct {
	Axis string    `json:"axis"`
	Runs []RunInfo `json:"runs"`
}

// LinkReport is returned by relink requests.
type LinkReport struct {
	Linked  int               `json:"linked"`
	Skipped map[string]string `json:"skipped"`
}

// CatalogData is a page of saved runs.
type CatalogData struct {
	Runs        []models.Run `json:"runs"`
	Length      int          `json:"length"`
	TotalPages  int          `json:"totalPages"`
	CurrentPage int          `json:"currentPage"`
	Limit       int          `json:"pageSize"`
}
