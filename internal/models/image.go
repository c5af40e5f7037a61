package models

import "time"

// Run is a catalog row for a saved run.
type Run struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Spectrum string    `json:"spectrum"`
	PlateID  string    `json:"plate_id"`
	Sample   string    `json:"sample"`
	Date     time.Time `json:"date"`
	NumWells int       `json:"num_wells"`
	StoreKey string    `json:"store_key"`
	SavedAt  time.Time `json:"saved_at"`
}

// Image is a catalog row for one well of a run.
type Image struct {
	ID           int64  `json:"id"`
	RunID        int64  `json:"run_id"`
	Well         int    `json:"well"`
	Path         string `json:"path"`
	HumanClass   string `json:"human_class"`
	MachineClass string `json:"machine_class"`
	Favorite     bool   `json:"favorite"`
}

// Prediction is one label confidence from the classifier.
type Prediction struct {
	ID         int64   `json:"id"`
	ImageID    int64   `json:"image_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// RunFilter contains filtering options for querying runs.
type RunFilter struct {
	Spectrum string
	Sample   string
	PlateID  string
	After    time.Time
	Before   time.Time
	Limit    int
	Offset   int
}

// CatalogStats summarizes the catalog.
type CatalogStats struct {
	TotalRuns   int            `json:"total_runs"`
	TotalImages int            `json:"total_images"`
	PerSpectrum map[string]int `json:"per_spectrum"`
	Human       map[string]int `json:"human"`
	Machine     map[string]int `json:"machine"`
}
