package repository

import (
	"polo/internal/models"
)

// RunRepository defines the interface for run catalog operations.
type RunRepository interface {
	// Create/update operations
	Upsert(run *models.Run) (int64, error)

	// Read operations
	GetByName(name string) (*models.Run, error)
	GetAll(filter *models.RunFilter) ([]models.Run, error)
	GetTotalCount(filter *models.RunFilter) (int, error)
	GetStats() (*models.CatalogStats, error)

	// Delete operations
	DeleteByName(name string) error
}

// ImageRepository defines the interface for per-well catalog rows.
type ImageRepository interface {
	// ReplaceForRun swaps every image row of a run, dropping their predictions.
	ReplaceForRun(runID int64, images []models.Image) ([]int64, error)

	GetByRun(runID int64) ([]models.Image, error)
	GetByClass(class string, human bool) ([]models.Image, error)
}

// PredictionRepository defines the interface for classifier confidences.
type PredictionRepository interface {
	InsertBatch(predictions []models.Prediction) error
	GetByImageID(imageID int64) ([]models.Prediction, error)
	DeleteByImageID(imageID int64) error
}
