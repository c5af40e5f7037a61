package repository

import (
	"fmt"
	"sort"

	"polo/internal/model"
	"polo/internal/models"
)

// Catalog indexes saved runs so they can be searched without loading xtal files.
type Catalog struct {
	Runs        RunRepository
	Images      ImageRepository
	Predictions PredictionRepository
}

// Record writes the catalog rows for run, saved under key. The caller holds
// the run lock or owns a private copy.
func (c *Catalog) Record(run *model.Run, key string) error {
	runID, err := c.Runs.Upsert(&models.Run{
		Name:     run.Name,
		Kind:     string(run.Kind),
		Spectrum: string(run.Spectrum),
		PlateID:  run.PlateID,
		Sample:   run.Sample,
		Date:     run.Date,
		NumWells: run.Len(),
		StoreKey: key,
	})
	if err != nil {
		return err
	}

	var rows []models.Image
	var sources []*model.Image
	for _, img := range run.Images {
		if img == nil {
			continue
		}
		rows = append(rows, models.Image{
			RunID:        runID,
			Well:         img.WellNumber,
			Path:         img.Path,
			HumanClass:   string(img.HumanClass),
			MachineClass: string(img.MachineClass),
			Favorite:     img.Favorite,
		})
		sources = append(sources, img)
	}
	ids, err := c.Images.ReplaceForRun(runID, rows)
	if err != nil {
		return err
	}

	var predictions []models.Prediction
	for i, img := range sources {
		trusted := img.TrustedConfidence()
		labels := make([]string, 0, len(trusted))
		for label := range trusted {
			labels = append(labels, string(label))
		}
		sort.Strings(labels)
		for _, label := range labels {
			predictions = append(predictions, models.Prediction{
				ImageID:    ids[i],
				Label:      label,
				Confidence: trusted[model.Classification(label)],
			})
		}
	}
	if err := c.Predictions.InsertBatch(predictions); err != nil {
		return fmt.Errorf("failed to record predictions of %s: %w", run.Name, err)
	}
	return nil
}

// Forget removes run from the catalog.
func (c *Catalog) Forget(name string) error {
	return c.Runs.DeleteByName(name)
}
