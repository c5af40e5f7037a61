package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polo/internal/model"
	"polo/internal/models"
	"polo/internal/repository"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newCatalog(db *DB) *repository.Catalog {
	return &repository.Catalog{
		Runs:        NewRunRepository(db),
		Images:      NewImageRepository(db),
		Predictions: NewPredictionRepository(db),
	}
}

func TestDatabaseCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	db, err := New(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRunUpsertAndGet(t *testing.T) {
	repo := NewRunRepository(setupTestDB(t))
	date := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	id, err := repo.Upsert(&models.Run{Name: "screen", Kind: "hwi", Spectrum: "Visible", Date: date, NumWells: 96, StoreKey: "screen.xtal"})
	require.NoError(t, err)

	again, err := repo.Upsert(&models.Run{Name: "screen", Kind: "hwi", Spectrum: "UV", Date: date, NumWells: 96, StoreKey: "screen.xtal"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	got, err := repo.GetByName("screen")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "UV", got.Spectrum)
	assert.True(t, date.Equal(got.Date))
	assert.False(t, got.SavedAt.IsZero())

	missing, err := repo.GetByName("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRunFilters(t *testing.T) {
	repo := NewRunRepository(setupTestDB(t))
	for i, spectrum := range []string{"Visible", "UV", "Visible"} {
		_, err := repo.Upsert(&models.Run{
			Name:     string(rune('a' + i)),
			Kind:     "run",
			Spectrum: spectrum,
			Sample:   "lysozyme",
			Date:     time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
			StoreKey: "k",
		})
		require.NoError(t, err)
	}

	runs, err := repo.GetAll(&models.RunFilter{Spectrum: "Visible"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].Name)

	runs, err = repo.GetAll(&models.RunFilter{After: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "c", runs[0].Name)

	count, err := repo.GetTotalCount(&models.RunFilter{Sample: "lysozyme"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.GetTotalCount(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCatalogRecord(t *testing.T) {
	db := setupTestDB(t)
	catalog := newCatalog(db)

	run := &model.Run{Name: "screen", Kind: model.RunKindHWI, Spectrum: model.SpectrumVisible, Sample: "lysozyme"}
	for w := 1; w <= 3; w++ {
		run.Images = append(run.Images, &model.Image{WellNumber: w, Path: "/p.jpg"})
	}
	run.Images[0].SetHumanClass("Crystals")
	run.Images[1].SetMachineClass("Clear")
	run.Images[1].ConfidenceMap = map[model.Classification]float64{model.ClassClear: 0.7, model.ClassOther: 0.3}
	run.Images[2].SetMachineClass("Clear")
	run.Images[2].ConfidenceMap = map[model.Classification]float64{model.ClassOther: 1}

	require.NoError(t, catalog.Record(run, "screen.xtal"))
	require.NoError(t, catalog.Record(run, "screen.xtal"))

	rec, err := catalog.Runs.GetByName("screen")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.NumWells)

	images, err := catalog.Images.GetByRun(rec.ID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, "Crystals", images[0].HumanClass)

	preds, err := catalog.Predictions.GetByImageID(images[1].ID)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "Clear", preds[0].Label)

	preds, err = catalog.Predictions.GetByImageID(images[2].ID)
	require.NoError(t, err)
	assert.Empty(t, preds, "untrusted confidence is not recorded")

	clear, err := catalog.Images.GetByClass("Clear", false)
	require.NoError(t, err)
	assert.Len(t, clear, 2)

	stats, err := catalog.Runs.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 3, stats.TotalImages)
	assert.Equal(t, 2, stats.Machine["Clear"])
	assert.Equal(t, 1, stats.Human["Crystals"])
	assert.Equal(t, 1, stats.PerSpectrum["Visible"])

	require.NoError(t, catalog.Forget("screen"))
	images, err = catalog.Images.GetByRun(rec.ID)
	require.NoError(t, err)
	assert.Empty(t, images)
	require.NoError(t, catalog.Predictions.DeleteByImageID(1))
}
