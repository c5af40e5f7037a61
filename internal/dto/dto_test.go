package dto

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polo/internal/model"
	"polo/internal/service/classify"
)

func TestImageInfoMarshalJSON(t *testing.T) {
	img := &model.Image{
		WellNumber: 4,
		Path:       "/plates/w4.jpg",
		Date:       time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC),
		Cocktail: &model.CocktailRef{Number: "4", Reagents: []model.Reagent{
			{Chemical: "NaCl", Concentration: "0.1 M"},
			{Chemical: "Water"},
		}},
	}
	img.SetMachineClass("Crystals")
	img.ConfidenceMap = map[model.Classification]float64{model.ClassCrystals: 0.8}

	data, err := json.Marshal(NewImageInfo(img))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "15-06-2025", out["date"])
	assert.Equal(t, "Crystals", out["machineClass"])
	assert.Equal(t, false, out["placeholder"])
	assert.Equal(t, map[string]any{"Crystals": 0.8}, out["confidence"])
	cocktail := out["cocktail"].(map[string]any)
	assert.Equal(t, []any{"NaCl 0.1 M", "Water"}, cocktail["reagents"])
}

func TestImageInfoHidesUntrustedConfidence(t *testing.T) {
	img := &model.Image{WellNumber: 1}
	img.SetMachineClass("Clear")
	img.ConfidenceMap = map[model.Classification]float64{model.ClassCrystals: 0.8}

	info := NewImageInfo(img)
	assert.Nil(t, info.Confidence)
	assert.True(t, info.Placeholder)
}

func TestRunInfoCounts(t *testing.T) {
	run := &model.Run{Name: "screen", Spectrum: model.SpectrumVisible, Images: []*model.Image{{WellNumber: 1}, {WellNumber: 2}}}
	run.Images[0].SetHumanClass("Precipitate")

	info := NewRunInfo(run)
	assert.Equal(t, 2, info.NumWells)
	assert.Equal(t, 1, info.Human["Precipitate"])

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date":""`)
}

func TestImageFiltersModel(t *testing.T) {
	f := ImageFilters{Classes: "crystals, clear,bogus", Human: true}.Model()
	assert.Equal(t, []model.Classification{model.ClassCrystals, model.ClassClear}, f.Classes)
	assert.True(t, f.Human)
	assert.Empty(t, ImageFilters{}.Model().Classes)
}

func TestProgressMessages(t *testing.T) {
	msg := NewProgressMessage(classify.Progress{Run: "r", Completed: 2, Total: 4, Well: 7, Err: errors.New("boom"), Remaining: 3 * time.Second})
	assert.Equal(t, ProgressMessage{Type: ProgressTypeImage, Run: "r", Completed: 2, Total: 4, Well: 7, Error: "boom", Remaining: 3}, msg)

	done := NewDoneMessage(classify.Result{Run: "r", Classified: 3, Failed: 1, Cancelled: true})
	assert.Equal(t, ProgressTypeDone, done.Type)
	assert.Equal(t, 4, done.Completed)
	assert.Equal(t, "cancelled", done.Error)
}
