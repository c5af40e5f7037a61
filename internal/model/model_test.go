package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func TestParseClassification(t *testing.T) {
	c, err := ParseClassification("crystals")
	require.NoError(t, err)
	assert.Equal(t, ClassCrystals, c)

	c, err = ParseClassification("")
	require.NoError(t, err)
	assert.Equal(t, Classification(""), c)

	_, err = ParseClassification("Sparkly")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Sparkly", verr.Value)
}

func TestImageSetClassClearsOnInvalid(t *testing.T) {
	img := &Image{}
	img.SetHumanClass("Clear")
	assert.Equal(t, ClassClear, img.HumanClass)

	img.SetHumanClass("not-a-class")
	assert.Equal(t, Classification(""), img.HumanClass)

	img.SetMachineClass("Precipitate")
	img.SetMachineClass("??")
	assert.Equal(t, Classification(""), img.MachineClass)
}

func TestTrustedConfidence(t *testing.T) {
	img := &Image{
		MachineClass:  ClassCrystals,
		ConfidenceMap: map[Classification]float64{ClassClear: 0.9},
	}
	assert.Nil(t, img.TrustedConfidence())

	img.ConfidenceMap[ClassCrystals] = 0.1
	assert.Len(t, img.TrustedConfidence(), 2)
}

func TestParseSpectrum(t *testing.T) {
	assert.Equal(t, SpectrumVisible, ParseSpectrum("jpg"))
	assert.Equal(t, SpectrumUV, ParseSpectrum("uvt"))
	assert.Equal(t, SpectrumSHG, ParseSpectrum("SHG"))
	assert.Equal(t, SpectrumOther, ParseSpectrum("xray"))
	assert.Less(t, SpectrumUV.Rank(), SpectrumSHG.Rank())
	assert.Less(t, SpectrumSHG.Rank(), SpectrumOther.Rank())
}

func TestArenaRejectsDuplicateNames(t *testing.T) {
	a := NewArena()
	require.NoError(t, a.Add(&Run{Name: "plate-1"}))

	err := a.Add(&Run{Name: "plate-1"})
	assert.ErrorIs(t, err, ErrDuplicateRunName)
	assert.Equal(t, 1, a.Len())

	assert.ErrorIs(t, a.Add(&Run{Name: "   "}), ErrInvalidRunName)
}

func TestArenaAssignsIDs(t *testing.T) {
	a := NewArena()
	run := &Run{Name: "r", Images: []*Image{{WellNumber: 1}, nil, {WellNumber: 3}}}
	require.NoError(t, a.Add(run))

	assert.NotEmpty(t, run.ID)
	assert.NotEmpty(t, run.Images[0].ID)
	got, ok := a.Image(run.Images[2].ID)
	require.True(t, ok)
	assert.Same(t, run.Images[2], got)
}

func TestArenaRemoveNullsReferences(t *testing.T) {
	a := NewArena()
	r1 := &Run{Name: "a", Images: []*Image{{WellNumber: 1}}}
	r2 := &Run{Name: "b", Images: []*Image{{WellNumber: 1}}}
	require.NoError(t, a.Add(r1))
	require.NoError(t, a.Add(r2))

	r1.Next, r2.Previous = r2.ID, r1.ID
	r1.AltSpectrum = r2.ID
	r1.Images[0].Next = r2.Images[0].ID
	r1.Images[0].Alt = r2.Images[0].ID

	removed, err := a.Remove(r2.ID)
	require.NoError(t, err)
	assert.Same(t, r2, removed)
	assert.Empty(t, r1.Next)
	assert.Empty(t, r1.AltSpectrum)
	assert.Empty(t, r1.Images[0].Next)
	assert.Empty(t, r1.Images[0].Alt)
	assert.Empty(t, r2.Previous)

	_, ok := a.RunByName("b")
	assert.False(t, ok)

	_, err = a.Remove(r2.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLinkedByDateStopsOnCycle(t *testing.T) {
	a := NewArena()
	runs := []*Run{{Name: "c", Date: day(3)}, {Name: "a", Date: day(1)}, {Name: "b", Date: day(2)}}
	for _, r := range runs {
		require.NoError(t, a.Add(r))
	}
	// a <-> b <-> c plus a corrupt back edge c -> a.
	a1, b, c := runs[1], runs[2], runs[0]
	a1.Next, b.Previous = b.ID, a1.ID
	b.Next, c.Previous = c.ID, b.ID
	c.Next = a1.ID

	got := a.LinkedByDate(b)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, names(got))
}

func TestLinkedBySpectrumRing(t *testing.T) {
	a := NewArena()
	runs := []*Run{
		{Name: "shg", Spectrum: SpectrumSHG, Date: day(1)},
		{Name: "uv", Spectrum: SpectrumUV, Date: day(1)},
		{Name: "other", Spectrum: SpectrumOther, Date: day(1)},
	}
	for _, r := range runs {
		require.NoError(t, a.Add(r))
	}
	runs[0].AltSpectrum = runs[1].ID
	runs[1].AltSpectrum = runs[2].ID
	runs[2].AltSpectrum = runs[0].ID

	for _, start := range runs {
		got := a.LinkedBySpectrum(start, RunBySpectrum)
		assert.Equal(t, []string{"uv", "shg", "other"}, names(got))
	}
}

func TestRunQueries(t *testing.T) {
	run := &Run{Name: "q", Kind: RunKindHWI, PlateID: "X0000012345", Images: []*Image{
		{WellNumber: 1, Path: "1.jpg", HumanClass: ClassCrystals, MachineClass: ClassClear, Favorite: true},
		{WellNumber: 2, Path: "2.jpg", MachineClass: ClassCrystals},
		{WellNumber: 3},
	}}

	assert.Len(t, run.CurrentHits(), 1)

	human := run.ImagesByClassification(true)
	assert.Len(t, human[ClassCrystals], 1)
	assert.Len(t, human[""], 1)

	machine := run.FilterImages(ImageFilter{Classes: []Classification{ClassCrystals}, Machine: true})
	require.Len(t, machine, 1)
	assert.Equal(t, 2, machine[0].WellNumber)

	favs := run.FilterImages(ImageFilter{FavoritesOnly: true})
	require.Len(t, favs, 1)

	img, ok := run.ImageByWell(3)
	require.True(t, ok)
	assert.True(t, img.IsPlaceholder())

	assert.Contains(t, run.Tooltip(), "Plate ID: X0000012345")
}

func TestRunCloneIsDeep(t *testing.T) {
	run := &Run{Name: "c", Images: []*Image{{
		InlineBytes:   []byte{1, 2},
		ConfidenceMap: map[Classification]float64{ClassClear: 1},
		Cocktail:      &CocktailRef{Number: "1", Reagents: []Reagent{{Chemical: "PEG"}}},
	}}}
	c := run.Clone()
	c.Images[0].InlineBytes[0] = 9
	c.Images[0].ConfidenceMap[ClassClear] = 0
	c.Images[0].Cocktail.Reagents[0].Chemical = "salt"

	assert.Equal(t, byte(1), run.Images[0].InlineBytes[0])
	assert.Equal(t, 1.0, run.Images[0].ConfidenceMap[ClassClear])
	assert.Equal(t, "PEG", run.Images[0].Cocktail.Reagents[0].Chemical)
}

func names(runs []*Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.Name
	}
	return out
}

func TestTryLockRunsIsAllOrNothing(t *testing.T) {
	a := &Run{ID: "a", Name: "a"}
	b := &Run{ID: "b", Name: "b"}

	b.Lock()
	unlock, busy := TryLockRuns([]*Run{a, b, a})
	assert.Nil(t, unlock)
	require.Len(t, busy, 1)
	assert.Same(t, b, busy[0])
	assert.True(t, a.TryLock(), "a is released when b is busy")
	a.Unlock()
	b.Unlock()

	unlock, busy = TryLockRuns([]*Run{b, a})
	require.NotNil(t, unlock)
	assert.Empty(t, busy)
	assert.False(t, a.TryLock())
	unlock()
	assert.True(t, b.TryLock())
	b.Unlock()
}
