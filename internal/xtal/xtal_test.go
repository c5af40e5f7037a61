package xtal

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polo/internal/model"
)

var saved = time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return saved }

func plateRun(wells int) *model.Run {
	date := time.Date(2024, time.January, 2, 9, 30, 0, 0, time.UTC)
	run := &model.Run{
		Kind:         model.RunKindHWI,
		Name:         "X0000012342024010209300-jpg",
		ImageDir:     "/plates/X000001234",
		Date:         date,
		Spectrum:     model.SpectrumVisible,
		PlateID:      "X000001234",
		NumWells:     wells,
		CocktailMenu: "screen-v1",
	}
	for w := 1; w <= wells; w++ {
		img := &model.Image{
			WellNumber: w,
			Path:       filepath.Join("/plates/X000001234", "missing", "well.jpg"),
			Date:       date,
			Spectrum:   model.SpectrumVisible,
			PlateID:    "X000001234",
		}
		run.Images = append(run.Images, img)
	}
	return run
}

func TestRoundTripNinetySixWells(t *testing.T) {
	run := plateRun(96)
	run.Images[0].InlineBytes = []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	run.Images[0].Path = ""
	run.Images[4].SetHumanClass("Crystals")
	run.Images[4].SetMachineClass("Clear")
	run.Images[4].ConfidenceMap = map[model.Classification]float64{model.ClassClear: 0.8, model.ClassCrystals: 0.2}
	run.Images[4].Favorite = true
	run.Images[7].Cocktail = &model.CocktailRef{
		Number: "8", WellAssignment: 8, CommercialCode: "HR2-001", PH: 6.5,
		Reagents: []model.Reagent{{Chemical: "PEG 3350", Concentration: "20 %w/v"}},
	}

	data, err := Serialize(run, Options{Now: fixedNow})
	require.NoError(t, err)

	got, header, err := Deserialize(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, saved, header.SaveTime)
	assert.Equal(t, FormatVersion, header.Version)

	require.Len(t, got.Images, 96)
	assert.Equal(t, run, got)
	assert.Equal(t, model.ClassCrystals, got.Images[4].HumanClass)
	assert.Equal(t, model.ClassClear, got.Images[4].MachineClass)
	assert.NotNil(t, got.Images[4].TrustedConfidence())
	assert.Equal(t, run.Images[0].InlineBytes, got.Images[0].InlineBytes)
	for _, img := range got.Images {
		assert.Empty(t, img.Next)
		assert.Empty(t, img.Previous)
		assert.Empty(t, img.Alt)
	}
}

func TestSerializeLeavesLiveGraphIntact(t *testing.T) {
	run := plateRun(2)
	run.ID, run.Next, run.AltSpectrum = "r1", "r2", "r3"
	run.Images[0].ID, run.Images[0].Alt = "i1", "i9"

	data, err := Serialize(run, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.RunID("r2"), run.Next)
	assert.Equal(t, model.RunID("r3"), run.AltSpectrum)
	assert.Equal(t, model.ImageID("i9"), run.Images[0].Alt)

	got, _, err := Deserialize(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, got.ID)
	assert.Empty(t, got.Next)
	assert.Empty(t, got.AltSpectrum)
	assert.Empty(t, got.Images[0].Alt)
}

func TestHeaderLayout(t *testing.T) {
	data, err := Serialize(plateRun(1), Options{
		Now:  fixedNow,
		Meta: map[string]string{"author": "ada", "notes": "two\nlines", "version": "99"},
	})
	require.NoError(t, err)

	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "<>SAVE TIME: 2024-05-01T10:00:00Z", lines[0])
	assert.Equal(t, "<>VERSION: 1", lines[1])
	assert.Equal(t, "<>AUTHOR: ada", lines[2])
	assert.Equal(t, "<>NOTES: two lines", lines[3])
	assert.Equal(t, Separator, lines[4])
	assert.Len(t, Separator, 79)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(lines[5]), &env))
	assert.Equal(t, TagHWIRun, env.Type)

	header, err := ReadHeader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AUTHOR": "ada", "NOTES": "two lines"}, header.Meta)
}

func TestDeserializeAcceptsCompactHeaders(t *testing.T) {
	data, err := Serialize(&model.Run{Name: "plain"}, Options{})
	require.NoError(t, err)
	_, body, _ := strings.Cut(string(data), Separator+"\n")

	legacy := "<>SAVE TIME:2020-05-04 12:34:56.123456\n<>SOURCE:hwi\n" + Separator + "\n" + body
	run, header, err := Deserialize(strings.NewReader(legacy))
	require.NoError(t, err)
	assert.Equal(t, "plain", run.Name)
	assert.Equal(t, model.RunKindGeneric, run.Kind)
	assert.Equal(t, "hwi", header.Meta["SOURCE"])
	assert.Equal(t, 2020, header.SaveTime.Year())

	bare := Separator + "\n" + body
	_, _, err = Deserialize(strings.NewReader(bare))
	assert.NoError(t, err, "zero header lines are valid")
}

func TestDeserializeMissingSeparator(t *testing.T) {
	data, err := Serialize(plateRun(1), Options{})
	require.NoError(t, err)
	broken := strings.Replace(string(data), Separator+"\n", "", 1)

	_, _, err = Deserialize(strings.NewReader(broken))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptFormat)
	var cerr *CorruptFormatError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Reason, "separator")

	_, _, err = Deserialize(strings.NewReader("<>VERSION: 1\n"))
	assert.ErrorIs(t, err, ErrCorruptFormat)
}

func TestDeserializeUnknownTag(t *testing.T) {
	input := "<>VERSION: 1\n" + Separator + "\n" + `{"type":"polo.mystery","data":{}}`
	_, _, err := Deserialize(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrCorruptFormat)
	assert.Contains(t, err.Error(), "polo.mystery")
}

func TestDeserializeRejectsNonRunBody(t *testing.T) {
	input := Separator + "\n" + `{"type":"polo.image","data":{"well_number":1}}`
	_, _, err := Deserialize(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrCorruptFormat)
}

func TestDeserializeRejectsMalformedBodyAndVersion(t *testing.T) {
	_, _, err := Deserialize(strings.NewReader(Separator + "\n{not json"))
	assert.ErrorIs(t, err, ErrCorruptFormat)

	_, _, err = Deserialize(strings.NewReader("<>VERSION: 7\n" + Separator + "\n{}"))
	assert.ErrorIs(t, err, ErrCorruptFormat)
}

func TestCustomRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TagRun, runDecoder(model.RunKindGeneric))
	assert.Equal(t, []string{TagRun}, reg.Tags())

	data, err := Serialize(plateRun(1), Options{})
	require.NoError(t, err)
	_, _, err = DeserializeWith(bytes.NewReader(data), reg)
	assert.ErrorIs(t, err, ErrCorruptFormat, "hwi runs are unknown to this registry")
}

func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "well1.jpg")
	require.NoError(t, os.WriteFile(imgPath, []byte("pixels"), 0644))

	run := plateRun(1)
	run.Images[0].Path = imgPath
	path := filepath.Join(dir, "out", "run"+Extension)
	require.NoError(t, WriteFile(path, run, Options{InlineImages: true}))
	assert.Empty(t, run.Images[0].InlineBytes, "inlining happens on the copy")

	got, _, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), got.Images[0].InlineBytes)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestReadFileErrors(t *testing.T) {
	_, _, err := ReadFile(filepath.Join(t.TempDir(), "nope.xtal"))
	var ioerr *IOError
	require.True(t, errors.As(err, &ioerr))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.xtal")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0644))
	_, _, err = ReadFile(path)
	var cerr *CorruptFormatError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, path, cerr.Path)
}

func TestExportImages(t *testing.T) {
	run := plateRun(3)
	run.Images[0].Path = ""
	run.Images[0].InlineBytes = []byte("\x89PNG\r\n\x1a\n0000")
	run.Images[2].Path = "/elsewhere/X000001234_0003.jpg"
	run.Images[2].InlineBytes = []byte{0xFF, 0xD8, 0xFF}

	dir := t.TempDir()
	written, err := ExportImages(run, dir)
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, filepath.Join(dir, run.Name+"_well0001.png"), written[0])
	assert.Equal(t, filepath.Join(dir, "X000001234_0003.jpg"), written[1])

	data, err := os.ReadFile(written[1])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, data)
}

func TestExportImagesStaysInDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "a", "b")

	run := &model.Run{Name: "../../evil", Spectrum: model.SpectrumVisible}
	run.Images = []*model.Image{
		{WellNumber: 1, InlineBytes: []byte{0xFF, 0xD8, 0xFF}},
		{WellNumber: 2, Path: "../../../etc/x.jpg", InlineBytes: []byte{0xFF, 0xD8, 0xFF}},
		{WellNumber: 3, Path: "..", InlineBytes: []byte{0xFF, 0xD8, 0xFF}},
	}

	written, err := ExportImages(run, dir)
	require.NoError(t, err)
	require.Len(t, written, 3)
	assert.Equal(t, filepath.Join(dir, "evil_well0001.jpg"), written[0])
	assert.Equal(t, filepath.Join(dir, "x.jpg"), written[1])
	assert.Equal(t, filepath.Join(dir, "evil_well0003.jpg"), written[2])
	for _, path := range written {
		assert.Equal(t, dir, filepath.Dir(path))
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name())
}

func TestExportImagesKeepsDuplicateBaseNames(t *testing.T) {
	run := &model.Run{Name: "screen", Spectrum: model.SpectrumVisible}
	run.Images = []*model.Image{
		{WellNumber: 1, Path: "/day1/drop.jpg", InlineBytes: []byte{1}},
		{WellNumber: 2, Path: "/day2/drop.jpg", InlineBytes: []byte{2}},
		{WellNumber: 3, Path: "/day3/drop.jpg", InlineBytes: []byte{3}},
	}

	dir := t.TempDir()
	written, err := ExportImages(run, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "drop.jpg"),
		filepath.Join(dir, "well0002_drop.jpg"),
		filepath.Join(dir, "well0003_drop.jpg"),
	}, written)

	for i, path := range written {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i + 1)}, data)
	}
}
