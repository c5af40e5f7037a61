package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polo/internal/config"
	"polo/internal/importer"
	"polo/internal/logger"
	"polo/internal/model"
	"polo/internal/service/classify"
	"polo/internal/service/websocket"
	"polo/internal/storage"
	"polo/internal/storage/memory"
	"polo/internal/xtal"
)

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, ref classify.ImageRef) (model.Classification, map[model.Classification]float64, error) {
	return model.ClassClear, map[model.Classification]float64{model.ClassClear: 0.9, model.ClassOther: 0.1}, nil
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.Config{ClassifyWorkers: 2, AutosaveEvery: time.Hour}
	log := logger.NewDiscard()
	runs := storage.NewRunStore(memory.New(), log)
	buffer := storage.NewBufferService(cfg, log, runs, nil)
	svc := classify.NewService(stubClassifier{}, classify.Options{}, log)

	m, err := NewManager(cfg, svc, runs, buffer, nil, websocket.NewHubService(log), log)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

// writePlate creates an HWI plate directory holding wells 1-3.
func writePlate(t *testing.T, root, stamp, spectrum string) string {
	t.Helper()
	dir := filepath.Join(root, "X000001234"+stamp+"-"+spectrum)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for w := 1; w <= 3; w++ {
		name := fmt.Sprintf("X000001234%04d%sdrop1.jpg", w, stamp[:8])
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0644))
	}
	return dir
}

func TestImportLinksPlates(t *testing.T) {
	m := newManager(t)
	root := t.TempDir()

	later, err := m.ImportDirectory(writePlate(t, root, "202401050930", "jpg"), importer.HWIOptions{})
	require.NoError(t, err)
	earlier, err := m.ImportDirectory(writePlate(t, root, "202401020930", "jpg"), importer.HWIOptions{})
	require.NoError(t, err)
	uv, err := m.ImportDirectory(writePlate(t, root, "202401020930", "uvt"), importer.HWIOptions{})
	require.NoError(t, err)

	assert.Equal(t, 24, earlier.Len())
	assert.Equal(t, later.ID, earlier.Next)
	assert.Equal(t, earlier.ID, later.Previous)
	assert.Equal(t, uv.ID, earlier.AltSpectrum)
	assert.Equal(t, uv.ID, later.AltSpectrum)
	assert.Equal(t, 3, m.GetBufferService().Pending())

	chain, err := m.Linked(later, AxisDate)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, earlier.ID, chain[0].ID)

	_, err = m.Linked(later, "sideways")
	assert.ErrorIs(t, err, ErrUnknownAxis)

	byName, err := m.Run(earlier.Name)
	require.NoError(t, err)
	assert.Same(t, earlier, byName)
	byID, err := m.Run(string(earlier.ID))
	require.NoError(t, err)
	assert.Same(t, earlier, byID)

	_, err = m.ImportDirectory(filepath.Join(root, "X000001234202401020930-jpg"), importer.HWIOptions{})
	assert.ErrorIs(t, err, model.ErrDuplicateRunName)
}

func TestSpliceAndUnsplice(t *testing.T) {
	m := newManager(t)
	root := t.TempDir()

	vis, err := m.ImportDirectory(writePlate(t, root, "202401020930", "jpg"), importer.HWIOptions{})
	require.NoError(t, err)
	uv, err := m.ImportDirectory(writePlate(t, root, "202401030930", "uvt"), importer.HWIOptions{})
	require.NoError(t, err)
	assert.Empty(t, uv.AltSpectrum)

	require.NoError(t, m.Splice(vis))
	assert.Equal(t, vis.ID, uv.AltSpectrum)
	ring, err := m.Linked(vis, AxisSpectrum)
	require.NoError(t, err)
	assert.Len(t, ring, 2)

	require.NoError(t, m.Unsplice(vis))
	assert.Empty(t, uv.AltSpectrum)
	assert.ErrorIs(t, m.Unsplice(vis), ErrNoSplice)
}

func TestSaveRemoveLoad(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	run := &model.Run{Kind: model.RunKindGeneric, Name: "screen", Spectrum: model.SpectrumVisible}
	run.Images = []*model.Image{{WellNumber: 1, InlineBytes: []byte{1}}}
	require.NoError(t, m.AddRun(run))

	_, img, err := m.Image("screen", 1)
	require.NoError(t, err)
	require.NoError(t, m.SetHumanClass(run, img, "crystals"))
	require.NoError(t, m.SetFavorite(run, img, true))

	var verr *model.ValidationError
	assert.True(t, errors.As(m.SetHumanClass(run, img, "sparkly"), &verr))
	_, _, err = m.Image("screen", 9)
	assert.ErrorIs(t, err, ErrImageNotFound)

	info, err := m.SaveRun(ctx, run, xtal.Options{})
	require.NoError(t, err)
	assert.Equal(t, "screen.xtal", info.Key)

	require.NoError(t, m.RemoveRun(ctx, run, false))
	_, err = m.Run("screen")
	assert.ErrorIs(t, err, model.ErrRunNotFound)

	loaded, err := m.LoadRun(ctx, "screen")
	require.NoError(t, err)
	assert.Equal(t, model.ClassCrystals, loaded.Images[0].HumanClass)
	assert.True(t, loaded.Images[0].Favorite)

	require.NoError(t, m.RemoveRun(ctx, loaded, true))
	_, err = m.LoadRun(ctx, "screen")
	var ioerr *xtal.IOError
	assert.True(t, errors.As(err, &ioerr))

	_, err = m.Stats()
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestUpdatesRejectedWhileLocked(t *testing.T) {
	m := newManager(t)
	run := &model.Run{Kind: model.RunKindGeneric, Name: "busy", Spectrum: model.SpectrumVisible}
	run.Images = []*model.Image{{WellNumber: 1, InlineBytes: []byte{1}}}
	require.NoError(t, m.AddRun(run))

	run.Lock()
	defer run.Unlock()
	assert.ErrorIs(t, m.SetFavorite(run, run.Images[0], true), classify.ErrRunBusy)
	_, err := m.SaveRun(context.Background(), run, xtal.Options{})
	assert.ErrorIs(t, err, classify.ErrRunBusy)
}

func TestClassifyTracksTask(t *testing.T) {
	m := newManager(t)
	run := &model.Run{Kind: model.RunKindGeneric, Name: "plate", Spectrum: model.SpectrumVisible}
	for w := 1; w <= 4; w++ {
		run.Images = append(run.Images, &model.Image{WellNumber: w, InlineBytes: []byte{byte(w)}})
	}
	require.NoError(t, m.AddRun(run))
	require.Equal(t, 1, m.GetBufferService().Flush(context.Background()))

	task, err := m.Classify(context.Background(), run)
	require.NoError(t, err)
	res := task.Wait()
	assert.Equal(t, 4, res.Classified)

	require.Eventually(t, func() bool {
		_, running := m.Task(run)
		return !running && m.GetBufferService().Pending() == 1
	}, time.Second, 10*time.Millisecond)
	assert.False(t, m.CancelClassify(run))
	assert.Equal(t, model.ClassClear, run.Images[0].MachineClass)

	results, failed := m.ClassifyAll(context.Background())
	assert.Len(t, results, 1)
	assert.Empty(t, failed)
}

func sampleRun(name string, spectrum model.Spectrum, day int) *model.Run {
	run := &model.Run{Kind: model.RunKindGeneric, Name: name, Spectrum: spectrum, Sample: "S",
		Date: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)}
	run.Images = []*model.Image{{WellNumber: 1, InlineBytes: []byte{1}}}
	return run
}

func TestRemoveRunRelinksSurvivors(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	v1 := sampleRun("v1", model.SpectrumVisible, 1)
	v2 := sampleRun("v2", model.SpectrumVisible, 2)
	v3 := sampleRun("v3", model.SpectrumVisible, 3)
	uv := sampleRun("uv", model.SpectrumUV, 1)
	shg := sampleRun("shg", model.SpectrumSHG, 1)
	oth := sampleRun("oth", model.SpectrumOther, 1)
	for _, r := range []*model.Run{v1, v2, v3, uv, shg, oth} {
		require.NoError(t, m.AddRun(r))
	}
	require.Len(t, m.Arena().LinkedBySpectrum(shg, nil), 3)

	require.NoError(t, m.RemoveRun(ctx, uv, false))
	for _, r := range []*model.Run{shg, oth} {
		assert.Len(t, m.Arena().LinkedBySpectrum(r, nil), 2, r.Name)
	}
	for _, r := range []*model.Run{v1, v2, v3} {
		assert.Equal(t, shg.ID, r.AltSpectrum, r.Name)
	}

	require.NoError(t, m.RemoveRun(ctx, v2, false))
	for _, r := range []*model.Run{v1, v3} {
		chain, err := m.Linked(r, AxisDate)
		require.NoError(t, err)
		var names []string
		for _, c := range chain {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"v1", "v3"}, names, r.Name)
	}
	assert.Equal(t, v3.ID, v1.Next)
	assert.Equal(t, v1.ID, v3.Previous)
}

type gatedClassifier struct {
	release chan struct{}
}

func (g gatedClassifier) Classify(ctx context.Context, _ classify.ImageRef) (model.Classification, map[model.Classification]float64, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
	return model.ClassClear, nil, nil
}

func TestAddRunDoesNotWaitForClassification(t *testing.T) {
	cfg := &config.Config{ClassifyWorkers: 1, AutosaveEvery: time.Hour}
	log := logger.NewDiscard()
	runs := storage.NewRunStore(memory.New(), log)
	gate := gatedClassifier{release: make(chan struct{})}
	m, err := NewManager(cfg, classify.NewService(gate, classify.Options{}, log), runs,
		storage.NewBufferService(cfg, log, runs, nil), nil, websocket.NewHubService(log), log)
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	v1 := sampleRun("v1", model.SpectrumVisible, 1)
	require.NoError(t, m.AddRun(v1))
	_, err = m.Classify(context.Background(), v1)
	require.NoError(t, err)

	v2 := sampleRun("v2", model.SpectrumVisible, 2)
	added := make(chan error, 1)
	go func() { added <- m.AddRun(v2) }()
	select {
	case err := <-added:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AddRun blocked on a run under classification")
	}
	assert.Empty(t, v2.Previous, "busy sample group is left as it was")

	close(gate.release)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, running := m.tasks[v1.ID]
		return !running && !m.relinkPending
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, v2.ID, v1.Next)
	assert.Equal(t, v1.ID, v2.Previous)
}
