package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polo/internal/logger"
	"polo/internal/model"
)

type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	failOn  map[int]bool
	release chan struct{}
}

func (f *fakeClassifier) Classify(ctx context.Context, ref ImageRef) (model.Classification, map[model.Classification]float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failOn[ref.Well] {
		return "", nil, fmt.Errorf("model rejected well %d", ref.Well)
	}
	return model.ClassCrystals, map[model.Classification]float64{model.ClassCrystals: 0.9, model.ClassClear: 0.1}, nil
}

func newRun(name string, spectrum model.Spectrum, n int) *model.Run {
	run := &model.Run{Name: name, Spectrum: spectrum}
	for i := 1; i <= n; i++ {
		run.Images = append(run.Images, &model.Image{WellNumber: i, InlineBytes: []byte{byte(i)}})
	}
	return run
}

func drain(task *Task) []Progress {
	var got []Progress
	for p := range task.Progress() {
		got = append(got, p)
	}
	return got
}

func TestProgressAndEstimate(t *testing.T) {
	svc := NewService(&fakeClassifier{delay: time.Millisecond}, Options{EstimateEvery: 5, QueueSize: 32}, logger.NewDiscard())
	run := newRun("screen", model.SpectrumVisible, 12)

	task, err := svc.Start(context.Background(), run)
	require.NoError(t, err)
	got := drain(task)
	res := task.Wait()

	require.Len(t, got, 12)
	for i, p := range got {
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, 12, p.Total)
		assert.Equal(t, i+1, p.Well)
		assert.NoError(t, p.Err)
	}
	assert.Zero(t, got[3].Remaining)
	assert.Positive(t, got[4].Remaining)
	assert.Equal(t, got[4].Remaining, got[8].Remaining)
	assert.Zero(t, got[11].Remaining)

	assert.Equal(t, Result{Run: "screen", Classified: 12}, res)
	for _, img := range run.Images {
		assert.Equal(t, model.ClassCrystals, img.MachineClass)
		assert.Contains(t, img.TrustedConfidence(), model.ClassCrystals)
	}
	assert.True(t, run.TryLock(), "run is unlocked after the task")
}

func TestPerImageFailureDoesNotAbort(t *testing.T) {
	svc := NewService(&fakeClassifier{failOn: map[int]bool{3: true}}, Options{QueueSize: 16}, logger.NewDiscard())
	run := newRun("screen", model.SpectrumVisible, 6)
	run.Images = append(run.Images, &model.Image{WellNumber: 7})

	task, err := svc.Start(context.Background(), run)
	require.NoError(t, err)
	got := drain(task)
	res := task.Wait()

	require.Len(t, got, 6)
	assert.Error(t, got[2].Err)
	assert.Equal(t, 5, res.Classified)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, run.Images[2].MachineClass)
	assert.Empty(t, run.Images[6].MachineClass)
}

func TestCancelStopsBetweenImages(t *testing.T) {
	fake := &fakeClassifier{release: make(chan struct{})}
	svc := NewService(fake, Options{}, logger.NewDiscard())
	run := newRun("screen", model.SpectrumVisible, 10)

	task, err := svc.Start(context.Background(), run)
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), run)
	assert.ErrorIs(t, err, ErrRunBusy)

	task.Cancel()
	close(fake.release)
	res := task.Wait()

	assert.True(t, res.Cancelled)
	assert.LessOrEqual(t, res.Classified, 1)
	assert.LessOrEqual(t, fake.calls, 1)
}

func TestStartRejects(t *testing.T) {
	svc := NewService(&fakeClassifier{}, Options{}, logger.NewDiscard())

	_, err := svc.Start(context.Background(), newRun("uv", model.SpectrumUV, 3))
	assert.ErrorIs(t, err, ErrNotClassifiable)

	empty := &model.Run{Name: "empty", Spectrum: model.SpectrumVisible, Images: []*model.Image{{WellNumber: 1}}}
	_, err = svc.Start(context.Background(), empty)
	assert.ErrorIs(t, err, ErrNothingToClassify)
	assert.True(t, empty.TryLock())

	locked := newRun("locked", model.SpectrumVisible, 2)
	locked.Lock()
	_, err = svc.Start(context.Background(), locked)
	assert.ErrorIs(t, err, ErrRunBusy)
}

func TestClassifyRuns(t *testing.T) {
	svc := NewService(&fakeClassifier{}, Options{}, logger.NewDiscard())
	runs := []*model.Run{
		newRun("a", model.SpectrumVisible, 3),
		newRun("b", model.SpectrumVisible, 4),
		newRun("c", model.SpectrumSHG, 4),
	}

	var mu sync.Mutex
	seen := 0
	results, failed := svc.ClassifyRuns(context.Background(), runs, 2, func(*Task) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	assert.Len(t, results, 2)
	assert.Equal(t, 2, seen)
	require.Contains(t, failed, "c")
	assert.True(t, errors.Is(failed["c"], ErrNotClassifiable))
	total := 0
	for _, r := range results {
		total += r.Classified
	}
	assert.Equal(t, 7, total)
}
