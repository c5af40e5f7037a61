// Package classify runs an image classifier over the images of a run on a
// background task and reports progress as it goes.
package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polo/internal/logger"
	"polo/internal/metrics"
	"polo/internal/model"
)

var (
	ErrRunBusy           = errors.New("run is locked by another operation")
	ErrNotClassifiable   = errors.New("only visible runs can be classified")
	ErrNothingToClassify = errors.New("run has no images to classify")
)

// ImageRef is what a Classifier sees of an image.
type ImageRef struct {
	Run  string
	Well int
	Path string
	Data []byte
}

// Classifier labels a single image.
type Classifier interface {
	Classify(ctx context.Context, ref ImageRef) (model.Classification, map[model.Classification]float64, error)
}

// Progress is sent after each image. Err is set when that image failed.
// Remaining is the latest time-left estimate, zero until the first sample.
type Progress struct {
	Run       string
	Completed int
	Total     int
	Well      int
	Err       error
	Remaining time.Duration
}

// Result summarizes a finished task.
type Result struct {
	Run        string
	Classified int
	Failed     int
	Cancelled  bool
}

// Options tune the service.
type Options struct {
	// EstimateEvery is the number of images between time-left estimates.
	EstimateEvery int
	// QueueSize bounds the progress channel. Messages are dropped when the
	// reader falls behind.
	QueueSize int
}

// Service starts classification tasks.
type Service struct {
	classifier Classifier
	opts       Options
	logger     *logger.Logger
}

// NewService creates a Service.
func NewService(classifier Classifier, opts Options, logger *logger.Logger) *Service {
	if opts.EstimateEvery <= 0 {
		opts.EstimateEvery = 5
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Service{classifier: classifier, opts: opts, logger: logger}
}

// Task is a running classification of one run.
type Task struct {
	run      *model.Run
	progress chan Progress
	cancel   context.CancelFunc
	done     chan struct{}
	result   Result
}

// Progress returns the progress channel. It is closed when the task ends.
func (t *Task) Progress() <-chan Progress { return t.progress }

// Cancel asks the task to stop after the current image.
func (t *Task) Cancel() { t.cancel() }

// Done is closed when the task ends.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task ends.
func (t *Task) Wait() Result {
	<-t.done
	return t.result
}

// Run returns the run being classified.
func (t *Task) Run() *model.Run { return t.run }

// Start locks run and classifies its images on a new goroutine. The run
// stays locked until the task ends; relinks skip its sample group until then.
func (s *Service) Start(ctx context.Context, run *model.Run) (*Task, error) {
	if !run.Spectrum.IsVisible() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotClassifiable, run.Name, run.Spectrum)
	}
	if !run.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrRunBusy, run.Name)
	}

	var images []*model.Image
	for _, img := range run.Images {
		if img != nil && !img.IsPlaceholder() {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		run.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNothingToClassify, run.Name)
	}

	ctx, cancel := context.WithCancel(ctx)
	task := &Task{
		run:      run,
		progress: make(chan Progress, s.opts.QueueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	metrics.TasksRunning.Inc()
	go func() {
		defer metrics.TasksRunning.Dec()
		defer close(task.done)
		defer close(task.progress)
		defer run.Unlock()
		defer cancel()
		task.result = s.classify(ctx, task, images)
	}()

	s.logger.Info("Classifying %d images of %s", len(images), run.Name)
	return task, nil
}

func (s *Service) classify(ctx context.Context, task *Task, images []*model.Image) Result {
	name := task.run.Name
	res := Result{Run: name}
	total := len(images)

	var remaining time.Duration
	sampleStart := time.Now()
	for i, img := range images {
		if ctx.Err() != nil {
			res.Cancelled = true
			s.logger.Warning("Classification of %s cancelled after %d of %d images", name, i, total)
			return res
		}

		err := s.classifyImage(ctx, name, img)
		if err != nil {
			res.Failed++
			s.logger.Warning("Classifying well %d of %s failed: %v", img.WellNumber, name, err)
		} else {
			res.Classified++
		}

		done := i + 1
		if done%s.opts.EstimateEvery == 0 {
			perImage := time.Since(sampleStart) / time.Duration(s.opts.EstimateEvery)
			remaining = perImage * time.Duration(total-done)
			sampleStart = time.Now()
		}
		if done == total {
			remaining = 0
		}
		task.send(Progress{
			Run:       name,
			Completed: done,
			Total:     total,
			Well:      img.WellNumber,
			Err:       err,
			Remaining: remaining,
		})
	}
	s.logger.Info("Classified %s: %d ok, %d failed", name, res.Classified, res.Failed)
	return res
}

func (s *Service) classifyImage(ctx context.Context, run string, img *model.Image) error {
	data, err := img.Bytes()
	if err != nil {
		metrics.ImagesClassified.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to read image: %w", err)
	}

	start := time.Now()
	label, confidence, err := s.classifier.Classify(ctx, ImageRef{Run: run, Well: img.WellNumber, Path: img.Path, Data: data})
	metrics.ClassifyLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ImagesClassified.WithLabelValues("error").Inc()
		return err
	}

	img.SetMachineClass(string(label))
	img.ConfidenceMap = confidence
	metrics.ImagesClassified.WithLabelValues("ok").Inc()
	return nil
}

func (t *Task) send(p Progress) {
	select {
	case t.progress <- p:
	default:
		metrics.ProgressDropped.Inc()
	}
}

// ClassifyRuns classifies several runs with at most workers tasks at once.
// Runs that cannot start are reported in the returned map and do not stop
// the others. onTask, when set, sees every task that starts.
func (s *Service) ClassifyRuns(ctx context.Context, runs []*model.Run, workers int, onTask func(*Task)) ([]Result, map[string]error) {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	var results []Result
	failed := make(map[string]error)

	for _, run := range runs {
		g.Go(func() error {
			task, err := s.Start(ctx, run)
			if err != nil {
				mu.Lock()
				failed[run.Name] = err
				mu.Unlock()
				return nil
			}
			if onTask != nil {
				onTask(task)
			}
			res := task.Wait()
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, failed
}
