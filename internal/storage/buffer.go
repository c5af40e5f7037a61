package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"polo/internal/config"
	"polo/internal/logger"
	"polo/internal/model"
	"polo/internal/repository"
	"polo/internal/xtal"
)

const (
	// DefaultFlushInterval is used when the config leaves autosave unset.
	DefaultFlushInterval = 30 * time.Second
)

// BufferService collects runs changed in memory and periodically saves them
// to the store and the catalog.
type BufferService struct {
	interval time.Duration
	runs     *RunStore
	catalog  *repository.Catalog
	dirty    map[model.RunID]*model.Run
	mu       sync.Mutex
	logger   *logger.Logger
}

// NewBufferService creates a BufferService. catalog may be nil.
func NewBufferService(config *config.Config, logger *logger.Logger, runs *RunStore, catalog *repository.Catalog) *BufferService {
	interval := config.AutosaveEvery
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &BufferService{
		interval: interval,
		runs:     runs,
		catalog:  catalog,
		dirty:    make(map[model.RunID]*model.Run),
		logger:   logger,
	}
}

// Run flushes on a ticker until ctx is cancelled, then flushes once more.
func (s *BufferService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// MarkDirty queues run for the next flush.
func (s *BufferService) MarkDirty(run *model.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[run.ID] = run
}

// Forget drops run from the queue, e.g. after it was removed.
func (s *BufferService) Forget(id model.RunID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirty, id)
}

// Pending returns the number of queued runs.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// Flush saves every queued run. Runs that are locked, for example while
// being classified, or that fail to save stay queued. It returns the number
// of runs saved.
func (s *BufferService) Flush(ctx context.Context) int {
	s.mu.Lock()
	queued := make([]*model.Run, 0, len(s.dirty))
	for _, run := range s.dirty {
		queued = append(queued, run)
	}
	s.dirty = make(map[model.RunID]*model.Run)
	s.mu.Unlock()

	if len(queued) == 0 {
		return 0
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].Name < queued[j].Name })

	savedCount := 0
	for _, run := range queued {
		if !run.TryLock() {
			s.logger.Info("Run %s is busy, saving it later", run.Name)
			s.requeue(run)
			continue
		}
		err := s.save(ctx, run)
		run.Unlock()
		if err != nil {
			s.logger.Error("Error saving run %s: %v", run.Name, err)
			s.requeue(run)
			continue
		}
		savedCount++
	}

	s.logger.Info("Flushed %d of %d runs", savedCount, len(queued))
	return savedCount
}

func (s *BufferService) save(ctx context.Context, run *model.Run) error {
	info, err := s.runs.Save(ctx, run, xtal.Options{})
	if err != nil {
		return err
	}
	if s.catalog != nil {
		if err := s.catalog.Record(run, info.Key); err != nil {
			s.logger.Error("Error saving run %s to catalog: %v", run.Name, err)
		}
	}
	return nil
}

func (s *BufferService) requeue(run *model.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirty[run.ID]; !ok {
		s.dirty[run.ID] = run
	}
}
