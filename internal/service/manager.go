package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"polo/internal/cocktail"
	"polo/internal/config"
	"polo/internal/importer"
	"polo/internal/linker"
	"polo/internal/logger"
	"polo/internal/metrics"
	"polo/internal/model"
	"polo/internal/models"
	"polo/internal/repository"
	"polo/internal/service/classify"
	"polo/internal/service/websocket"
	"polo/internal/storage"
	"polo/internal/storage/core"
	"polo/internal/xtal"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrUnknownAxis   = errors.New("unknown link axis")
	ErrNoCatalog     = errors.New("catalog disabled")
	ErrNoSplice      = errors.New("run is not spliced")
)

// Link axes accepted by Linked.
const (
	AxisDate     = "date"
	AxisSpectrum = "spectrum"
)

// Manager owns the loaded runs and coordinates the services acting on them.
type Manager struct {
	arena            *model.Arena
	linker           *linker.Linker
	importer         *importer.Importer
	classifyService  *classify.Service
	runStore         *storage.RunStore
	bufferService    *storage.BufferService
	catalog          *repository.Catalog
	websocketService *websocket.HubService
	logger           *logger.Logger

	menu        cocktail.Repository
	menuName    string
	wells       int
	workers     int
	tasks       map[model.RunID]*classify.Task
	splices     map[model.RunID]*linker.Splice
	// relinkPending is set when a relink skipped a busy sample group.
	relinkPending bool
	mu            sync.Mutex
	followersWG sync.WaitGroup
}

// NewManager wires the services together. catalog may be nil. The cocktail
// menu named in the config is loaded once and applied to every HWI import.
func NewManager(config *config.Config, classifyService *classify.Service, runStore *storage.RunStore,
	bufferService *storage.BufferService, catalog *repository.Catalog, websocketService *websocket.HubService,
	logger *logger.Logger) (*Manager, error) {
	arena := model.NewArena()
	manager := &Manager{
		arena:            arena,
		linker:           linker.New(arena, logger),
		importer:         importer.New(logger),
		classifyService:  classifyService,
		runStore:         runStore,
		bufferService:    bufferService,
		catalog:          catalog,
		websocketService: websocketService,
		logger:           logger,
		menu:             cocktail.None,
		wells:            config.DefaultWells,
		workers:          config.ClassifyWorkers,
		tasks:            make(map[model.RunID]*classify.Task),
		splices:          make(map[model.RunID]*linker.Splice),
	}

	if config.CocktailMenu != "" {
		menu, err := cocktail.LoadMenu(config.CocktailMenu)
		if err != nil {
			return nil, err
		}
		manager.menu = menu
		manager.menuName = menu.Name
		logger.Info("Loaded cocktail menu %s with %d cocktails", menu.Name, menu.Len())
	}
	return manager, nil
}

func (m *Manager) Arena() *model.Arena {
	return m.arena
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.websocketService
}

func (m *Manager) GetBufferService() *storage.BufferService {
	return m.bufferService
}

func (m *Manager) GetRunStore() *storage.RunStore {
	return m.runStore
}

// Run resolves a run by id, falling back to its name.
func (m *Manager) Run(ref string) (*model.Run, error) {
	if run, ok := m.arena.Run(model.RunID(ref)); ok {
		return run, nil
	}
	if run, ok := m.arena.RunByName(ref); ok {
		return run, nil
	}
	return nil, fmt.Errorf("%w: %s", model.ErrRunNotFound, ref)
}

// Image resolves the image at a 1-based well of a run.
func (m *Manager) Image(ref string, well int) (*model.Run, *model.Image, error) {
	run, err := m.Run(ref)
	if err != nil {
		return nil, nil, err
	}
	img, ok := run.ImageByWell(well)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s well %d", ErrImageNotFound, run.Name, well)
	}
	return run, img, nil
}

// AddRun loads a run into the arena, relinks, and queues it for saving.
func (m *Manager) AddRun(run *model.Run) error {
	if err := m.addRun(run); err != nil {
		return err
	}
	m.bufferService.MarkDirty(run)
	return nil
}

func (m *Manager) addRun(run *model.Run) error {
	if err := m.arena.Add(run); err != nil {
		return err
	}
	metrics.RunsLoaded.Set(float64(m.arena.Len()))
	m.Relink()
	return nil
}

// ImportOptions returns the import options used for dir.
func (m *Manager) ImportOptions(dir string) importer.HWIOptions {
	return importer.HWIOptions{
		NumWells: m.wells,
		Menu:     m.menu,
		MenuName: m.menuName,
	}
}

// ImportDirectory imports dir as a new run. Zero fields of opts take the
// configured defaults.
func (m *Manager) ImportDirectory(dir string, opts importer.HWIOptions) (*model.Run, error) {
	defaults := m.ImportOptions(dir)
	if opts.NumWells == 0 {
		opts.NumWells = defaults.NumWells
	}
	if opts.Menu == nil {
		opts.Menu, opts.MenuName = defaults.Menu, defaults.MenuName
	}

	run, err := m.importer.Import(dir, opts)
	if err != nil {
		return nil, err
	}
	if err := m.AddRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

// LoadRun reads a saved run from the store into the arena.
func (m *Manager) LoadRun(ctx context.Context, name string) (*model.Run, error) {
	run, _, err := m.runStore.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := m.addRun(run); err != nil {
		return nil, err
	}
	m.logger.Info("Loaded run %s", run.Name)
	return run, nil
}

// SaveRun writes run to the store and the catalog. It fails with
// classify.ErrRunBusy while the run is locked.
func (m *Manager) SaveRun(ctx context.Context, run *model.Run, opts xtal.Options) (core.Info, error) {
	if !run.TryLock() {
		return core.Info{}, fmt.Errorf("%w: %s", classify.ErrRunBusy, run.Name)
	}
	defer run.Unlock()

	info, err := m.runStore.Save(ctx, run, opts)
	if err != nil {
		return core.Info{}, err
	}
	if m.catalog != nil {
		if err := m.catalog.Record(run, info.Key); err != nil {
			m.logger.Error("Error saving run %s to catalog: %v", run.Name, err)
		}
	}
	return info, nil
}

// RemoveRun unloads run. With purge, its saved copy and catalog rows are
// deleted too.
func (m *Manager) RemoveRun(ctx context.Context, run *model.Run, purge bool) error {
	m.mu.Lock()
	if _, busy := m.tasks[run.ID]; busy {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", classify.ErrRunBusy, run.Name)
	}
	if sp, ok := m.splices[run.ID]; ok {
		sp.Undo()
		delete(m.splices, run.ID)
	}
	m.mu.Unlock()

	if _, err := m.arena.Remove(run.ID); err != nil {
		return err
	}
	m.bufferService.Forget(run.ID)
	metrics.RunsLoaded.Set(float64(m.arena.Len()))
	m.Relink()

	if purge {
		if _, err := m.runStore.Delete(ctx, run.Name); err != nil {
			return fmt.Errorf("failed to delete saved run: %w", err)
		}
		if m.catalog != nil {
			if err := m.catalog.Forget(run.Name); err != nil {
				return err
			}
		}
	}
	m.logger.Info("Removed run %s", run.Name)
	return nil
}

// Relink rebuilds every relationship. Splices in relinked groups are
// discarded since the links they would restore no longer exist. Groups with
// a run under classification keep their links and splices, and are relinked
// once the classification ends.
func (m *Manager) Relink() linker.Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := m.linker.Relink()
	kept := make(map[model.RunID]*linker.Splice)
	for _, s := range report.Skipped {
		if sp, ok := m.splices[s.RunID]; ok && s.Reason == linker.ReasonBusy {
			kept[s.RunID] = sp
		}
	}
	m.splices = kept
	m.relinkPending = report.Deferred()
	metrics.LinkPasses.WithLabelValues("linked").Add(float64(len(report.Runs) - len(report.Skipped)))
	metrics.LinkPasses.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	return report
}

// Linked returns the runs reachable from run along axis.
func (m *Manager) Linked(run *model.Run, axis string) ([]*model.Run, error) {
	switch axis {
	case AxisDate, "":
		return m.arena.LinkedByDate(run), nil
	case AxisSpectrum:
		return m.arena.LinkedBySpectrum(run, model.RunBySpectrum), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAxis, axis)
	}
}

// Splice inserts a visible run into its spectrum ring. A run spliced
// earlier is restored first.
func (m *Manager) Splice(run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.splices[run.ID]; ok {
		prev.Undo()
		delete(m.splices, run.ID)
	}
	sp, err := m.linker.SpliceIntoRing(run)
	if err != nil {
		return err
	}
	m.splices[run.ID] = sp
	return nil
}

// Unsplice undoes the splice of run.
func (m *Manager) Unsplice(run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sp, ok := m.splices[run.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSplice, run.Name)
	}
	sp.Undo()
	delete(m.splices, run.ID)
	return nil
}

// Classify starts classifying run. Progress is broadcast to websocket
// viewers and the run is queued for saving once the task ends.
func (m *Manager) Classify(ctx context.Context, run *model.Run) (*classify.Task, error) {
	task, err := m.classifyService.Start(ctx, run)
	if err != nil {
		return nil, err
	}
	m.track(task)
	return task, nil
}

// ClassifyAll classifies every loaded visible run, a bounded number at a time.
func (m *Manager) ClassifyAll(ctx context.Context) ([]classify.Result, map[string]error) {
	var runs []*model.Run
	for _, run := range m.arena.Runs() {
		if run.Spectrum.IsVisible() {
			runs = append(runs, run)
		}
	}
	return m.classifyService.ClassifyRuns(ctx, runs, m.workers, m.track)
}

func (m *Manager) track(task *classify.Task) {
	run := task.Run()
	m.mu.Lock()
	m.tasks[run.ID] = task
	m.mu.Unlock()

	m.followersWG.Add(1)
	go func() {
		defer m.followersWG.Done()
		m.websocketService.Follow(task)

		m.mu.Lock()
		if m.tasks[run.ID] == task {
			delete(m.tasks, run.ID)
		}
		pending := m.relinkPending
		m.mu.Unlock()
		m.bufferService.MarkDirty(run)
		if pending {
			m.Relink()
		}
	}()
}

// Task returns the running classification of run.
func (m *Manager) Task(run *model.Run) (*classify.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[run.ID]
	return task, ok
}

// CancelClassify stops the classification of run. It reports whether one
// was running.
func (m *Manager) CancelClassify(run *model.Run) bool {
	task, ok := m.Task(run)
	if ok {
		task.Cancel()
	}
	return ok
}

// SetHumanClass labels the image at well. An empty label clears it.
func (m *Manager) SetHumanClass(run *model.Run, img *model.Image, label string) error {
	class, err := model.ParseClassification(label)
	if err != nil {
		return err
	}
	return m.updateImage(run, func() { img.HumanClass = class })
}

// SetFavorite flags or unflags the image at well.
func (m *Manager) SetFavorite(run *model.Run, img *model.Image, favorite bool) error {
	return m.updateImage(run, func() { img.Favorite = favorite })
}

func (m *Manager) updateImage(run *model.Run, update func()) error {
	if !run.TryLock() {
		return fmt.Errorf("%w: %s", classify.ErrRunBusy, run.Name)
	}
	update()
	run.Unlock()
	m.bufferService.MarkDirty(run)
	return nil
}

// Stats returns the catalog summary of saved runs.
func (m *Manager) Stats() (*models.CatalogStats, error) {
	if m.catalog == nil {
		return nil, ErrNoCatalog
	}
	return m.catalog.Runs.GetStats()
}

// SavedRuns lists catalog entries matching filter.
func (m *Manager) SavedRuns(filter *models.RunFilter) ([]models.Run, int, error) {
	if m.catalog == nil {
		return nil, 0, ErrNoCatalog
	}
	runs, err := m.catalog.Runs.GetAll(filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.catalog.Runs.GetTotalCount(filter)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// Stop cancels running classifications and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, task := range m.tasks {
		task.Cancel()
	}
	m.mu.Unlock()
	m.followersWG.Wait()
	m.logger.Info("All classification tasks stopped")
}
