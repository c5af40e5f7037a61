package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"polo/internal/config"
	"polo/internal/importer"
	"polo/internal/logger"
	"polo/internal/model"
	"polo/internal/repository"
	"polo/internal/repository/sqlite"
	"polo/internal/route"
	"polo/internal/service"
	"polo/internal/service/ai"
	"polo/internal/service/classify"
	"polo/internal/service/websocket"
	"polo/internal/storage"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            *sqlite.DB
	classifier    *ai.MarcoClassifier
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	manager       *service.Manager
	watcher       *importer.Watcher
}

func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(cfg)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	catalog := &repository.Catalog{
		Runs:        sqlite.NewRunRepository(db),
		Images:      sqlite.NewImageRepository(db),
		Predictions: sqlite.NewPredictionRepository(db),
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	runs := storage.NewRunStore(store, log)
	buffer := storage.NewBufferService(cfg, log, runs, catalog)
	hub := websocket.NewHubService(log)

	classifier := ai.NewMarcoClassifier(cfg, log) // a missing model only disables classification
	classifyService := classify.NewService(classifier, classify.Options{
		EstimateEvery: cfg.EstimateEvery,
		QueueSize:     cfg.ProgressQueueSize,
	}, log)

	mng, err := service.NewManager(cfg, classifyService, runs, buffer, catalog, hub, log)
	if err != nil {
		classifier.Close()
		db.Close()
		return nil, err
	}

	a := &App{
		config:        cfg,
		logger:        log,
		db:            db,
		classifier:    classifier,
		bufferService: buffer,
		hubService:    hub,
		manager:       mng,
	}
	if cfg.ImportDir != "" {
		a.watcher = importer.NewWatcher(cfg.ImportDir, importer.New(log), mng.ImportOptions, a.addImported, 0, log)
	}
	return a, nil
}

func (a *App) addImported(run *model.Run) {
	if err := a.manager.AddRun(run); err != nil {
		a.logger.Warning("Imported run %s not loaded: %v", run.Name, err)
	}
}

// Run serves HTTP and the background services until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	router := route.SetupRoutes(a.manager, a.config, a.logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("🔬 Polo crystallization server")
	a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
	a.logger.Info("📁 Store: %s", a.manager.GetRunStore().Driver())
	a.logger.Info("🤖 Model: %s (ready: %t)", a.config.ModelPath, a.classifier.Ready())

	g, ctx := errgroup.WithContext(ctx)

	// Start background services
	g.Go(func() error {
		a.hubService.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.bufferService.Run(ctx)
		return nil
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.manager.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) close() {
	if err := a.classifier.Close(); err != nil {
		a.logger.Error("Error closing classifier: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database: %v", err)
	}
}
