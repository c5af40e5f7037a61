package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"polo/internal/config"
	"polo/internal/repository"
	"polo/internal/repository/sqlite"
	"polo/internal/storage"
)

func openCatalog(cfg *config.Config) (*sqlite.DB, *repository.Catalog, error) {
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return db, &repository.Catalog{
		Runs:        sqlite.NewRunRepository(db),
		Images:      sqlite.NewImageRepository(db),
		Predictions: sqlite.NewPredictionRepository(db),
	}, nil
}

func runCatalogSync(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := commandLogger()

	db, catalog, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := storage.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	runs := storage.NewRunStore(store, log)
	infos, err := runs.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Syncing %d runs from %s into %s\n", len(infos), runs.Driver(), cfg.DatabasePath)
	synced, skipped := 0, 0
	for _, info := range infos {
		run, _, err := runs.LoadKey(cmd.Context(), info.Key)
		if err != nil {
			fmt.Fprintf(out, "⚠️  Skipping %s: %v\n", info.Key, err)
			skipped++
			continue
		}
		if err := catalog.Record(run, info.Key); err != nil {
			fmt.Fprintf(out, "⚠️  Failed to record %s: %v\n", info.Key, err)
			skipped++
			continue
		}
		synced++
	}
	fmt.Fprintf(out, "✅ Synced %d runs, skipped %d\n", synced, skipped)
	return nil
}

func runCatalogStats(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, catalog, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := catalog.Runs.GetStats()
	if err != nil {
		return err
	}
	return writeYAML(cmd, stats)
}
