package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"polo/internal/models"
)

// RunRepository implements repository.RunRepository for SQLite.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new SQLite run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Upsert inserts a run or updates the row with the same name, returning its ID.
func (r *RunRepository) Upsert(run *models.Run) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	savedAt := run.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	_, err := r.db.Conn().Exec(`
		INSERT INTO runs (name, kind, spectrum, plate_id, sample, date, num_wells, store_key, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			spectrum = excluded.spectrum,
			plate_id = excluded.plate_id,
			sample = excluded.sample,
			date = excluded.date,
			num_wells = excluded.num_wells,
			store_key = excluded.store_key,
			saved_at = excluded.saved_at
	`, run.Name, run.Kind, run.Spectrum, run.PlateID, run.Sample, run.Date.UTC(), run.NumWells, run.StoreKey, savedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert run: %w", err)
	}

	var id int64
	if err := r.db.Conn().QueryRow(`SELECT id FROM runs WHERE name = ?`, run.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}
	return id, nil
}

const runColumns = `id, name, kind, spectrum, plate_id, sample, date, num_wells, store_key, saved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (models.Run, error) {
	var run models.Run
	err := s.Scan(&run.ID, &run.Name, &run.Kind, &run.Spectrum, &run.PlateID, &run.Sample,
		&run.Date, &run.NumWells, &run.StoreKey, &run.SavedAt)
	return run, err
}

// GetByName retrieves a run by its name. A missing run returns nil, nil.
func (r *RunRepository) GetByName(name string) (*models.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	run, err := scanRun(r.db.Conn().QueryRow(`SELECT `+runColumns+` FROM runs WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func whereClause(filter *models.RunFilter) (string, []interface{}) {
	query := " WHERE 1=1"
	args := []interface{}{}
	if filter == nil {
		return query, args
	}

	if filter.Spectrum != "" {
		query += " AND spectrum = ?"
		args = append(args, filter.Spectrum)
	}

	if filter.Sample != "" {
		query += " AND sample = ?"
		args = append(args, filter.Sample)
	}

	if filter.PlateID != "" {
		query += " AND plate_id = ?"
		args = append(args, filter.PlateID)
	}

	if !filter.After.IsZero() {
		query += " AND date >= ?"
		args = append(args, filter.After.UTC())
	}

	if !filter.Before.IsZero() {
		query += " AND date <= ?"
		args = append(args, filter.Before.UTC())
	}

	return query, args
}

// GetAll retrieves runs based on filter criteria, newest first.
func (r *RunRepository) GetAll(filter *models.RunFilter) ([]models.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `SELECT ` + runColumns + ` FROM runs` + where + ` ORDER BY date DESC, name`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTotalCount returns the number of runs matching the filter.
func (r *RunRepository) GetTotalCount(filter *models.RunFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM runs`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// GetStats returns statistics about the catalog.
func (r *RunRepository) GetStats() (*models.CatalogStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &models.CatalogStats{
		PerSpectrum: make(map[string]int),
		Human:       make(map[string]int),
		Machine:     make(map[string]int),
	}

	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&stats.TotalRuns); err != nil {
		return nil, err
	}
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM images`).Scan(&stats.TotalImages); err != nil {
		return nil, err
	}

	groups := []struct {
		query string
		into  map[string]int
	}{
		{`SELECT spectrum, COUNT(*) FROM runs GROUP BY spectrum`, stats.PerSpectrum},
		{`SELECT human_class, COUNT(*) FROM images WHERE human_class != '' GROUP BY human_class`, stats.Human},
		{`SELECT machine_class, COUNT(*) FROM images WHERE machine_class != '' GROUP BY machine_class`, stats.Machine},
	}
	for _, g := range groups {
		if err := countInto(r.db.Conn(), g.query, g.into); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func countInto(conn *sql.DB, query string, into map[string]int) error {
	rows, err := conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

// DeleteByName removes a run with its images and predictions.
func (r *RunRepository) DeleteByName(name string) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM predictions WHERE image_id IN (
			SELECT i.id FROM images i JOIN runs r ON r.id = i.run_id WHERE r.name = ?
		)`, name); err != nil {
		return fmt.Errorf("failed to delete predictions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM images WHERE run_id IN (SELECT id FROM runs WHERE name = ?)`, name); err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return tx.Commit()
}
