package sqlite

import (
	"fmt"

	"polo/internal/models"
)

// ImageRepository implements repository.ImageRepository for SQLite.
type ImageRepository struct {
	db *DB
}

// NewImageRepository creates a new SQLite image repository.
func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// ReplaceForRun deletes the run's image rows and predictions and inserts
// images in a single transaction. It returns the new row IDs in order.
func (r *ImageRepository) ReplaceForRun(runID int64, images []models.Image) ([]int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM predictions WHERE image_id IN (SELECT id FROM images WHERE run_id = ?)`, runID); err != nil {
		return nil, fmt.Errorf("failed to delete predictions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM images WHERE run_id = ?`, runID); err != nil {
		return nil, fmt.Errorf("failed to delete images: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO images (run_id, well, path, human_class, machine_class, favorite)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(images))
	for _, img := range images {
		res, err := stmt.Exec(runID, img.Well, img.Path, img.HumanClass, img.MachineClass, img.Favorite)
		if err != nil {
			return nil, fmt.Errorf("failed to insert image %d: %w", img.Well, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit images: %w", err)
	}
	return ids, nil
}

const imageColumns = `id, run_id, well, path, human_class, machine_class, favorite`

func (r *ImageRepository) query(query string, args ...interface{}) ([]models.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.RunID, &img.Well, &img.Path, &img.HumanClass, &img.MachineClass, &img.Favorite); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// GetByRun retrieves the image rows of a run in well order.
func (r *ImageRepository) GetByRun(runID int64) ([]models.Image, error) {
	return r.query(`SELECT `+imageColumns+` FROM images WHERE run_id = ? ORDER BY well`, runID)
}

// GetByClass retrieves images across all runs carrying class, by human or
// machine label.
func (r *ImageRepository) GetByClass(class string, human bool) ([]models.Image, error) {
	column := "machine_class"
	if human {
		column = "human_class"
	}
	return r.query(`SELECT `+imageColumns+` FROM images WHERE `+column+` = ? ORDER BY run_id, well`, class)
}
