package sqlite

import (
	"fmt"

	"polo/internal/models"
)

// PredictionRepository implements repository.PredictionRepository for SQLite.
type PredictionRepository struct {
	db *DB
}

// NewPredictionRepository creates a new SQLite prediction repository.
func NewPredictionRepository(db *DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

// InsertBatch adds multiple predictions in a single transaction.
func (r *PredictionRepository) InsertBatch(predictions []models.Prediction) error {
	if len(predictions) == 0 {
		return nil
	}
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO predictions (image_id, label, confidence) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range predictions {
		if _, err := stmt.Exec(p.ImageID, p.Label, p.Confidence); err != nil {
			return fmt.Errorf("failed to insert prediction: %w", err)
		}
	}

	return tx.Commit()
}

// GetByImageID retrieves the predictions of an image, most confident first.
func (r *PredictionRepository) GetByImageID(imageID int64) ([]models.Prediction, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, image_id, label, confidence
		FROM predictions WHERE image_id = ? ORDER BY confidence DESC, label
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []models.Prediction
	for rows.Next() {
		var p models.Prediction
		if err := rows.Scan(&p.ID, &p.ImageID, &p.Label, &p.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

// DeleteByImageID removes all predictions of an image.
func (r *PredictionRepository) DeleteByImageID(imageID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM predictions WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("failed to delete predictions: %w", err)
	}
	return nil
}
