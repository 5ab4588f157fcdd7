package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Sample represents a recorded template pose stored in the database.
type Sample struct {
	ID          int64           `json:"id"`
	TemplateID  string          `json:"template_id"`
	SampleIndex int             `json:"sample_index"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SampleRepository provides operations for template samples.
type SampleRepository struct {
	db *sql.DB
}

// Samples returns the sample repository for this store.
func (s *Store) Samples() *SampleRepository {
	return &SampleRepository{db: s.db}
}

// Replace swaps every sample of a template for samples in a single
// transaction and updates the template's sample count. Trained landmarks
// are cleared since they no longer describe the recorded poses.
func (r *SampleRepository) Replace(templateID string, samples []json.RawMessage) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT 1 FROM templates WHERE id = ?`, templateID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if _, err := tx.Exec(`DELETE FROM template_samples WHERE template_id = ?`, templateID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO template_samples (template_id, sample_index, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, data := range samples {
		if _, err := stmt.Exec(templateID, i, string(data)); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`UPDATE templates SET samples = ?, landmarks = NULL, updated_at = ? WHERE id = ?`,
		len(samples), time.Now(), templateID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetByTemplateID retrieves all samples for a given template.
func (r *SampleRepository) GetByTemplateID(templateID string) ([]Sample, error) {
	rows, err := r.db.Query(
		`SELECT id, template_id, sample_index, data, created_at
		 FROM template_samples
		 WHERE template_id = ?
		 ORDER BY sample_index`,
		templateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var data string
		if err := rows.Scan(&s.ID, &s.TemplateID, &s.SampleIndex, &data, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Data = json.RawMessage(data)
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// Raw returns the sample payloads of a template in recording order.
func (r *SampleRepository) Raw(templateID string) ([]json.RawMessage, error) {
	samples, err := r.GetByTemplateID(templateID)
	if err != nil {
		return nil, err
	}
	raw := make([]json.RawMessage, len(samples))
	for i, s := range samples {
		raw[i] = s.Data
	}
	return raw, nil
}
