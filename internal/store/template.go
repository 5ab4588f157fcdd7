package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Template is a control template stored in the database. Landmarks holds
// the trained pose as JSON and is nil until the template is trained.
type Template struct {
	ID        string
	Name      string
	Control   string
	Tolerance float64
	Samples   int
	Landmarks json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trained reports whether the template has landmarks to match against.
func (t *Template) Trained() bool {
	return len(t.Landmarks) > 0 && string(t.Landmarks) != "null"
}

// TemplateRepository provides CRUD operations for control templates.
type TemplateRepository struct {
	db *sql.DB
}

// Templates returns the template repository for this store.
func (s *Store) Templates() *TemplateRepository {
	return &TemplateRepository{db: s.db}
}

const templateColumns = `id, name, control, tolerance, samples, landmarks, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*Template, error) {
	t := &Template{}
	var landmarks sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &t.Control, &t.Tolerance, &t.Samples, &landmarks, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if landmarks.Valid {
		t.Landmarks = json.RawMessage(landmarks.String)
	}
	return t, nil
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// Create inserts a new template into the database.
func (r *TemplateRepository) Create(t *Template) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO templates (`+templateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Control, t.Tolerance, t.Samples, nullJSON(t.Landmarks), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// GetByID retrieves a template by its ID.
func (r *TemplateRepository) GetByID(id string) (*Template, error) {
	t, err := scanTemplate(r.db.QueryRow(
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// GetByName retrieves a template by its name.
func (r *TemplateRepository) GetByName(name string) (*Template, error) {
	t, err := scanTemplate(r.db.QueryRow(
		`SELECT `+templateColumns+` FROM templates WHERE name = ?`, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// List retrieves all templates, newest first.
func (r *TemplateRepository) List() ([]*Template, error) {
	rows, err := r.db.Query(
		`SELECT ` + templateColumns + ` FROM templates ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return templates, nil
}

// Update updates the name, control and tolerance of a template.
func (r *TemplateRepository) Update(t *Template) error {
	t.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE templates SET name = ?, control = ?, tolerance = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, t.Control, t.Tolerance, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// SetLandmarks stores the trained pose of a template.
func (r *TemplateRepository) SetLandmarks(id string, landmarks json.RawMessage) error {
	result, err := r.db.Exec(
		`UPDATE templates SET landmarks = ?, updated_at = ? WHERE id = ?`,
		nullJSON(landmarks), time.Now(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// Delete removes a template and its samples.
func (r *TemplateRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func expectOne(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
