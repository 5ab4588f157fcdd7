package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// DefaultProfile is the profile new sessions start from when none is named.
const DefaultProfile = "default"

// Profile is a named enhancement configuration. Config is stored as the
// JSON encoding of the pipeline's enhancement settings.
type Profile struct {
	Name      string          `json:"name"`
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProfileRepository stores enhancement profiles.
type ProfileRepository struct {
	db *sql.DB
}

// Profiles returns the profile repository for this store.
func (s *Store) Profiles() *ProfileRepository {
	return &ProfileRepository{db: s.db}
}

// Put creates or replaces a profile.
func (r *ProfileRepository) Put(p *Profile) error {
	if len(p.Config) == 0 {
		p.Config = json.RawMessage("{}")
	}
	p.UpdatedAt = time.Now()
	_, err := r.db.Exec(
		`INSERT INTO profiles (name, config, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		p.Name, string(p.Config), p.UpdatedAt,
	)
	return err
}

// Get retrieves a profile by name.
func (r *ProfileRepository) Get(name string) (*Profile, error) {
	p := &Profile{}
	var config string
	err := r.db.QueryRow(
		`SELECT name, config, updated_at FROM profiles WHERE name = ?`, name,
	).Scan(&p.Name, &config, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Config = json.RawMessage(config)
	return p, nil
}

// List returns every profile ordered by name.
func (r *ProfileRepository) List() ([]*Profile, error) {
	rows, err := r.db.Query(`SELECT name, config, updated_at FROM profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p := &Profile{}
		var config string
		if err := rows.Scan(&p.Name, &config, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Config = json.RawMessage(config)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Delete removes a profile.
func (r *ProfileRepository) Delete(name string) error {
	result, err := r.db.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return expectOne(result)
}
