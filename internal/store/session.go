package store

import (
	"database/sql"
	"errors"
	"time"
)

// Session sources.
const (
	SourceRemote = "remote"
	SourceCamera = "camera"
)

// Session is the persisted record of a captioning session.
type Session struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Profile   string     `json:"profile,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Sentence is one confirmed transcript line.
type Sentence struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRepository records sessions and their transcript.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new open session.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.Source == "" {
		sess.Source = SourceRemote
	}
	sess.CreatedAt = time.Now()
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, source, profile, created_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Source, sess.Profile, sess.CreatedAt,
	)
	return err
}

// Get retrieves a session by its ID.
func (r *SessionRepository) Get(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(
		`SELECT id, source, profile, created_at, closed_at FROM sessions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns the most recent sessions, newest first.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT id, source, profile, created_at, closed_at FROM sessions
		 ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Close marks a session closed. Closing twice keeps the first time.
func (r *SessionRepository) Close(id string) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET closed_at = COALESCE(closed_at, ?) WHERE id = ?`, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// AppendSentence adds a confirmed sentence to the session transcript.
func (r *SessionRepository) AppendSentence(sessionID, text string) (*Sentence, error) {
	s := &Sentence{SessionID: sessionID, Text: text, CreatedAt: time.Now()}
	result, err := r.db.Exec(
		`INSERT INTO transcript (session_id, text, created_at) VALUES (?, ?, ?)`,
		s.SessionID, s.Text, s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.ID, err = result.LastInsertId(); err != nil {
		return nil, err
	}
	return s, nil
}

// Transcript returns the confirmed sentences of a session in order.
func (r *SessionRepository) Transcript(sessionID string) ([]Sentence, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, text, created_at FROM transcript
		 WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sentences []Sentence
	for rows.Next() {
		var s Sentence
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Text, &s.CreatedAt); err != nil {
			return nil, err
		}
		sentences = append(sentences, s)
	}
	return sentences, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var closed sql.NullTime
	if err := row.Scan(&sess.ID, &sess.Source, &sess.Profile, &sess.CreatedAt, &closed); err != nil {
		return nil, err
	}
	if closed.Valid {
		t := closed.Time
		sess.ClosedAt = &t
	}
	return sess, nil
}
