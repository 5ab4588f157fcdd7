package store

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSessionRepository_Lifecycle(t *testing.T) {
	repo := newTestStore(t).Sessions()

	sess := &Session{ID: "s1", Profile: "low-light"}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if sess.Source != SourceRemote {
		t.Errorf("expected default source %q, got %q", SourceRemote, sess.Source)
	}

	got, err := repo.Get("s1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Profile != "low-light" || got.ClosedAt != nil {
		t.Errorf("unexpected session %+v", got)
	}

	if err := repo.Close("s1"); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}
	closed, _ := repo.Get("s1")
	if closed.ClosedAt == nil {
		t.Fatal("expected closed_at to be set")
	}
	first := *closed.ClosedAt

	if err := repo.Close("s1"); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	again, _ := repo.Get("s1")
	if !again.ClosedAt.Equal(first) {
		t.Errorf("expected closed_at to keep %v, got %v", first, again.ClosedAt)
	}

	if err := repo.Close("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionRepository_List(t *testing.T) {
	repo := newTestStore(t).Sessions()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(&Session{ID: id, Source: SourceCamera}); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
	}

	all, err := repo.List(0)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 sessions, got %d", len(all))
	}

	limited, _ := repo.List(2)
	if len(limited) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(limited))
	}
}

func TestSessionRepository_Transcript(t *testing.T) {
	repo := newTestStore(t).Sessions()
	if err := repo.Create(&Session{ID: "s1"}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	for _, text := range []string{"HELLO", "HOW ARE YOU"} {
		if _, err := repo.AppendSentence("s1", text); err != nil {
			t.Fatalf("failed to append sentence: %v", err)
		}
	}

	if _, err := repo.AppendSentence("missing", "LOST"); err == nil {
		t.Error("expected foreign key error for unknown session")
	}

	lines, err := repo.Transcript("s1")
	if err != nil {
		t.Fatalf("failed to read transcript: %v", err)
	}
	if len(lines) != 2 || lines[0].Text != "HELLO" || lines[1].Text != "HOW ARE YOU" {
		t.Errorf("unexpected transcript %+v", lines)
	}
}

func TestProfileRepository(t *testing.T) {
	repo := newTestStore(t).Profiles()

	if _, err := repo.Get(DefaultProfile); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	p := &Profile{Name: "low-light", Config: json.RawMessage(`{"lighting":true,"target_brightness":150}`)}
	if err := repo.Put(p); err != nil {
		t.Fatalf("failed to put profile: %v", err)
	}

	p.Config = json.RawMessage(`{"lighting":false}`)
	if err := repo.Put(p); err != nil {
		t.Fatalf("failed to replace profile: %v", err)
	}

	got, err := repo.Get("low-light")
	if err != nil {
		t.Fatalf("failed to get profile: %v", err)
	}
	if string(got.Config) != `{"lighting":false}` {
		t.Errorf("expected replaced config, got %s", got.Config)
	}

	if err := repo.Put(&Profile{Name: "empty"}); err != nil {
		t.Fatalf("failed to put empty profile: %v", err)
	}
	list, _ := repo.List()
	if len(list) != 2 || list[0].Name != "empty" {
		t.Errorf("expected profiles ordered by name, got %+v", list)
	}

	if err := repo.Delete("low-light"); err != nil {
		t.Fatalf("failed to delete profile: %v", err)
	}
	if err := repo.Delete("low-light"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
