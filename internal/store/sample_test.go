package store

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSampleRepository_Replace(t *testing.T) {
	s := newTestStore(t)
	if err := s.Templates().Create(&Template{ID: "t1", Name: "palm", Control: "space"}); err != nil {
		t.Fatalf("failed to create template: %v", err)
	}
	if err := s.Templates().SetLandmarks("t1", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("failed to set landmarks: %v", err)
	}

	first := []json.RawMessage{
		json.RawMessage(`{"landmarks":[],"timestamp":1}`),
		json.RawMessage(`{"landmarks":[],"timestamp":2}`),
	}
	if err := s.Samples().Replace("t1", first); err != nil {
		t.Fatalf("failed to store samples: %v", err)
	}

	tmpl, _ := s.Templates().GetByID("t1")
	if tmpl.Samples != 2 {
		t.Errorf("expected sample count 2, got %d", tmpl.Samples)
	}
	if tmpl.Trained() {
		t.Error("expected new samples to clear trained landmarks")
	}

	second := []json.RawMessage{json.RawMessage(`{"landmarks":[],"timestamp":3}`)}
	if err := s.Samples().Replace("t1", second); err != nil {
		t.Fatalf("failed to replace samples: %v", err)
	}

	samples, err := s.Samples().GetByTemplateID("t1")
	if err != nil {
		t.Fatalf("failed to get samples: %v", err)
	}
	if len(samples) != 1 || samples[0].SampleIndex != 0 {
		t.Fatalf("expected one sample at index 0, got %+v", samples)
	}

	raw, err := s.Samples().Raw("t1")
	if err != nil {
		t.Fatalf("failed to get raw samples: %v", err)
	}
	if string(raw[0]) != string(second[0]) {
		t.Errorf("expected %s, got %s", second[0], raw[0])
	}
}

func TestSampleRepository_UnknownTemplate(t *testing.T) {
	s := newTestStore(t)

	err := s.Samples().Replace("missing", []json.RawMessage{json.RawMessage(`{}`)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	samples, _ := s.Samples().GetByTemplateID("missing")
	if len(samples) != 0 {
		t.Errorf("expected failed replace to roll back, got %d samples", len(samples))
	}
}

func TestSampleRepository_CascadeDelete(t *testing.T) {
	s := newTestStore(t)
	if err := s.Templates().Create(&Template{ID: "t1", Name: "palm", Control: "space"}); err != nil {
		t.Fatalf("failed to create template: %v", err)
	}
	if err := s.Samples().Replace("t1", []json.RawMessage{json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("failed to store samples: %v", err)
	}

	if err := s.Templates().Delete("t1"); err != nil {
		t.Fatalf("failed to delete template: %v", err)
	}

	samples, err := s.Samples().GetByTemplateID("t1")
	if err != nil {
		t.Fatalf("failed to get samples: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("expected samples removed with template, got %d", len(samples))
	}
	if _, err := s.Templates().GetByID("t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
