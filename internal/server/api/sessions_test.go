package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/text"
	"github.com/ayusman/mudra/internal/timeutil"
)

func newTestApp(t *testing.T, s *store.Store) *app.App {
	t.Helper()
	a := app.New(app.Config{
		Store: s,
		Clock: timeutil.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	t.Cleanup(func() { a.Close() })
	return a
}

func createSession(t *testing.T, h http.Handler, body any) app.SessionInfo {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/sessions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body)
	}
	return decode[sessionResponse](t, rec).SessionInfo
}

func TestSessionHandler_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	handler := NewSessionHandler(newTestApp(t, s))

	info := createSession(t, handler, nil)
	if info.ID == "" {
		t.Fatal("expected a session ID")
	}
	if info.Config != pipeline.DefaultEnhancementConfig() {
		t.Errorf("expected default config, got %+v", info.Config)
	}

	rec := do(t, handler, http.MethodGet, "/api/sessions", nil)
	if list := decode[listSessionsResponse](t, rec); len(list.Sessions) != 1 {
		t.Errorf("expected 1 session, got %d", len(list.Sessions))
	}

	rec = do(t, handler, http.MethodGet, "/api/sessions/"+info.ID, nil)
	got := decode[sessionResponse](t, rec)
	if got.Text == nil || got.Text.Word != "" {
		t.Errorf("expected empty text state, got %+v", got.Text)
	}

	rec = do(t, handler, http.MethodGet, "/api/sessions/"+info.ID+"/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if m := decode[pipeline.Metrics](t, rec); m.Recognition {
		t.Error("expected recognition off without a detector")
	}

	rec = do(t, handler, http.MethodGet, "/api/sessions/"+info.ID+"/history", nil)
	if h := decode[historyResponse](t, rec); h.Samples == nil {
		t.Error("expected an empty samples array")
	}

	rec = do(t, handler, http.MethodPost, "/api/sessions/"+info.ID+"/reset", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if u := decode[text.Update](t, rec); u.Phase != text.CollectingWord {
		t.Errorf("expected phase %s after reset, got %s", text.CollectingWord, u.Phase)
	}

	rec = do(t, handler, http.MethodGet, "/api/sessions/"+info.ID+"/transcript", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"sentences":[]`)) {
		t.Errorf("expected empty transcript, got %d %s", rec.Code, rec.Body)
	}

	rec = do(t, handler, http.MethodDelete, "/api/sessions/"+info.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/api/sessions/"+info.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSessionHandler_Config(t *testing.T) {
	handler := NewSessionHandler(newTestApp(t, newTestStore(t)))
	info := createSession(t, handler, `{"config": {"lighting_enabled": false, "blur_intensity": 3}}`)

	if info.Config.Lighting || info.Config.BlurIntensity != 3 {
		t.Errorf("expected config from request, got %+v", info.Config)
	}

	rec := do(t, handler, http.MethodPut, "/api/sessions/"+info.ID+"/config", `{"face_target_size": 0.9}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	cfg := decode[pipeline.EnhancementConfig](t, rec)
	if cfg.FaceTargetSize != 0.40 {
		t.Errorf("expected face size clamped to 0.40, got %f", cfg.FaceTargetSize)
	}
	if cfg.BlurIntensity != 3 {
		t.Errorf("expected omitted fields to keep their values, got blur %d", cfg.BlurIntensity)
	}

	rec = do(t, handler, http.MethodGet, "/api/sessions/"+info.ID+"/config", nil)
	if got := decode[pipeline.EnhancementConfig](t, rec); got != cfg {
		t.Errorf("expected %+v, got %+v", cfg, got)
	}
}

func TestSessionHandler_Errors(t *testing.T) {
	handler := NewSessionHandler(newTestApp(t, newTestStore(t)))
	info := createSession(t, handler, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown profile", http.MethodPost, "/api/sessions", `{"profile": "nope"}`, http.StatusNotFound},
		{"invalid JSON", http.MethodPost, "/api/sessions", "{", http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/api/sessions/nope/metrics", nil, http.StatusNotFound},
		{"unknown session frame", http.MethodPost, "/api/sessions/nope/frames", "x", http.StatusNotFound},
		{"undecodable frame", http.MethodPost, "/api/sessions/" + info.ID + "/frames", "not an image", http.StatusBadRequest},
		{"bad config JSON", http.MethodPut, "/api/sessions/" + info.ID + "/config", "{", http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/sessions/" + info.ID + "/reset", nil, http.StatusMethodNotAllowed},
		{"unknown action", http.MethodGet, "/api/sessions/" + info.ID + "/nope", nil, http.StatusNotFound},
		{"collection method", http.MethodPut, "/api/sessions", nil, http.StatusMethodNotAllowed},
		{"close unknown", http.MethodDelete, "/api/sessions/nope", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, handler, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestSessionHandler_Frames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}
	handler := NewSessionHandler(newTestApp(t, newTestStore(t)))
	info := createSession(t, handler, nil)

	img := capture.SolidFrame(48, 64, 40, 40, 40)
	defer img.Close()
	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+info.ID+"/frames", bytes.NewReader(data))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, rec.Code, rec.Body)
	}
	if got := decode[frameResponse](t, rec); got.Dropped != 0 {
		t.Errorf("expected no dropped frames, got %d", got.Dropped)
	}
}
