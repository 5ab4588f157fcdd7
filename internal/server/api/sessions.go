package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/perf"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/text"
)

// MaxFrameBytes bounds an uploaded frame.
const MaxFrameBytes = 8 << 20

// SessionHandler handles HTTP requests for captioning sessions.
//
//	GET    /api/sessions                  list live sessions
//	POST   /api/sessions                  create a session
//	GET    /api/sessions/{id}             session info and current text
//	DELETE /api/sessions/{id}             close a session
//	POST   /api/sessions/{id}/frames      submit one JPEG or PNG frame
//	GET    /api/sessions/{id}/metrics     latest performance metrics
//	GET    /api/sessions/{id}/history     retained performance samples
//	POST   /api/sessions/{id}/reset       clear the text state
//	GET    /api/sessions/{id}/config      current enhancement config
//	PUT    /api/sessions/{id}/config      replace the enhancement config
//	GET    /api/sessions/{id}/transcript  confirmed sentences
type SessionHandler struct {
	app *app.App
}

// NewSessionHandler creates a SessionHandler for a.
func NewSessionHandler(a *app.App) *SessionHandler {
	return &SessionHandler{app: a}
}

type createSessionRequest struct {
	Profile string                      `json:"profile"`
	Config  *pipeline.EnhancementConfig `json:"config"`
}

type sessionResponse struct {
	app.SessionInfo
	Text *text.State `json:"text,omitempty"`
}

type listSessionsResponse struct {
	Sessions []app.SessionInfo `json:"sessions"`
}

type frameResponse struct {
	Dropped int `json:"dropped"`
}

type historyResponse struct {
	Samples []perf.Sample `json:"samples"`
}

// ServeHTTP implements the http.Handler interface.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/sessions")

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: h.app.Sessions()})
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.get(w, id)
		case http.MethodDelete:
			h.close(w, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch action, method := parts[1], r.Method; {
	case action == "frames" && method == http.MethodPost:
		h.frame(w, r, id)
	case action == "metrics" && method == http.MethodGet:
		h.metrics(w, id)
	case action == "history" && method == http.MethodGet:
		h.history(w, id)
	case action == "reset" && method == http.MethodPost:
		h.reset(w, id)
	case action == "config" && method == http.MethodGet:
		h.getConfig(w, id)
	case action == "config" && method == http.MethodPut:
		h.putConfig(w, r, id)
	case action == "transcript" && method == http.MethodGet:
		h.transcript(w, id)
	case action == "frames", action == "metrics", action == "history",
		action == "reset", action == "config", action == "transcript":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// sessionError maps app errors to responses.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// create handles POST /api/sessions. An empty body uses the default
// profile.
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	info, err := h.app.CreateSession(app.SessionOptions{Profile: req.Profile, Config: req.Config})
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionInfo: info})
}

func (h *SessionHandler) get(w http.ResponseWriter, id string) {
	info, err := h.app.Info(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	sess, err := h.app.Session(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	state := sess.Text()
	writeJSON(w, http.StatusOK, sessionResponse{SessionInfo: info, Text: &state})
}

func (h *SessionHandler) close(w http.ResponseWriter, id string) {
	if err := h.app.CloseSession(id); err != nil {
		sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// frame handles POST /api/sessions/{id}/frames. The body is the encoded
// image. Frames are queued, so the response only reports how many older
// frames were dropped to make room.
func (h *SessionHandler) frame(w http.ResponseWriter, r *http.Request, id string) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFrameBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Frame too large")
		return
	}

	dropped, err := h.app.SubmitFrame(id, data)
	if err != nil {
		if errors.Is(err, app.ErrSessionNotFound) {
			sessionError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, frameResponse{Dropped: dropped})
}

func (h *SessionHandler) metrics(w http.ResponseWriter, id string) {
	sess, err := h.app.Session(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Metrics())
}

func (h *SessionHandler) history(w http.ResponseWriter, id string) {
	sess, err := h.app.Session(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	samples := sess.Orchestrator().History()
	if samples == nil {
		samples = []perf.Sample{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Samples: samples})
}

func (h *SessionHandler) reset(w http.ResponseWriter, id string) {
	sess, err := h.app.Session(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.ResetText())
}

func (h *SessionHandler) getConfig(w http.ResponseWriter, id string) {
	sess, err := h.app.Session(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Config())
}

// putConfig handles PUT /api/sessions/{id}/config. Omitted fields keep
// their current values.
func (h *SessionHandler) putConfig(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.app.Session(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	cfg := sess.Config()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, sess.UpdateConfig(cfg))
}

func (h *SessionHandler) transcript(w http.ResponseWriter, id string) {
	lines, err := h.app.Transcript(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	if lines == nil {
		lines = []store.Sentence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sentences": lines})
}
