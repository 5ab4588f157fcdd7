package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/mudra/internal/store"
)

// SamplesHandler records the landmark samples a control template is
// trained from, at /api/templates/{id}/samples.
type SamplesHandler struct {
	store *store.Store
}

// NewSamplesHandler creates a SamplesHandler backed by s.
func NewSamplesHandler(s *store.Store) *SamplesHandler {
	return &SamplesHandler{store: s}
}

type recordSamplesRequest struct {
	Samples []json.RawMessage `json:"samples"`
}

type sampleResponse struct {
	Index     int             `json:"index"`
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"created_at"`
}

// samplesResponse reports a template's samples together with its
// training state, which recording resets.
type samplesResponse struct {
	TemplateID string           `json:"template_id"`
	Trained    bool             `json:"trained"`
	Count      int              `json:"count"`
	Samples    []sampleResponse `json:"samples,omitempty"`
}

// ServeHTTP implements the http.Handler interface.
func (h *SamplesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/templates")
	if len(parts) != 2 || parts[1] != "samples" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.list(w, parts[0])
	case http.MethodPost:
		h.record(w, r, parts[0])
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SamplesHandler) list(w http.ResponseWriter, templateID string) {
	t, err := h.store.Templates().GetByID(templateID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Template not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get template")
		return
	}

	samples, err := h.store.Samples().GetByTemplateID(templateID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list samples")
		return
	}

	resp := samplesResponse{
		TemplateID: t.ID,
		Trained:    t.Trained(),
		Count:      len(samples),
		Samples:    make([]sampleResponse, len(samples)),
	}
	for i, s := range samples {
		resp.Samples[i] = sampleResponse{Index: s.SampleIndex, Data: s.Data, CreatedAt: formatTime(s.CreatedAt)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// record replaces the template's samples. The template must be trained
// again before the new samples take effect.
func (h *SamplesHandler) record(w http.ResponseWriter, r *http.Request, templateID string) {
	var req recordSamplesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "At least one sample is required")
		return
	}

	switch err := h.store.Samples().Replace(templateID, req.Samples); {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Template not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to save samples")
	default:
		writeJSON(w, http.StatusCreated, samplesResponse{TemplateID: templateID, Count: len(req.Samples)})
	}
}
