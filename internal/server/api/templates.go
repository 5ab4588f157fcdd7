package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/store"
)

// TemplateHandler handles HTTP requests for control templates.
// Expected paths: /api/templates, /api/templates/{id} and
// /api/templates/{id}/train
type TemplateHandler struct {
	store   *store.Store
	trainer *gesture.Trainer
	reload  func() error
}

// NewTemplateHandler creates a TemplateHandler. reload is called after
// every change that affects matching; it may be nil.
func NewTemplateHandler(s *store.Store, reload func() error) *TemplateHandler {
	if reload == nil {
		reload = func() error { return nil }
	}
	return &TemplateHandler{store: s, trainer: gesture.NewTrainer(), reload: reload}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *TemplateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/templates")

	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, parts[0])
		case http.MethodPut:
			h.update(w, r, parts[0])
		case http.MethodDelete:
			h.delete(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2 && parts[1] == "train":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.train(w, r, parts[0])

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type templateRequest struct {
	Name      string  `json:"name"`
	Control   string  `json:"control"`
	Tolerance float64 `json:"tolerance"`
}

type templateResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Control   string  `json:"control"`
	Tolerance float64 `json:"tolerance"`
	Samples   int     `json:"samples"`
	Trained   bool    `json:"trained"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type listTemplatesResponse struct {
	Templates []templateResponse `json:"templates"`
}

func toTemplateResponse(t *store.Template) templateResponse {
	return templateResponse{
		ID:        t.ID,
		Name:      t.Name,
		Control:   t.Control,
		Tolerance: t.Tolerance,
		Samples:   t.Samples,
		Trained:   t.Trained(),
		CreatedAt: formatTime(t.CreatedAt),
		UpdatedAt: formatTime(t.UpdatedAt),
	}
}

func validControl(c string) bool {
	switch gesture.Control(c) {
	case gesture.ControlSpace, gesture.ControlDelete, gesture.ControlConfirmSentence:
		return true
	}
	return false
}

// list handles GET /api/templates.
func (h *TemplateHandler) list(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.Templates().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}

	response := listTemplatesResponse{
		Templates: make([]templateResponse, 0, len(templates)),
	}
	for _, t := range templates {
		response.Templates = append(response.Templates, toTemplateResponse(t))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/templates/{id}.
func (h *TemplateHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	t, ok := h.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(t))
}

// create handles POST /api/templates.
func (h *TemplateHandler) create(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if !validControl(req.Control) {
		writeError(w, http.StatusBadRequest, "Control must be space, delete or confirm_sentence")
		return
	}

	tolerance := req.Tolerance
	if tolerance <= 0 {
		tolerance = gesture.DefaultTolerance
	}

	t := &store.Template{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Control:   req.Control,
		Tolerance: tolerance,
	}
	if err := h.store.Templates().Create(t); err != nil {
		writeError(w, http.StatusConflict, "Failed to create template")
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateResponse(t))
}

// update handles PUT /api/templates/{id}.
func (h *TemplateHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	t, ok := h.lookup(w, id)
	if !ok {
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name != "" {
		t.Name = req.Name
	}
	if req.Control != "" {
		if !validControl(req.Control) {
			writeError(w, http.StatusBadRequest, "Control must be space, delete or confirm_sentence")
			return
		}
		t.Control = req.Control
	}
	if req.Tolerance > 0 {
		t.Tolerance = req.Tolerance
	}

	if err := h.store.Templates().Update(t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update template")
		return
	}
	h.reloadMatcher(w)

	writeJSON(w, http.StatusOK, toTemplateResponse(t))
}

// delete handles DELETE /api/templates/{id}.
func (h *TemplateHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Templates().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}
	h.reloadMatcher(w)

	w.WriteHeader(http.StatusNoContent)
}

// train handles POST /api/templates/{id}/train. It averages the recorded
// samples into the template pose and activates it.
func (h *TemplateHandler) train(w http.ResponseWriter, r *http.Request, id string) {
	t, ok := h.lookup(w, id)
	if !ok {
		return
	}

	raw, err := h.store.Samples().Raw(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load samples")
		return
	}
	if len(raw) < gesture.MinSamples {
		writeError(w, http.StatusBadRequest, "Not enough samples recorded")
		return
	}

	points, err := h.trainer.TrainStatic(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	landmarks, err := json.Marshal(points)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode landmarks")
		return
	}
	if err := h.store.Templates().SetLandmarks(id, landmarks); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save template")
		return
	}
	h.reloadMatcher(w)

	t.Landmarks = landmarks
	writeJSON(w, http.StatusOK, toTemplateResponse(t))
}

func (h *TemplateHandler) lookup(w http.ResponseWriter, id string) (*store.Template, bool) {
	t, err := h.store.Templates().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Template not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get template")
		return nil, false
	}
	return t, true
}

// reloadMatcher refreshes the live matcher. A failure leaves the old
// templates active and is reported in a header so the write still
// succeeds.
func (h *TemplateHandler) reloadMatcher(w http.ResponseWriter) {
	if err := h.reload(); err != nil {
		w.Header().Set("X-Reload-Error", err.Error())
	}
}
