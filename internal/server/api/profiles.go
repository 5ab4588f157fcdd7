package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/store"
)

// ProfileHandler handles HTTP requests for enhancement profiles.
// Expected paths: /api/profiles and /api/profiles/{name}
type ProfileHandler struct {
	store *store.Store
}

// NewProfileHandler creates a new ProfileHandler with the given store.
func NewProfileHandler(s *store.Store) *ProfileHandler {
	return &ProfileHandler{store: s}
}

type profileResponse struct {
	Name      string                     `json:"name"`
	Config    pipeline.EnhancementConfig `json:"config"`
	UpdatedAt string                     `json:"updated_at"`
}

type listProfilesResponse struct {
	Profiles []profileResponse `json:"profiles"`
}

// ServeHTTP implements the http.Handler interface.
func (h *ProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/profiles")

	switch len(parts) {
	case 0:
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
	case 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, parts[0])
		case http.MethodPut:
			h.put(w, r, parts[0])
		case http.MethodDelete:
			h.delete(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// decodeProfile applies the stored fields over the defaults.
func decodeProfile(p *store.Profile) (profileResponse, error) {
	cfg := pipeline.DefaultEnhancementConfig()
	if err := json.Unmarshal(p.Config, &cfg); err != nil {
		return profileResponse{}, err
	}
	return profileResponse{Name: p.Name, Config: cfg.Validate(), UpdatedAt: formatTime(p.UpdatedAt)}, nil
}

// list handles GET /api/profiles.
func (h *ProfileHandler) list(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.Profiles().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}

	response := listProfilesResponse{Profiles: make([]profileResponse, 0, len(profiles))}
	for _, p := range profiles {
		resp, err := decodeProfile(p)
		if err != nil {
			continue
		}
		response.Profiles = append(response.Profiles, resp)
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/profiles/{name}.
func (h *ProfileHandler) get(w http.ResponseWriter, r *http.Request, name string) {
	p, err := h.store.Profiles().Get(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get profile")
		return
	}

	resp, err := decodeProfile(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored profile is unreadable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// put handles PUT /api/profiles/{name}. Omitted fields take their
// defaults and values are clamped before storing.
func (h *ProfileHandler) put(w http.ResponseWriter, r *http.Request, name string) {
	cfg := pipeline.DefaultEnhancementConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	cfg = cfg.Validate()

	data, err := json.Marshal(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode profile")
		return
	}
	p := &store.Profile{Name: name, Config: data}
	if err := h.store.Profiles().Put(p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save profile")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{Name: name, Config: cfg, UpdatedAt: formatTime(p.UpdatedAt)})
}

// delete handles DELETE /api/profiles/{name}.
func (h *ProfileHandler) delete(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.store.Profiles().Delete(name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
