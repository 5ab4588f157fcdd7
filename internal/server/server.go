// Package server provides the HTTP surface of the captioning service:
// the REST API, live caption WebSockets, MJPEG previews and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/observability"
	"github.com/ayusman/mudra/internal/perf"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	App       *app.App
	// Camera is the local camera feed, when one is configured.
	Camera *app.CameraFeed
}

// Server represents the HTTP server for the captioning service.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    zerolog.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    observability.WithComponent("server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/metrics", observability.Handler())

	if s.config.Store != nil {
		var reload func() error
		if s.config.App != nil {
			reload = s.config.App.LoadTemplates
		}
		templateHandler := api.NewTemplateHandler(s.config.Store, reload)
		samplesHandler := api.NewSamplesHandler(s.config.Store)

		// /api/templates/{id}/samples goes to the samples handler
		templateRouter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/samples") {
				samplesHandler.ServeHTTP(w, r)
				return
			}
			templateHandler.ServeHTTP(w, r)
		})
		s.mux.Handle("/api/templates", templateRouter)
		s.mux.Handle("/api/templates/", templateRouter)

		profileHandler := api.NewProfileHandler(s.config.Store)
		s.mux.Handle("/api/profiles", profileHandler)
		s.mux.Handle("/api/profiles/", profileHandler)
	}

	if s.config.App != nil {
		sessionHandler := api.NewSessionHandler(s.config.App)
		captions := NewCaptionHandler(s.config.App)
		preview := NewPreviewHandler(s.config.App)

		sessionRouter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/events"):
				captions.ServeHTTP(w, r)
			case strings.HasSuffix(r.URL.Path, "/preview"):
				preview.ServeHTTP(w, r)
			default:
				sessionHandler.ServeHTTP(w, r)
			}
		})
		s.mux.Handle("/api/sessions", sessionRouter)
		s.mux.Handle("/api/sessions/", sessionRouter)
	}

	if s.config.Camera != nil {
		s.mux.HandleFunc("/api/camera", s.handleCamera)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status      string                 `json:"status"`
	Uptime      string                 `json:"uptime"`
	Recognition bool                   `json:"recognition"`
	Speech      bool                   `json:"speech"`
	Sessions    map[string]perf.Health `json:"sessions"`
}

// healthRank orders session health from best to worst.
var healthRank = map[perf.Health]int{
	perf.Healthy:   1,
	perf.Degraded:  2,
	perf.Unhealthy: 3,
}

// handleHealth handles GET requests to /api/health. The status is "ok"
// unless a session reports degraded or unhealthy performance.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := healthResponse{
		Status:   "ok",
		Uptime:   time.Since(s.start).Round(time.Second).String(),
		Sessions: make(map[string]perf.Health),
	}

	if a := s.config.App; a != nil {
		response.Recognition = a.Recognition()
		response.Speech = a.Speech()

		worst := perf.Healthy
		for _, info := range a.Sessions() {
			sess, err := a.Session(info.ID)
			if err != nil {
				continue
			}
			health := sess.Metrics().Health
			if health == "" {
				health = perf.Idle
			}
			response.Sessions[info.ID] = health
			if healthRank[health] > healthRank[worst] {
				worst = health
			}
		}
		if worst != perf.Healthy {
			response.Status = string(worst)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

type cameraRequest struct {
	Running *bool  `json:"running"`
	Enabled *bool  `json:"enabled"`
	Profile string `json:"profile"`
}

type cameraResponse struct {
	Running   bool   `json:"running"`
	Enabled   bool   `json:"enabled"`
	SessionID string `json:"session_id,omitempty"`
}

// handleCamera reports and controls the local camera feed.
func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	feed := s.config.Camera

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req cameraRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if req.Enabled != nil {
			feed.SetEnabled(*req.Enabled)
		}
		if req.Running != nil {
			var err error
			if *req.Running {
				_, err = feed.Start(app.SessionOptions{Profile: req.Profile})
			} else {
				err = feed.Stop()
			}
			if err != nil {
				status := http.StatusServiceUnavailable
				if errors.Is(err, store.ErrNotFound) {
					status = http.StatusNotFound
				}
				http.Error(w, err.Error(), status)
				return
			}
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := feed.SessionID()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cameraResponse{Running: id != "", Enabled: feed.Enabled(), SessionID: id})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", addr).Msg("listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
