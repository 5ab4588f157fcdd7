package server

import (
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/ayusman/mudra/internal/app"
)

const mjpegBoundary = "frame"

// PreviewHandler serves a session's enhanced frames as MJPEG at
// /api/sessions/{id}/preview.
type PreviewHandler struct {
	app *app.App
}

// NewPreviewHandler creates a new PreviewHandler for a.
func NewPreviewHandler(a *app.App) *PreviewHandler {
	return &PreviewHandler{app: a}
}

// ServeHTTP streams frames until the client leaves or the session closes.
func (h *PreviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preview, err := h.app.Preview(sessionFromPath(r.URL.Path, "preview"))
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(mjpegBoundary); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flush()

	preview.Watch(r.Context(), func(jpeg []byte) error {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(jpeg))},
		})
		if err != nil {
			return err
		}
		if _, err := part.Write(jpeg); err != nil {
			return err
		}
		flush()
		return nil
	})
}
