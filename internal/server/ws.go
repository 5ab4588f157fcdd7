package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/observability"
	"github.com/ayusman/mudra/internal/text"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// snapshotMessage is the first message on a caption feed.
type snapshotMessage struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id"`
	Text      text.State `json:"text"`
}

// clientMessage is what a caption client may send.
type clientMessage struct {
	Action string `json:"action"`
}

// CaptionHandler streams a session's events over a WebSocket at
// /api/sessions/{id}/events. Clients may send {"action":"reset"}.
type CaptionHandler struct {
	app *app.App
	log zerolog.Logger
}

// NewCaptionHandler creates a CaptionHandler for a.
func NewCaptionHandler(a *app.App) *CaptionHandler {
	return &CaptionHandler{app: a, log: observability.WithComponent("ws")}
}

// sessionFromPath extracts {id} from /api/sessions/{id}/{suffix}.
func sessionFromPath(path, suffix string) string {
	path = strings.TrimPrefix(path, "/api/sessions/")
	return strings.TrimSuffix(path, "/"+suffix)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *CaptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := sessionFromPath(r.URL.Path, "events")

	// Subscribe before the lookup: a session closed after this point
	// closes sub, and one closed before it fails the lookup.
	sub := h.app.Hub().Subscribe(id, 0)
	defer sub.Close()

	sess, err := h.app.Session(id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snapshotMessage{Type: "snapshot", SessionID: id, Text: sess.Text()}); err != nil {
		return
	}

	// Reads happen on their own goroutine; all writes stay on this one.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					h.log.Debug().Err(err).Str("session_id", id).Msg("caption client read ended")
				}
				return
			}
			if msg.Action == "reset" {
				sess.ResetText()
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}
