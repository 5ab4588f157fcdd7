package app

import (
	"sync"

	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/text"
	"github.com/ayusman/mudra/internal/tts"
)

// EventType names what an Event carries.
type EventType string

const (
	EventResult  EventType = "result"
	EventCaption EventType = "caption"
	EventSpeech  EventType = "speech"
	EventClosed  EventType = "closed"
)

// DefaultSubscriberBuffer is the number of events a subscriber may lag
// behind before events are dropped for it.
const DefaultSubscriberBuffer = 32

// Event is one message on a session's live feed.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"session_id"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Caption   *text.Update     `json:"caption,omitempty"`
	Speech    *tts.Audio       `json:"speech,omitempty"`
	Text      string           `json:"text,omitempty"`
}

// Subscription receives the events of one session on C. C is closed
// when the subscription or its session is closed.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	hub     *Hub
	session string
	dropped int
}

// Dropped returns the number of events skipped because C was full.
func (s *Subscription) Dropped() int {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.dropped
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub fans session events out to subscribers. Publishing never blocks;
// a subscriber that falls behind misses events.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe attaches to the events of sessionID.
func (h *Hub) Subscribe(sessionID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, session: sessionID}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[s] = struct{}{}
	return s
}

// Subscribers returns the number of subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Publish delivers e to the subscribers of e.SessionID.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[e.SessionID] {
		select {
		case s.ch <- e:
		default:
			s.dropped++
		}
	}
}

// CloseSession closes every subscription of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[sessionID] {
		close(s.ch)
	}
	delete(h.subs, sessionID)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.session]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.ch)
	if len(set) == 0 {
		delete(h.subs, s.session)
	}
}
