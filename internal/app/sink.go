package app

import (
	"bytes"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/text"
	"github.com/ayusman/mudra/internal/tts"
)

// OnResult implements pipeline.Sink. It refreshes the preview and
// publishes the frame outcome without its pixels.
func (a *App) OnResult(sessionID string, r *pipeline.Result) {
	if s, err := a.lookup(sessionID); err == nil && s.preview.Watching() && !r.Frame.Empty() {
		buf, err := gocv.IMEncode(".jpg", r.Frame)
		if err == nil {
			s.preview.Set(r.Seq, bytes.Clone(buf.GetBytes()))
			buf.Close()
		}
	}

	if a.hub.Subscribers(sessionID) == 0 {
		return
	}
	out := *r
	out.Frame = gocv.Mat{}
	// Captions are published separately by OnCaption.
	out.Caption = nil
	a.hub.Publish(Event{Type: EventResult, SessionID: sessionID, Result: &out})
}

// OnCaption implements pipeline.Sink. Confirmed sentences are stored
// and handed to the speaker.
func (a *App) OnCaption(sessionID string, u text.Update) {
	a.hub.Publish(Event{Type: EventCaption, SessionID: sessionID, Caption: &u})

	sentence := u.ConfirmedSentence
	if sentence == "" {
		return
	}
	if a.cfg.Store != nil {
		if _, err := a.cfg.Store.Sessions().AppendSentence(sessionID, sentence); err != nil {
			a.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to store sentence")
		}
	}
	if a.speaker != nil {
		a.speaker.Speak(sessionID, sentence)
	}

	a.sentenceMu.RLock()
	hooks := a.onSentence
	a.sentenceMu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID, sentence)
	}
}

func (a *App) onSpeech(u tts.Utterance, audio tts.Audio) {
	a.hub.Publish(Event{Type: EventSpeech, SessionID: u.SessionID, Speech: &audio, Text: u.Text})
}
