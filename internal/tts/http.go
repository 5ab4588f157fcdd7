package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxAudioBytes bounds a synthesis response.
const maxAudioBytes = 16 << 20

// HTTPSynthesizer posts {"text","voice"} as JSON and reads audio bytes
// back.
type HTTPSynthesizer struct {
	url    string
	voice  string
	client *http.Client
}

type httpRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// NewHTTPSynthesizer creates a synthesizer for the endpoint at url.
func NewHTTPSynthesizer(url, voice string, client *http.Client) *HTTPSynthesizer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSynthesizer{url: url, voice: voice, client: client}
}

// Name implements Synthesizer.
func (h *HTTPSynthesizer) Name() string { return "http" }

// Synthesize implements Synthesizer.
func (h *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	body, err := json.Marshal(httpRequest{Text: text, Voice: h.voice})
	if err != nil {
		return Audio{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("post %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Audio{}, fmt.Errorf("speech service returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return Audio{}, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("speech service returned no audio")
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return Audio{Data: data, MimeType: mime}, nil
}
