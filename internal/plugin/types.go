// Package plugin discovers and runs external speech plugins. A plugin is
// a directory holding a plugin.json manifest and an executable that
// reads one JSON request on stdin and writes one JSON response on stdout.
package plugin

import "encoding/json"

// CapabilitySpeak is the capability of plugins that synthesize speech.
const CapabilitySpeak = "speak"

// Manifest describes a plugin and what it can do.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Capabilities []string        `json:"capabilities"`
	Voices       []string        `json:"voices,omitempty"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Supports reports whether the manifest lists capability.
func (m Manifest) Supports(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Request is sent to a plugin on stdin.
type Request struct {
	Action   string          `json:"action"`
	Text     string          `json:"text,omitempty"`
	Voice    string          `json:"voice,omitempty"`
	Language string          `json:"language,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// Response is read from a plugin's stdout. Audio, when present, is
// base64 in JSON.
type Response struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Audio    []byte          `json:"audio,omitempty"`
	MimeType string          `json:"mime_type,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Plugin is a discovered plugin.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
