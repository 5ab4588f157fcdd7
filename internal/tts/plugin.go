package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayusman/mudra/internal/plugin"
)

// PluginSynthesizer speaks through an external speech plugin.
type PluginSynthesizer struct {
	executor *plugin.Executor
	plugin   *plugin.Plugin
	voice    string
}

// NewPluginSynthesizer uses p, which must support plugin.CapabilitySpeak.
func NewPluginSynthesizer(executor *plugin.Executor, p *plugin.Plugin, voice string) (*PluginSynthesizer, error) {
	if !p.Manifest.Supports(plugin.CapabilitySpeak) {
		return nil, fmt.Errorf("plugin %s cannot speak", p.Manifest.Name)
	}
	return &PluginSynthesizer{executor: executor, plugin: p, voice: voice}, nil
}

// Name implements Synthesizer.
func (s *PluginSynthesizer) Name() string { return "plugin:" + s.plugin.Manifest.Name }

// Synthesize implements Synthesizer. Plugins that play audio themselves
// return no audio bytes.
func (s *PluginSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	resp, err := s.executor.Execute(ctx, s.plugin, &plugin.Request{
		Action: plugin.CapabilitySpeak,
		Text:   text,
		Voice:  s.voice,
	})
	if err != nil {
		return Audio{}, err
	}
	if !resp.Success {
		if resp.Error == "" {
			return Audio{}, errors.New("speech plugin failed")
		}
		return Audio{}, fmt.Errorf("speech plugin: %s", resp.Error)
	}
	return Audio{Data: resp.Audio, MimeType: resp.MimeType}, nil
}
