// Package tray puts the local camera captioner in the system tray.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// maxSentenceRunes bounds the caption shown in the menu.
const maxSentenceRunes = 40

// Callbacks are invoked from the tray's event goroutine.
type Callbacks struct {
	// OnToggle is called with the new captioning state.
	OnToggle func(enabled bool)
	// OnClear clears the current caption text.
	OnClear func()
	// OnOpen opens the web interface.
	OnOpen func()
	// OnQuit is called before the tray exits.
	OnQuit func()
}

// Tray is the system tray menu.
type Tray struct {
	mu        sync.RWMutex
	callbacks Callbacks
	enabled   bool
	last      string

	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New creates a Tray with captioning enabled.
func New(callbacks Callbacks) *Tray {
	return &Tray{callbacks: callbacks, enabled: true}
}

// Run starts the tray. It blocks until Quit is clicked or systray.Quit
// is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra sign language captions")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Pause or resume captioning")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem(lastTitle(t.last), "Last confirmed sentence")
	t.menuLast.Disable()
	t.mu.Unlock()

	menuClear := systray.AddMenuItem("Clear captions", "Discard the current word and sentence")
	menuOpen := systray.AddMenuItem("Open captions...", "Open the caption view in a browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.toggle()
			case <-menuClear.ClickedCh:
				call(t.callbacks.OnClear)
			case <-menuOpen.ClickedCh:
				call(t.callbacks.OnOpen)
			case <-menuQuit.ClickedCh:
				call(t.callbacks.OnQuit)
				t.Quit()
				return
			}
		}
	}()
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func (t *Tray) toggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	t.menuToggle.SetTitle(toggleTitle(enabled))
	t.mu.Unlock()

	// Outside the lock: the callback may call back into the tray.
	if t.callbacks.OnToggle != nil {
		t.callbacks.OnToggle(enabled)
	}
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// SetLastSentence shows sentence as the most recent caption.
func (t *Tray) SetLastSentence(sentence string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = sentence
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(sentence))
	}
}

// Enabled reports whether captioning is on.
func (t *Tray) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Captioning"
	}
	return "○ Paused"
}

func lastTitle(sentence string) string {
	if sentence == "" {
		return "Last: none"
	}
	r := []rune(sentence)
	if len(r) > maxSentenceRunes {
		return "Last: " + string(r[:maxSentenceRunes-1]) + "…"
	}
	return "Last: " + sentence
}
