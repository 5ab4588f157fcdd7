// Package text assembles confirmed letters and control gestures into
// words and sentences.
package text

import (
	"strings"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/timeutil"
)

// Phase is the assembler's position in the word/sentence cycle.
type Phase string

const (
	CollectingWord     Phase = "collecting_word"
	WordConfirmed      Phase = "word_confirmed"
	CollectingSentence Phase = "collecting_sentence"
	SentenceConfirmed  Phase = "sentence_confirmed"
)

// Config holds the idle timeouts.
type Config struct {
	// WordIdle confirms a non-empty word after this long without activity.
	WordIdle time.Duration `yaml:"word_idle"`
	// SentenceIdle confirms a non-empty sentence after this long without
	// user activity. Idle word confirmation does not restart it.
	SentenceIdle time.Duration `yaml:"sentence_idle"`
}

// DefaultConfig returns 1.5s word idle and 3s sentence idle.
func DefaultConfig() Config {
	return Config{WordIdle: 1500 * time.Millisecond, SentenceIdle: 3 * time.Second}
}

// Validate fills zero values with defaults.
func (c *Config) Validate() {
	d := DefaultConfig()
	if c.WordIdle <= 0 {
		c.WordIdle = d.WordIdle
	}
	if c.SentenceIdle <= 0 {
		c.SentenceIdle = d.SentenceIdle
	}
}

// State is a copy of the assembled text.
type State struct {
	Word     string   `json:"word"`
	Sentence []string `json:"sentence"`
	History  []string `json:"history"`
	Phase    Phase    `json:"phase"`
}

// Update is the caption delta produced by one event.
type Update struct {
	Word     string   `json:"word"`
	Sentence []string `json:"sentence"`
	Phase    Phase    `json:"phase"`
	// ConfirmedWord is set when a word moved into the sentence.
	ConfirmedWord string `json:"confirmed_word,omitempty"`
	// ConfirmedSentence is set when a sentence entered the history. The
	// caller dispatches speech for it.
	ConfirmedSentence string `json:"confirmed_sentence,omitempty"`
	// Suppressed is set when a confirmed sentence repeated the previous
	// one and was dropped.
	Suppressed bool `json:"suppressed,omitempty"`
	Changed    bool `json:"-"`
}

// Assembler is the per-session text state machine. It is safe for
// concurrent use so captions can be reset from outside the session
// worker.
type Assembler struct {
	mu    sync.Mutex
	cfg   Config
	clock timeutil.Clock

	word     []rune
	sentence []string
	history  []string
	last     string
	phase    Phase

	// lastWordActivity restarts on every event; lastUserActivity does not
	// restart when a word is confirmed by the idle timer.
	lastWordActivity time.Time
	lastUserActivity time.Time
}

// NewAssembler creates an empty assembler.
func NewAssembler(cfg Config, clock timeutil.Clock) *Assembler {
	cfg.Validate()
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Assembler{cfg: cfg, clock: clock, phase: CollectingWord}
}

// Label routes a stability-confirmed classifier label. Letters extend the
// word; space and delete act like their gestures; none is ignored.
func (a *Assembler) Label(label string) Update {
	switch {
	case classifier.IsLetter(label):
		return a.Letter(label)
	case label == classifier.LabelSpace:
		return a.Space()
	case label == classifier.LabelDelete:
		return a.Delete()
	}
	return a.Current()
}

// Letter appends l to the current word.
func (a *Assembler) Letter(l string) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	l = strings.ToUpper(strings.TrimSpace(l))
	if l == "" {
		return a.update()
	}
	a.word = append(a.word, []rune(l)...)
	a.phase = CollectingWord
	a.touch(a.clock.Now())

	u := a.update()
	u.Changed = true
	return u
}

// Space confirms the current word. An empty word is a no-op.
func (a *Assembler) Space() Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	u := a.confirmWord()
	if u.Changed {
		a.touch(now)
	}
	return u
}

// Delete removes the last letter of the current word.
func (a *Assembler) Delete() Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.word) == 0 {
		return a.update()
	}
	a.word = a.word[:len(a.word)-1]
	a.touch(a.clock.Now())

	u := a.update()
	u.Changed = true
	return u
}

// ConfirmSentence confirms any pending word and then the sentence.
func (a *Assembler) ConfirmSentence() Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	u := a.confirmSentence()
	if u.Changed {
		a.touch(now)
	}
	return u
}

// Tick applies the idle timeouts as of now.
func (a *Assembler) Tick(now time.Time) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	sentenceIdle := now.Sub(a.lastUserActivity) >= a.cfg.SentenceIdle
	if len(a.word) > 0 && now.Sub(a.lastWordActivity) >= a.cfg.WordIdle {
		a.lastWordActivity = now
		if sentenceIdle {
			// Both timers expired: one update carries the word and the
			// sentence it completed.
			return a.confirmSentence()
		}
		return a.confirmWord()
	}
	if len(a.word) == 0 && len(a.sentence) > 0 && sentenceIdle {
		return a.confirmSentence()
	}
	return a.update()
}

// Current returns the caption without changing anything.
func (a *Assembler) Current() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.update()
}

// Snapshot returns a copy of the text state.
func (a *Assembler) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		Word:     string(a.word),
		Sentence: append([]string{}, a.sentence...),
		History:  append([]string{}, a.history...),
		Phase:    a.phase,
	}
}

// Reset clears the word, sentence and history.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.word = nil
	a.sentence = nil
	a.history = nil
	a.last = ""
	a.phase = CollectingWord
	a.lastWordActivity = time.Time{}
	a.lastUserActivity = time.Time{}
}

func (a *Assembler) touch(now time.Time) {
	a.lastWordActivity = now
	a.lastUserActivity = now
}

func (a *Assembler) confirmWord() Update {
	if len(a.word) == 0 {
		return a.update()
	}
	w := string(a.word)
	a.sentence = append(a.sentence, w)
	a.word = nil
	a.phase = CollectingSentence

	u := a.update()
	u.Phase = WordConfirmed
	u.ConfirmedWord = w
	u.Changed = true
	return u
}

func (a *Assembler) confirmSentence() Update {
	var word string
	if len(a.word) > 0 {
		word = string(a.word)
		a.sentence = append(a.sentence, word)
		a.word = nil
	}
	if len(a.sentence) == 0 {
		return a.update()
	}

	s := strings.Join(a.sentence, " ")
	a.sentence = nil
	a.phase = CollectingWord

	u := a.update()
	u.ConfirmedWord = word
	u.Changed = true
	if s == a.last {
		u.Suppressed = true
		return u
	}
	a.last = s
	a.history = append(a.history, s)
	u.Phase = SentenceConfirmed
	u.ConfirmedSentence = s
	return u
}

func (a *Assembler) update() Update {
	return Update{
		Word:     string(a.word),
		Sentence: append([]string{}, a.sentence...),
		Phase:    a.phase,
	}
}
