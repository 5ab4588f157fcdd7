package text

import (
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestAssembler() (*Assembler, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewAssembler(DefaultConfig(), clock), clock
}

func spell(a *Assembler, word string) {
	for _, r := range word {
		a.Letter(string(r))
	}
}

var ignoreChanged = cmpopts.IgnoreFields(Update{}, "Changed")

func TestAssembler_InitialState(t *testing.T) {
	a, _ := newTestAssembler()

	want := State{Sentence: []string{}, History: []string{}, Phase: CollectingWord}
	if diff := cmp.Diff(want, a.Snapshot()); diff != "" {
		t.Errorf("initial state mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembler_SpaceConfirmsWord(t *testing.T) {
	a, _ := newTestAssembler()
	spell(a, "HI")

	got := a.Space()

	want := Update{
		Word:          "",
		Sentence:      []string{"HI"},
		Phase:         WordConfirmed,
		ConfirmedWord: "HI",
	}
	if diff := cmp.Diff(want, got, ignoreChanged); diff != "" {
		t.Errorf("space update mismatch (-want +got):\n%s", diff)
	}
	if a.Snapshot().Phase != CollectingSentence {
		t.Errorf("expected collecting_sentence after word confirm, got %s", a.Snapshot().Phase)
	}
}

func TestAssembler_SpaceOnEmptyWordIsNoop(t *testing.T) {
	a, _ := newTestAssembler()
	spell(a, "OK")
	a.Space()
	before := a.Snapshot()

	u := a.Space()

	if u.Changed {
		t.Error("expected no change")
	}
	if diff := cmp.Diff(before, a.Snapshot()); diff != "" {
		t.Errorf("state changed on empty space (-before +after):\n%s", diff)
	}
}

func TestAssembler_Delete(t *testing.T) {
	a, _ := newTestAssembler()
	spell(a, "CAT")

	if u := a.Delete(); u.Word != "CA" || !u.Changed {
		t.Errorf("expected CA after delete, got %+v", u)
	}
	a.Delete()
	a.Delete()
	if u := a.Delete(); u.Word != "" || u.Changed {
		t.Errorf("expected delete on empty word to be a no-op, got %+v", u)
	}
}

func TestAssembler_ConfirmSentence(t *testing.T) {
	a, _ := newTestAssembler()
	spell(a, "HELLO")
	a.Space()
	spell(a, "WORLD")

	got := a.ConfirmSentence()

	want := Update{
		Sentence:          []string{},
		Phase:             SentenceConfirmed,
		ConfirmedWord:     "WORLD",
		ConfirmedSentence: "HELLO WORLD",
	}
	if diff := cmp.Diff(want, got, ignoreChanged); diff != "" {
		t.Errorf("sentence update mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"HELLO WORLD"}, a.Snapshot().History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembler_ConfirmEmptySentence(t *testing.T) {
	a, _ := newTestAssembler()
	if u := a.ConfirmSentence(); u.Changed || u.ConfirmedSentence != "" {
		t.Errorf("expected no-op, got %+v", u)
	}
}

func TestAssembler_DuplicateSentenceSuppressed(t *testing.T) {
	a, clock := newTestAssembler()
	spell(a, "HI")

	// Idle timeouts confirm the word and then the sentence.
	clock.Advance(1600 * time.Millisecond)
	if u := a.Tick(clock.Now()); u.ConfirmedWord != "HI" {
		t.Fatalf("expected word idle confirm, got %+v", u)
	}
	clock.Advance(1500 * time.Millisecond)
	if u := a.Tick(clock.Now()); u.ConfirmedSentence != "HI" {
		t.Fatalf("expected sentence idle confirm, got %+v", u)
	}

	// Immediate re-trigger of the same text.
	spell(a, "HI")
	u := a.ConfirmSentence()
	if !u.Suppressed || u.ConfirmedSentence != "" {
		t.Errorf("expected duplicate to be suppressed, got %+v", u)
	}

	state := a.Snapshot()
	if diff := cmp.Diff([]string{"HI"}, state.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if state.Word != "" || len(state.Sentence) != 0 {
		t.Errorf("expected suppressed sentence to be cleared, got %+v", state)
	}

	// A different sentence afterwards is accepted.
	spell(a, "BYE")
	if u := a.ConfirmSentence(); u.ConfirmedSentence != "BYE" {
		t.Errorf("expected BYE confirmed, got %+v", u)
	}
}

func TestAssembler_IdleTimeouts(t *testing.T) {
	a, clock := newTestAssembler()
	spell(a, "GO")

	clock.Advance(1400 * time.Millisecond)
	if u := a.Tick(clock.Now()); u.Changed {
		t.Errorf("expected nothing before word idle, got %+v", u)
	}

	clock.Advance(200 * time.Millisecond)
	if u := a.Tick(clock.Now()); u.ConfirmedWord != "GO" {
		t.Errorf("expected word confirmed at 1.6s, got %+v", u)
	}

	// Sentence idle counts from the last letter, not the idle confirm.
	clock.Advance(1300 * time.Millisecond) // 2.9s
	if u := a.Tick(clock.Now()); u.Changed {
		t.Errorf("expected nothing before sentence idle, got %+v", u)
	}
	clock.Advance(200 * time.Millisecond) // 3.1s
	if u := a.Tick(clock.Now()); u.ConfirmedSentence != "GO" {
		t.Errorf("expected sentence confirmed at 3.1s, got %+v", u)
	}

	clock.Advance(10 * time.Second)
	if u := a.Tick(clock.Now()); u.Changed {
		t.Errorf("expected idle assembler to stay quiet, got %+v", u)
	}
}

func TestAssembler_IdleTimeoutsInOneTick(t *testing.T) {
	a, clock := newTestAssembler()
	spell(a, "HI")
	a.Space()
	spell(a, "YO")

	// A late tick passes both timeouts at once.
	clock.Advance(5 * time.Second)
	u := a.Tick(clock.Now())

	if u.ConfirmedWord != "YO" {
		t.Errorf("expected confirmed word YO, got %q", u.ConfirmedWord)
	}
	if u.ConfirmedSentence != "HI YO" || u.Phase != SentenceConfirmed {
		t.Errorf("expected sentence HI YO confirmed, got %+v", u)
	}
	if !u.Changed {
		t.Error("expected update to be marked changed")
	}
	if st := a.Snapshot(); st.Word != "" || len(st.Sentence) != 0 {
		t.Errorf("expected word and sentence cleared, got %+v", st)
	}
}

func TestAssembler_ActivityDefersSentenceIdle(t *testing.T) {
	a, clock := newTestAssembler()
	spell(a, "A")
	a.Space()

	clock.Advance(2 * time.Second)
	spell(a, "B")
	clock.Advance(2 * time.Second)
	u := a.Tick(clock.Now())
	if u.ConfirmedWord != "B" || u.ConfirmedSentence != "" {
		t.Errorf("expected only the word confirmed, got %+v", u)
	}

	clock.Advance(time.Second)
	if u := a.Tick(clock.Now()); u.ConfirmedSentence != "A B" {
		t.Errorf("expected A B confirmed 3s after last letter, got %+v", u)
	}
}

func TestAssembler_LabelRouting(t *testing.T) {
	a, _ := newTestAssembler()

	a.Label("H")
	a.Label("I")
	a.Label("none")
	a.Label("X")
	a.Label("delete")
	u := a.Label("space")

	if diff := cmp.Diff([]string{"HI"}, u.Sentence); diff != "" {
		t.Errorf("sentence mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembler_Reset(t *testing.T) {
	a, _ := newTestAssembler()
	spell(a, "ONE")
	a.ConfirmSentence()
	spell(a, "TW")

	a.Reset()

	want := State{Sentence: []string{}, History: []string{}, Phase: CollectingWord}
	if diff := cmp.Diff(want, a.Snapshot()); diff != "" {
		t.Errorf("state after reset mismatch (-want +got):\n%s", diff)
	}

	// Reset also forgets the last sentence for duplicate suppression.
	spell(a, "ONE")
	if u := a.ConfirmSentence(); u.ConfirmedSentence != "ONE" {
		t.Errorf("expected ONE confirmed after reset, got %+v", u)
	}
}

func TestAssembler_HistoryIsCopied(t *testing.T) {
	a, _ := newTestAssembler()
	spell(a, "X")
	a.ConfirmSentence()

	snap := a.Snapshot()
	snap.History[0] = "mutated"

	if a.Snapshot().History[0] != "X" {
		t.Error("expected snapshot history to be a copy")
	}
}
