package turn

import (
	"sync"

	"github.com/dmora/acpbridge"
)

// Turn is a handle on one in-flight turn.
//
// Callers must drain Updates until it closes; the producing goroutine
// blocks once the buffer fills. Outcome is valid after Updates closes.
type Turn struct {
	sessionID string

	updates chan acpbridge.Update
	done    chan struct{}

	finishOnce sync.Once
	outcome    acpbridge.TurnOutcome
	err        error
}

func newTurn(sessionID string, buffer int) *Turn {
	return &Turn{
		sessionID: sessionID,
		updates:   make(chan acpbridge.Update, buffer),
		done:      make(chan struct{}),
	}
}

// SessionID returns the owning session's id.
func (t *Turn) SessionID() string { return t.sessionID }

// Updates returns the update stream. The channel closes when the turn
// ends; Outcome then reports how.
func (t *Turn) Updates() <-chan acpbridge.Update {
	return t.updates
}

// Outcome blocks until the turn ends, then returns how it ended.
// A non-nil error means the turn failed (crashed subprocess, dead
// session) and the outcome value is meaningless; stop reasons,
// including cancellation, arrive with a nil error.
func (t *Turn) Outcome() (acpbridge.TurnOutcome, error) {
	<-t.done
	return t.outcome, t.err
}

// emit delivers one update to the stream.
func (t *Turn) emit(u acpbridge.Update) {
	t.updates <- u
}

// finish records the outcome and closes the stream. Called exactly once.
func (t *Turn) finish(outcome acpbridge.TurnOutcome, err error) {
	t.finishOnce.Do(func() {
		t.outcome = outcome
		t.err = err
		close(t.updates)
		close(t.done)
	})
}

// Collect drains a turn to completion, returning the concatenated text,
// all updates, and the outcome. Convenience for callers that don't need
// streaming delivery.
func Collect(t *Turn) (string, []acpbridge.Update, acpbridge.TurnOutcome, error) {
	var text string
	var updates []acpbridge.Update
	for u := range t.Updates() {
		updates = append(updates, u)
		if u.Type == acpbridge.UpdateTextChunk {
			text += u.Text
		}
	}
	outcome, err := t.Outcome()
	return text, updates, outcome, err
}
