// Package transcript holds the in-memory message list a chat view renders
// and the reducer that folds a turn's event stream into it.
package transcript

import (
	"sync"

	"github.com/soyeahso/codexm/internal/domain"
)

// Transcript is the visible message list of one session. It is safe for
// concurrent use; listeners run after every change, outside the lock.
type Transcript struct {
	mu        sync.Mutex
	messages  []domain.ChatMessage
	waiting   bool
	err       string
	listeners []func()
}

// New returns a transcript seeded with persisted history.
func New(history []domain.ChatMessage) *Transcript {
	return &Transcript{messages: append([]domain.ChatMessage(nil), history...)}
}

// OnChange registers fn to run after each mutation.
func (t *Transcript) OnChange(fn func()) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Transcript) changed() {
	t.mu.Lock()
	listeners := append([]func(){}, t.listeners...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Append adds messages to the end.
func (t *Transcript) Append(msgs ...domain.ChatMessage) {
	t.mu.Lock()
	t.messages = append(t.messages, msgs...)
	t.mu.Unlock()
	t.changed()
}

// Update replaces the content of the message with the given id. It reports
// false if no such message exists.
func (t *Transcript) Update(id, content string) bool {
	t.mu.Lock()
	found := false
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			t.messages[i].Content = content
			found = true
			break
		}
	}
	t.mu.Unlock()
	if found {
		t.changed()
	}
	return found
}

// Message returns the message with the given id.
func (t *Transcript) Message(id string) (domain.ChatMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.messages {
		if m.ID == id {
			return m, true
		}
	}
	return domain.ChatMessage{}, false
}

// Messages returns a copy of the message list.
func (t *Transcript) Messages() []domain.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ChatMessage(nil), t.messages...)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// SetWaiting sets the waiting-for-first-token indicator.
func (t *Transcript) SetWaiting(waiting bool) {
	t.mu.Lock()
	t.waiting = waiting
	t.mu.Unlock()
	t.changed()
}

func (t *Transcript) Waiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waiting
}

// SetError sets the session-level error banner. An empty message clears it.
func (t *Transcript) SetError(msg string) {
	t.mu.Lock()
	t.err = msg
	t.mu.Unlock()
	t.changed()
}

func (t *Transcript) Error() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
