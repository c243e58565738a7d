package dispatch

import (
	"strings"
	"sync"
)

// DefaultMentionLimit caps a mention queue when no limit is configured.
const DefaultMentionLimit = 16

// Mentions is a bounded FIFO of file paths attached to the next plain turn.
type Mentions struct {
	mu    sync.Mutex
	limit int
	paths []string
}

// NewMentions returns an empty queue holding at most limit paths.
func NewMentions(limit int) *Mentions {
	if limit <= 0 {
		limit = DefaultMentionLimit
	}
	return &Mentions{limit: limit}
}

// Push appends path. It reports false when the queue is full. A path
// already queued is not added twice.
func (m *Mentions) Push(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.paths {
		if p == path {
			return true
		}
	}
	if len(m.paths) >= m.limit {
		return false
	}
	m.paths = append(m.paths, path)
	return true
}

// Peek returns the queued paths without consuming them.
func (m *Mentions) Peek() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

// Len returns the number of queued paths.
func (m *Mentions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paths)
}

// Clear empties the queue.
func (m *Mentions) Clear() {
	m.mu.Lock()
	m.paths = nil
	m.mu.Unlock()
}

// DrainAll removes and returns every queued path in insertion order.
func (m *Mentions) DrainAll() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.paths
	m.paths = nil
	return out
}

// Limit returns the queue capacity.
func (m *Mentions) Limit() int { return m.limit }

// withMentions prefixes text with one "@path" line per mention and a blank
// line.
func withMentions(paths []string, text string) string {
	if len(paths) == 0 {
		return text
	}
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("@")
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}
