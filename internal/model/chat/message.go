package chat

import (
	"sync"
	"time"
)

// Role identifies who produced an utterance.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Utterance is one event in a conversation.
type Utterance struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transcript is the append-only conversation log of a session.
type Transcript struct {
	mu    sync.RWMutex
	items []Utterance
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{items: make([]Utterance, 0, 16)}
}

// Append records an utterance, stamping it when CreatedAt is zero.
func (t *Transcript) Append(u Utterance) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	t.mu.Lock()
	t.items = append(t.items, u)
	t.mu.Unlock()
}

// Len returns the number of recorded utterances.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Snapshot returns a copy that later appends cannot affect.
func (t *Transcript) Snapshot() []Utterance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	copied := make([]Utterance, len(t.items))
	copy(copied, t.items)
	return copied
}
