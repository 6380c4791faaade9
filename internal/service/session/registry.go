package session

import (
	"sort"
	"sync"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/chat"
)

// Registry tracks live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
}

// Remove forgets a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get retrieves a session by identifier.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List summarises live sessions, oldest first.
func (r *Registry) List() []chat.Info {
	r.mu.RLock()
	out := make([]chat.Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Info summarises one live session.
func (r *Registry) Info(id string) (chat.Info, error) {
	s, err := r.Get(id)
	if err != nil {
		return chat.Info{}, err
	}
	return s.Info(), nil
}

// Transcript returns the conversation so far for a live session.
func (r *Registry) Transcript(id string) ([]chat.Utterance, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Transcript(), nil
}
