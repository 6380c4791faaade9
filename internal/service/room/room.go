package room

import (
	"context"
	"sort"
	"sync"
	"time"

	model "github.com/zhouzirui/z-switchboard/backend/internal/model/room"
)

// Frame is the JSON envelope written to participants.
type Frame struct {
	Type      string `json:"type"`
	Room      string `json:"room,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Room is one conversation space. Participants come and go; the session that
// owns the room deletes it when the conversation ends.
type Room struct {
	name    string
	hub     *Hub
	events  chan model.Event
	done    chan struct{}
	mu      sync.Mutex
	members map[string]*member
	deleted bool
}

func newRoom(name string, hub *Hub) *Room {
	return &Room{
		name:    name,
		hub:     hub,
		events:  make(chan model.Event, hub.options.EventBuffer),
		done:    make(chan struct{}),
		members: make(map[string]*member),
	}
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// Participants lists currently connected participants ordered by join time.
func (r *Room) Participants() []model.Participant {
	r.mu.Lock()
	out := make([]model.Participant, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.participant)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Events streams participant lifecycle and speech events.
func (r *Room) Events() <-chan model.Event {
	return r.events
}

// Done is closed once the room has been deleted.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Say queues an assistant line for every participant.
func (r *Room) Say(_ context.Context, text string) error {
	return r.broadcast(Frame{Type: "assistant", Text: text})
}

// Delete disconnects every participant after their queued frames are flushed.
// It waits for the flush until ctx expires.
func (r *Room) Delete(ctx context.Context) error {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	r.deleted = true
	members := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.members = make(map[string]*member)
	r.mu.Unlock()

	close(r.done)
	r.hub.remove(r)

	for _, m := range members {
		m.send(Frame{Type: "closed", Room: r.name, Timestamp: time.Now().Unix()})
		m.closeAfterFlush()
	}
	for _, m := range members {
		select {
		case <-m.finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Room) broadcast(f Frame) error {
	f.Room = r.name
	f.Timestamp = time.Now().Unix()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return ErrRoomClosed
	}
	for _, m := range r.members {
		m.send(f)
	}
	return nil
}

func (r *Room) add(m *member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return ErrRoomClosed
	}
	if _, exists := r.members[m.participant.Identity]; exists {
		return ErrIdentityInUse
	}
	r.members[m.participant.Identity] = m
	return nil
}

// leave reports whether m was still a member.
func (r *Room) leave(m *member) bool {
	r.mu.Lock()
	current, ok := r.members[m.participant.Identity]
	if ok && current == m {
		delete(r.members, m.participant.Identity)
	}
	r.mu.Unlock()

	m.closeAfterFlush()
	return ok && current == m
}

func (r *Room) emit(ev model.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}
