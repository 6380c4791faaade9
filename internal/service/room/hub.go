package room

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/z-switchboard/backend/internal/model/room"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomClosed     = errors.New("room closed")
	ErrIdentityInUse  = errors.New("identity already connected")
	ErrIdentityNeeded = errors.New("participant identity is required")
)

// Options tunes connection handling for every room on a hub.
type Options struct {
	ReadTimeout  time.Duration // read deadline, refreshed by pongs and frames
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendQueue    int // outbound frames buffered per participant
	EventBuffer  int // events buffered per room
}

// DefaultOptions returns the production defaults.
func DefaultOptions() *Options {
	return &Options{
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 54 * time.Second,
		SendQueue:    32,
		EventBuffer:  64,
	}
}

// Hub tracks live rooms and their websocket participants.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	options  *Options
	onCreate func(*Room)
}

// NewHub creates an empty hub.
func NewHub(options *Options) *Hub {
	if options == nil {
		options = DefaultOptions()
	}
	return &Hub{
		rooms:   make(map[string]*Room),
		options: options,
	}
}

// OnRoomCreated registers the callback fired once per room, after its first
// participant has joined.
func (h *Hub) OnRoomCreated(fn func(*Room)) {
	h.mu.Lock()
	h.onCreate = fn
	h.mu.Unlock()
}

// Get returns a live room.
func (h *Hub) Get(name string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	return r, ok
}

// Names lists live rooms in lexical order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)
	return names
}

// DeleteRoom disconnects everyone in the room and forgets it.
func (h *Hub) DeleteRoom(ctx context.Context, name string) error {
	r, ok := h.Get(name)
	if !ok {
		return ErrRoomNotFound
	}
	return r.Delete(ctx)
}

// CloseAll deletes every room, used on shutdown.
func (h *Hub) CloseAll(ctx context.Context) {
	for _, name := range h.Names() {
		if err := h.DeleteRoom(ctx, name); err != nil && !errors.Is(err, ErrRoomNotFound) {
			log.Printf("[room] close %s failed: %v", name, err)
		}
	}
}

// Serve attaches an upgraded connection to the named room and blocks until the
// participant leaves or the room is deleted.
func (h *Hub) Serve(ctx context.Context, name string, p model.Participant, conn *websocket.Conn) error {
	if p.Identity == "" {
		conn.Close()
		return ErrIdentityNeeded
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}

	r, m, created, err := h.join(name, p, conn)
	if err != nil {
		conn.Close()
		return err
	}

	go m.writePump()

	remaining := len(r.Participants())
	log.Printf("[room] %s joined room=%s kind=%s participants=%d", p.Identity, name, p.Kind, remaining)
	r.emit(model.Event{Type: model.EventJoined, Participant: p, Remaining: remaining})

	if created {
		h.mu.RLock()
		onCreate := h.onCreate
		h.mu.RUnlock()
		if onCreate != nil {
			onCreate(r)
		}
	}

	m.readLoop(ctx, r)

	if left := r.leave(m); left {
		remaining := len(r.Participants())
		log.Printf("[room] %s left room=%s participants=%d", p.Identity, name, remaining)
		r.emit(model.Event{Type: model.EventLeft, Participant: p, Remaining: remaining})
	}
	return nil
}

func (h *Hub) join(name string, p model.Participant, conn *websocket.Conn) (*Room, *member, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	created := false
	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(name, h)
		h.rooms[name] = r
		created = true
	}

	m := newMember(p, conn, h.options)
	if err := r.add(m); err != nil {
		if created {
			delete(h.rooms, name)
		}
		return nil, nil, false, err
	}
	return r, m, created, nil
}

func (h *Hub) remove(r *Room) {
	h.mu.Lock()
	if current, ok := h.rooms[r.name]; ok && current == r {
		delete(h.rooms, r.name)
	}
	h.mu.Unlock()
}
