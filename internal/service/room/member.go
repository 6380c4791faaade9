package room

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/z-switchboard/backend/internal/model/room"
)

type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type member struct {
	participant model.Participant
	conn        *websocket.Conn
	options     *Options

	mu       sync.Mutex
	queue    chan Frame
	closed   bool
	finished chan struct{}
}

func newMember(p model.Participant, conn *websocket.Conn, options *Options) *member {
	return &member{
		participant: p,
		conn:        conn,
		options:     options,
		queue:       make(chan Frame, options.SendQueue),
		finished:    make(chan struct{}),
	}
}

// send drops the frame when the participant is gone or too slow to keep up.
func (m *member) send(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- f:
	default:
		log.Printf("[room] send queue full for %s, dropping %s frame", m.participant.Identity, f.Type)
	}
}

func (m *member) closeAfterFlush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.queue)
}

// writePump owns all writes to the connection.
func (m *member) writePump() {
	ticker := time.NewTicker(m.options.PingInterval)
	defer func() {
		ticker.Stop()
		m.conn.Close()
		close(m.finished)
	}()

	for {
		select {
		case f, ok := <-m.queue:
			m.conn.SetWriteDeadline(time.Now().Add(m.options.WriteTimeout))
			if !ok {
				_ = m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
				return
			}
			if err := m.conn.WriteJSON(f); err != nil {
				log.Printf("[room] write to %s failed: %v", m.participant.Identity, err)
				m.drain()
				return
			}
		case <-ticker.C:
			m.conn.SetWriteDeadline(time.Now().Add(m.options.WriteTimeout))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.drain()
				return
			}
		}
	}
}

// drain marks the member closed so senders stop queueing after a write failure.
func (m *member) drain() {
	m.closeAfterFlush()
	for range m.queue {
	}
}

func (m *member) readLoop(ctx context.Context, r *Room) {
	m.conn.SetReadDeadline(time.Now().Add(m.options.ReadTimeout))
	m.conn.SetPongHandler(func(string) error {
		m.conn.SetReadDeadline(time.Now().Add(m.options.ReadTimeout))
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-r.done:
		case <-m.finished:
			return
		}
		// Unblock ReadJSON; the write pump sends the close frame.
		m.conn.SetReadDeadline(time.Now())
	}()

	for {
		var msg inboundFrame
		if err := m.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[room] read error from %s: %v", m.participant.Identity, err)
			}
			return
		}
		m.conn.SetReadDeadline(time.Now().Add(m.options.ReadTimeout))

		switch msg.Type {
		case "text":
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				continue
			}
			r.emit(model.Event{Type: model.EventUtterance, Participant: m.participant, Text: text})
		case "ping":
			m.send(Frame{Type: "pong", Room: r.name, Timestamp: time.Now().Unix()})
		default:
			payload, _ := json.Marshal(msg.Type)
			m.send(Frame{Type: "error", Room: r.name, Text: "unsupported frame type " + string(payload), Timestamp: time.Now().Unix()})
		}
	}
}
