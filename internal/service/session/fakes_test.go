package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/chat"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/room"
)

type spokenLine struct {
	text               string
	verbatim           bool
	allowInterruptions bool
}

type fakeEngine struct {
	mu         sync.Mutex
	started    persona.Persona
	spoken     []spokenLine
	heard      []string
	history    *chat.Transcript
	calls      chan chat.ToolCall
	disallowed atomic.Int32
	closed     atomic.Bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{history: chat.NewTranscript(), calls: make(chan chat.ToolCall)}
}

func (e *fakeEngine) Start(_ context.Context, p persona.Persona) error {
	e.mu.Lock()
	e.started = p
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) GenerateReply(_ context.Context, instructions string, allow bool) error {
	e.record(spokenLine{text: instructions, allowInterruptions: allow})
	return nil
}

func (e *fakeEngine) Say(_ context.Context, text string, allow bool) error {
	e.record(spokenLine{text: text, verbatim: true, allowInterruptions: allow})
	return nil
}

func (e *fakeEngine) record(line spokenLine) {
	e.mu.Lock()
	e.spoken = append(e.spoken, line)
	e.mu.Unlock()
	e.history.Append(chat.Utterance{Role: chat.RoleAssistant, Content: line.text})
}

func (e *fakeEngine) DisallowInterruptions() { e.disallowed.Add(1) }

func (e *fakeEngine) HandleUtterance(_ context.Context, text string) {
	e.mu.Lock()
	e.heard = append(e.heard, text)
	e.mu.Unlock()
	e.history.Append(chat.Utterance{Role: chat.RoleUser, Content: text})
}

func (e *fakeEngine) History() []chat.Utterance       { return e.history.Snapshot() }
func (e *fakeEngine) ToolCalls() <-chan chat.ToolCall { return e.calls }
func (e *fakeEngine) Close()                          { e.closed.Store(true) }

func (e *fakeEngine) lines() []spokenLine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]spokenLine(nil), e.spoken...)
}

type fakeRoom struct {
	name         string
	mu           sync.Mutex
	participants []room.Participant
	events       chan room.Event
	done         chan struct{}
	deletes      atomic.Int32
	deleteErr    error
	once         sync.Once
}

func newFakeRoom(name string, participants ...room.Participant) *fakeRoom {
	return &fakeRoom{
		name:         name,
		participants: participants,
		events:       make(chan room.Event, 16),
		done:         make(chan struct{}),
	}
}

func (r *fakeRoom) Name() string { return r.name }

func (r *fakeRoom) Participants() []room.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]room.Participant(nil), r.participants...)
}

func (r *fakeRoom) join(p room.Participant) {
	r.mu.Lock()
	r.participants = append(r.participants, p)
	n := len(r.participants)
	r.mu.Unlock()
	r.events <- room.Event{Type: room.EventJoined, Participant: p, Remaining: n}
}

func (r *fakeRoom) Events() <-chan room.Event { return r.events }
func (r *fakeRoom) Done() <-chan struct{}     { return r.done }

func (r *fakeRoom) Delete(context.Context) error {
	r.deletes.Add(1)
	r.once.Do(func() { close(r.done) })
	return r.deleteErr
}

type fakeDeliverer struct {
	mu    sync.Mutex
	snaps []chat.Snapshot
}

func (d *fakeDeliverer) Deliver(_ context.Context, snap chat.Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snaps = append(d.snaps, snap)
	return errors.New("memory service unreachable")
}

func (d *fakeDeliverer) delivered() []chat.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chat.Snapshot(nil), d.snaps...)
}

type blockingMemory struct {
	release chan struct{}
	result  string
}

func (m *blockingMemory) Query(ctx context.Context) string {
	select {
	case <-m.release:
		return m.result
	case <-ctx.Done():
		return ""
	}
}

type fakeFacts struct {
	mu    sync.Mutex
	facts map[string]string
}

func (f *fakeFacts) Record(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.facts == nil {
		f.facts = make(map[string]string)
	}
	f.facts[key] = value
	return nil
}

func (f *fakeFacts) All() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.facts))
	for k, v := range f.facts {
		out[k] = v
	}
	return out
}

var fixedNow = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

func newTestEnv(delivery Deliverer, memory MemoryQuerier, withFacts bool) *Env {
	env := &Env{
		Personas:   persona.NewMemoryStore(persona.Seed(persona.Profile{FactsEnabled: withFacts})),
		Classifier: NewClassifier(""),
		Memory:     memory,
		Delivery:   delivery,
		Clock:      func() time.Time { return fixedNow },
	}
	if withFacts {
		env.Facts = &fakeFacts{}
	}
	return env
}
