package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/chat"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/room"
)

// Engine is the conversational engine driving one session.
type Engine interface {
	Start(ctx context.Context, p persona.Persona) error
	// GenerateReply asks the model for a line following instructions and
	// schedules it for playback.
	GenerateReply(ctx context.Context, instructions string, allowInterruptions bool) error
	// Say schedules text for playback word for word.
	Say(ctx context.Context, text string, allowInterruptions bool) error
	DisallowInterruptions()
	// HandleUtterance hands caller speech to the engine without blocking.
	HandleUtterance(ctx context.Context, text string)
	History() []chat.Utterance
	ToolCalls() <-chan chat.ToolCall
	Close()
}

// Room is the transport-side view of a session's room.
type Room interface {
	Name() string
	Participants() []room.Participant
	Events() <-chan room.Event
	Done() <-chan struct{}
	Delete(ctx context.Context) error
}

// Session mediates one conversation from connect to close.
type Session struct {
	id        string
	room      Room
	engine    Engine
	env       *Env
	createdAt time.Time

	originOnce sync.Once
	origin     persona.Origin

	mu      sync.RWMutex
	persona persona.Persona
	state   chat.State
	reason  chat.Reason

	terminating atomic.Bool
	closed      chan struct{}
}

// New creates an Active session. Call Run to drive it.
func New(id string, r Room, engine Engine, env *Env) *Session {
	return &Session{
		id:        id,
		room:      r,
		engine:    engine,
		env:       env,
		createdAt: env.now(),
		state:     chat.StateActive,
		closed:    make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Origin classifies the session on first call and returns the cached result
// afterwards, whoever joins later.
func (s *Session) Origin() persona.Origin {
	s.originOnce.Do(func() {
		s.origin = s.env.Classifier.Classify(s.room.Name(), s.room.Participants())
	})
	return s.origin
}

// Persona returns the selected bundle; zero until Run has selected it.
func (s *Session) Persona() persona.Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persona
}

// State returns the current lifecycle state.
func (s *Session) State() chat.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Closed is closed once the session reaches StateClosed.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Info summarises the session.
func (s *Session) Info() chat.Info {
	origin := s.Origin()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chat.Info{
		ID:        s.id,
		Room:      s.room.Name(),
		Origin:    string(origin),
		PersonaID: s.persona.ID,
		State:     s.state,
		Reason:    s.reason,
		CreatedAt: s.createdAt,
	}
}

// Run classifies the session, starts the engine and processes engine and room
// events until the session closes.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	origin := s.Origin()
	p := s.env.Personas.Select(origin)
	s.mu.Lock()
	s.persona = p
	s.mu.Unlock()
	log.Printf("[session] started session=%s room=%s origin=%s persona=%s", s.id, s.room.Name(), origin, p.ID)

	if err := s.engine.Start(ctx, p); err != nil {
		log.Printf("[session] engine start failed session=%s: %v", s.id, err)
		s.Terminate(ctx, chat.TerminationRequest{Reason: chat.ReasonNormal, Trigger: chat.TriggerDisconnectEvent})
		return
	}

	if p.OpeningLine != "" {
		go func() {
			if err := s.engine.GenerateReply(ctx, p.OpeningLine, true); err != nil {
				log.Printf("[session] greeting failed session=%s: %v", s.id, err)
			}
		}()
	}

	disconnect := chat.TerminationRequest{Reason: chat.ReasonNormal, Trigger: chat.TriggerDisconnectEvent}
	roomDone := s.room.Done()
	for {
		select {
		case <-s.closed:
			return
		case <-ctx.Done():
			s.Terminate(ctx, disconnect)
			<-s.closed
			return
		case <-roomDone:
			roomDone = nil
			s.Terminate(ctx, disconnect)
		case call := <-s.engine.ToolCalls():
			s.dispatch(ctx, call)
		case ev := <-s.room.Events():
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev room.Event) {
	switch ev.Type {
	case room.EventUtterance:
		if s.State() != chat.StateActive {
			return
		}
		s.engine.HandleUtterance(ctx, ev.Text)
	case room.EventJoined:
		log.Printf("[session] %s (%s) joined session=%s, origin stays %s", ev.Participant.Identity, ev.Participant.Kind, s.id, s.Origin())
	case room.EventLeft:
		if ev.Remaining > 0 {
			return
		}
		s.Terminate(ctx, chat.TerminationRequest{Reason: chat.ReasonNormal, Trigger: chat.TriggerDisconnectEvent})
	}
}

// dispatch never blocks on external calls, so room events keep flowing while
// a memory query or fact write is outstanding.
func (s *Session) dispatch(ctx context.Context, call chat.ToolCall) {
	if err := s.admit(call.Capability); err != nil {
		log.Printf("[session] rejected tool call session=%s: %v", s.id, err)
		call.Respond(chat.ToolResult{Content: err.Error(), Rejected: true})
		return
	}

	switch call.Capability {
	case persona.CapabilityTerminate:
		reason := chat.ReasonNormal
		if call.Bool("is_spam") {
			reason = chat.ReasonSpam
		}
		call.Respond(chat.ToolResult{Content: "call ended", Final: true})
		s.Terminate(ctx, chat.TerminationRequest{Reason: reason, Trigger: chat.TriggerToolInvocation})

	case persona.CapabilityQueryMemory:
		s.engine.DisallowInterruptions()
		go func() {
			var history string
			if s.env.Memory != nil {
				history = s.env.Memory.Query(ctx)
			}
			call.Respond(chat.ToolResult{Content: history})
		}()

	case persona.CapabilityRecordFact:
		if s.env.Facts == nil {
			call.Respond(chat.ToolResult{Content: "fact store disabled", Rejected: true})
			return
		}
		go func() {
			if err := s.env.Facts.Record(ctx, call.String("key"), call.String("value")); err != nil {
				log.Printf("[session] record fact failed session=%s: %v", s.id, err)
				call.Respond(chat.ToolResult{Content: "could not save that"})
				return
			}
			call.Respond(chat.ToolResult{Content: "saved"})
		}()

	default:
		call.Respond(chat.ToolResult{Content: "unknown tool", Rejected: true})
	}
}

// admit checks that the session is still live and that c belongs to its bundle.
func (s *Session) admit(c persona.Capability) error {
	if s.State() != chat.StateActive {
		return fmt.Errorf("%w: %s", ErrSessionClosed, c)
	}
	if p := s.Persona(); !p.Capabilities.Has(c) {
		return fmt.Errorf("%w: %s not in persona %s", ErrCapabilityNotExposed, c, p.ID)
	}
	return nil
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []chat.Utterance {
	return s.engine.History()
}

// Terminate runs the termination sequence once. It reports false when another
// request already won, in which case it does nothing.
func (s *Session) Terminate(ctx context.Context, req chat.TerminationRequest) bool {
	if !s.terminating.CompareAndSwap(false, true) {
		log.Printf("[session] termination race: dropped %s/%s for session=%s", req.Reason, req.Trigger, s.id)
		return false
	}

	snap := chat.Snapshot{
		SessionID:  s.id,
		Room:       s.room.Name(),
		Utterances: s.engine.History(),
		TakenAt:    s.env.now(),
	}

	s.mu.Lock()
	s.state = chat.StateTerminating
	s.reason = req.Reason
	p := s.persona
	s.mu.Unlock()
	log.Printf("[session] terminating session=%s reason=%s trigger=%s utterances=%d", s.id, req.Reason, req.Trigger, len(snap.Utterances))

	s.engine.DisallowInterruptions()

	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.env.teardownTimeout())
	defer cancel()

	// Nobody is left to hear a closing line after a disconnect.
	if req.Trigger == chat.TriggerToolInvocation {
		s.sayClosingLine(teardownCtx, p, req.Reason)
	}

	if err := s.room.Delete(teardownCtx); err != nil {
		log.Printf("[session] teardown failed session=%s room=%s: %v", s.id, s.room.Name(), err)
	}

	s.env.deliver(snap)

	s.mu.Lock()
	s.state = chat.StateClosed
	s.mu.Unlock()
	s.engine.Close()
	close(s.closed)

	log.Printf("[session] closed session=%s", s.id)
	return true
}

func (s *Session) sayClosingLine(ctx context.Context, p persona.Persona, reason chat.Reason) {
	var err error
	switch reason {
	case chat.ReasonSpam:
		line := p.Rejection
		if line == "" {
			line = persona.SpamRejectionLine
		}
		err = s.engine.Say(ctx, line, false)
	default:
		if p.Goodbye == "" {
			return
		}
		err = s.engine.GenerateReply(ctx, p.Goodbye, false)
	}
	if err != nil {
		log.Printf("[session] closing line failed session=%s reason=%s: %v", s.id, reason, err)
	}
}
