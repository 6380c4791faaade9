package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/z-switchboard/backend/internal/analysis/screening"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/chat"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
)

var (
	ErrNotStarted   = errors.New("engine not started")
	ErrEngineClosed = errors.New("engine closed")
)

// Speaker plays a line to the room.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// EngineOptions tunes a single engine.
type EngineOptions struct {
	MaxToolRounds int  // model round trips per caller turn
	HistoryLimit  int  // context messages sent to the model
	Screening     bool // end phone calls on an obvious solicitation without asking the model
	InputBuffer   int
	Prompt        *PromptBuilder
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 4
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 40
	}
	if o.InputBuffer <= 0 {
		o.InputBuffer = 16
	}
	return o
}

// Engine is a text conversational engine over an eino chat model. Caller
// turns are processed one at a time on a private goroutine; tool calls are
// surfaced on ToolCalls and answered by the owning session.
type Engine struct {
	base    model.BaseChatModel
	speaker Speaker
	opts    EngineOptions

	mu      sync.Mutex
	bound   model.BaseChatModel
	persona persona.Persona
	prompt  string
	convo   []*schema.Message
	history *chat.Transcript

	imu           sync.Mutex
	interruptible map[uint64]context.CancelFunc
	nextGen       uint64

	inputs    chan string
	calls     chan chat.ToolCall
	done      chan struct{}
	closeOnce sync.Once
	finished  atomic.Bool
}

// NewEngine wraps base, which must not be shared with another engine.
func NewEngine(base model.BaseChatModel, speaker Speaker, opts EngineOptions) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		base:          base,
		speaker:       speaker,
		opts:          opts,
		history:       chat.NewTranscript(),
		interruptible: make(map[uint64]context.CancelFunc),
		inputs:        make(chan string, opts.InputBuffer),
		calls:         make(chan chat.ToolCall),
		done:          make(chan struct{}),
	}
}

// Start binds the persona's capabilities as tools and begins consuming caller turns.
func (e *Engine) Start(ctx context.Context, p persona.Persona) error {
	bound, err := bindTools(e.base, ToolInfos(p.Capabilities))
	if err != nil {
		return fmt.Errorf("bind tools: %w", err)
	}

	e.mu.Lock()
	e.bound = bound
	e.persona = p
	e.prompt = e.opts.Prompt.BuildSystemPrompt(p)
	e.mu.Unlock()

	go e.loop(ctx)
	return nil
}

// GenerateReply produces one line from instructions without tools and plays it.
func (e *Engine) GenerateReply(ctx context.Context, instructions string, allowInterruptions bool) error {
	if e.isClosed() && allowInterruptions {
		return ErrEngineClosed
	}
	e.mu.Lock()
	started := e.bound != nil
	e.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	genCtx, release := e.track(ctx, allowInterruptions)
	defer release()

	msgs := append(e.messages(), schema.SystemMessage(instructions))
	resp, err := e.base.Generate(genCtx, msgs)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}
	return e.speak(ctx, resp.Content)
}

// Say plays text exactly as given.
func (e *Engine) Say(ctx context.Context, text string, _ bool) error {
	return e.speak(ctx, text)
}

// DisallowInterruptions pins every generation currently in flight so caller
// speech can no longer cancel it.
func (e *Engine) DisallowInterruptions() {
	e.imu.Lock()
	e.interruptible = make(map[uint64]context.CancelFunc)
	e.imu.Unlock()
}

// HandleUtterance records caller speech, interrupts interruptible output and
// queues the turn. It never blocks.
func (e *Engine) HandleUtterance(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" || e.isClosed() {
		return
	}
	e.history.Append(chat.Utterance{Role: chat.RoleUser, Content: text})
	e.interrupt()

	if e.opts.Screening && e.exposes(persona.CapabilityTerminate) {
		if decision := screening.Analyze(text); decision.Spam() {
			log.Printf("[ai] solicitation detected category=%s score=%d, hanging up", decision.Category, decision.Score)
			e.finished.Store(true)
			call := chat.NewToolCall(uuid.NewString(), persona.CapabilityTerminate, map[string]any{"is_spam": true})
			go e.raise(ctx, call)
			return
		}
	}

	select {
	case e.inputs <- text:
	default:
		log.Printf("[ai] input queue full, dropping caller turn")
	}
}

// History returns a copy of the conversation so far.
func (e *Engine) History() []chat.Utterance {
	return e.history.Snapshot()
}

// ToolCalls streams capability invocations for the session to answer.
func (e *Engine) ToolCalls() <-chan chat.ToolCall {
	return e.calls
}

// Close stops turn processing and cancels interruptible generations.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.finished.Store(true)
		close(e.done)
		e.interrupt()
	})
}

func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case text := <-e.inputs:
			if e.finished.Load() {
				continue
			}
			e.turn(ctx, text)
		}
	}
}

func (e *Engine) turn(ctx context.Context, text string) {
	e.appendContext(schema.UserMessage(text))

	genCtx, release := e.track(ctx, true)
	defer release()

	e.mu.Lock()
	bound := e.bound
	e.mu.Unlock()
	if bound == nil {
		return
	}

	for round := 0; round < e.opts.MaxToolRounds; round++ {
		resp, err := bound.Generate(genCtx, e.messages())
		if err != nil {
			if genCtx.Err() != nil {
				log.Printf("[ai] turn interrupted")
				return
			}
			log.Printf("[ai] generate failed: %v", err)
			return
		}

		if len(resp.ToolCalls) == 0 {
			if err := e.speak(ctx, resp.Content); err != nil {
				log.Printf("[ai] speak failed: %v", err)
			}
			return
		}

		// A memory query is outstanding from here on; caller speech must not
		// throw its answer away.
		if queriesMemory(resp.ToolCalls) {
			e.DisallowInterruptions()
			genCtx = ctx
		}

		e.appendContext(schema.AssistantMessage(resp.Content, resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			result := e.invoke(ctx, tc)
			e.appendContext(schema.ToolMessage(result.Content, tc.ID))
			e.history.Append(chat.Utterance{Role: chat.RoleTool, Name: tc.Function.Name, Content: result.Content})
			if result.Final {
				e.finished.Store(true)
				return
			}
		}
		if e.finished.Load() {
			return
		}
	}
	log.Printf("[ai] tool round limit reached")
}

func queriesMemory(calls []schema.ToolCall) bool {
	for _, tc := range calls {
		if persona.Capability(tc.Function.Name) == persona.CapabilityQueryMemory {
			return true
		}
	}
	return false
}

func (e *Engine) invoke(ctx context.Context, tc schema.ToolCall) chat.ToolResult {
	args := map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return chat.ToolResult{Content: "invalid tool arguments", Rejected: true}
		}
	}
	id := tc.ID
	if id == "" {
		id = uuid.NewString()
	}
	return e.raise(ctx, chat.NewToolCall(id, persona.Capability(tc.Function.Name), args))
}

// raise hands call to the session and waits for its answer.
func (e *Engine) raise(ctx context.Context, call chat.ToolCall) chat.ToolResult {
	select {
	case e.calls <- call:
	case <-ctx.Done():
		return chat.ToolResult{Content: "cancelled", Rejected: true}
	case <-e.done:
		return chat.ToolResult{Content: "session ended", Rejected: true, Final: true}
	}

	select {
	case res := <-call.Result():
		return res
	case <-ctx.Done():
		return chat.ToolResult{Content: "cancelled", Rejected: true}
	case <-e.done:
		return chat.ToolResult{Content: "session ended", Rejected: true, Final: true}
	}
}

func (e *Engine) speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	e.history.Append(chat.Utterance{Role: chat.RoleAssistant, Content: text})
	e.appendContext(schema.AssistantMessage(text, nil))
	if e.speaker == nil {
		return nil
	}
	return e.speaker.Say(ctx, text)
}

// track derives a generation context that caller speech may cancel when
// allowInterruptions is set.
func (e *Engine) track(ctx context.Context, allowInterruptions bool) (context.Context, func()) {
	genCtx, cancel := context.WithCancel(ctx)
	if !allowInterruptions {
		return genCtx, cancel
	}

	e.imu.Lock()
	e.nextGen++
	id := e.nextGen
	e.interruptible[id] = cancel
	e.imu.Unlock()

	return genCtx, func() {
		e.imu.Lock()
		delete(e.interruptible, id)
		e.imu.Unlock()
		cancel()
	}
}

func (e *Engine) interrupt() {
	e.imu.Lock()
	for id, cancel := range e.interruptible {
		cancel()
		delete(e.interruptible, id)
	}
	e.imu.Unlock()
}

func (e *Engine) exposes(c persona.Capability) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persona.Capabilities.Has(c)
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Engine) appendContext(msg *schema.Message) {
	e.mu.Lock()
	e.convo = append(e.convo, msg)
	e.mu.Unlock()
}

// messages builds the model input: instructions plus the most recent context,
// cut at a user message so tool results never lose their call.
func (e *Engine) messages() []*schema.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := 0
	if len(e.convo) > e.opts.HistoryLimit {
		start = len(e.convo) - e.opts.HistoryLimit
		for start < len(e.convo) && e.convo[start].Role != schema.User {
			start++
		}
		if start == len(e.convo) {
			start = len(e.convo) - e.opts.HistoryLimit
		}
	}

	out := make([]*schema.Message, 0, len(e.convo)-start+1)
	out = append(out, schema.SystemMessage(e.prompt))
	return append(out, answeredOnly(e.convo[start:])...)
}

// answeredOnly keeps each assistant tool-call message only when every call in
// it has a result, and places those results directly after it. A hangup
// answered by the session may not have its result recorded yet when the
// closing line is generated.
func answeredOnly(msgs []*schema.Message) []*schema.Message {
	results := make(map[string]*schema.Message)
	for _, msg := range msgs {
		if msg.Role == schema.Tool {
			results[msg.ToolCallID] = msg
		}
	}

	out := make([]*schema.Message, 0, len(msgs))
	for _, msg := range msgs {
		switch {
		case msg.Role == schema.Tool:
			// emitted with its call, or orphaned by trimming
		case msg.Role == schema.Assistant && len(msg.ToolCalls) > 0:
			answers := make([]*schema.Message, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				if res, ok := results[tc.ID]; ok {
					answers = append(answers, res)
				}
			}
			if len(answers) != len(msg.ToolCalls) {
				continue
			}
			out = append(out, msg)
			out = append(out, answers...)
		default:
			out = append(out, msg)
		}
	}
	return out
}
