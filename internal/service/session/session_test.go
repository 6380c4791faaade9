package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/chat"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/room"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/memory"
)

func startSession(t *testing.T, r *fakeRoom, engine *fakeEngine, env *Env) *Session {
	t.Helper()
	s := New("sess-1", r, engine, env)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return s.Persona().ID != "" && len(engine.lines()) > 0 }, time.Second, 5*time.Millisecond)
	return s
}

func invoke(t *testing.T, engine *fakeEngine, call chat.ToolCall) chat.ToolResult {
	t.Helper()
	select {
	case engine.calls <- call:
	case <-time.After(time.Second):
		t.Fatal("session did not accept tool call")
	}
	select {
	case res := <-call.Result():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("tool call got no result")
		return chat.ToolResult{}
	}
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
}

func TestPhoneRoomNameSelectsScreeningPersona(t *testing.T) {
	engine := newFakeEngine()
	s := startSession(t, newFakeRoom("call-+15551234567"), engine, newTestEnv(nil, nil, false))

	assert.Equal(t, persona.OriginPhone, s.Origin())
	assert.Equal(t, persona.CapabilitySet{persona.CapabilityTerminate}, s.Persona().Capabilities)
	require.Eventually(t, func() bool { return len(engine.lines()) == 1 }, time.Second, 5*time.Millisecond)
	greeting := engine.lines()[0]
	assert.Contains(t, greeting.text, "Who is calling?")
	assert.True(t, greeting.allowInterruptions)
}

func TestOriginIsNotReclassifiedWhenTelephonyJoinsLater(t *testing.T) {
	r := newFakeRoom("dashboard", room.Participant{Identity: "james", Kind: room.KindStandard})
	s := startSession(t, r, newFakeEngine(), newTestEnv(nil, nil, false))
	require.Equal(t, persona.OriginWeb, s.Origin())

	r.join(room.Participant{Identity: "bridge", Kind: room.KindSIP})

	require.Eventually(t, func() bool { return len(r.events) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, persona.OriginWeb, s.Origin())
	assert.Equal(t, persona.OriginWeb, s.Persona().Origin)
	assert.Equal(t, "web", s.Info().Origin)
}

func TestConcurrentTerminationHonoursExactlyOne(t *testing.T) {
	for i := 0; i < 50; i++ {
		delivery := &fakeDeliverer{}
		env := newTestEnv(delivery, nil, false)
		r := newFakeRoom("call-+15551234567")
		engine := newFakeEngine()
		s := New("race", r, engine, env)

		var wg sync.WaitGroup
		start := make(chan struct{})
		results := make([]bool, 2)
		for j, req := range []chat.TerminationRequest{
			{Reason: chat.ReasonSpam, Trigger: chat.TriggerToolInvocation},
			{Reason: chat.ReasonNormal, Trigger: chat.TriggerDisconnectEvent},
		} {
			wg.Add(1)
			go func(j int, req chat.TerminationRequest) {
				defer wg.Done()
				<-start
				results[j] = s.Terminate(context.Background(), req)
			}(j, req)
		}
		close(start)
		wg.Wait()
		require.NoError(t, env.WaitDeliveries(context.Background()))

		assert.NotEqual(t, results[0], results[1])
		assert.EqualValues(t, 1, r.deletes.Load())
		assert.Len(t, delivery.delivered(), 1)
		assert.Equal(t, chat.StateClosed, s.State())
	}
}

func TestSpamHangupSpeaksVerbatimAndDeliversSnapshot(t *testing.T) {
	delivery := &fakeDeliverer{}
	env := newTestEnv(delivery, nil, false)
	r := newFakeRoom("call-+15551234567")
	engine := newFakeEngine()
	s := startSession(t, r, engine, env)
	engine.history.Append(chat.Utterance{Role: chat.RoleUser, Content: "I'm calling about your car warranty"})

	res := invoke(t, engine, chat.NewToolCall("c1", persona.CapabilityTerminate, map[string]any{"is_spam": true}))
	assert.True(t, res.Final)
	waitClosed(t, s)
	require.NoError(t, env.WaitDeliveries(context.Background()))

	lines := engine.lines()
	last := lines[len(lines)-1]
	assert.Equal(t, persona.SpamRejectionLine, last.text)
	assert.True(t, last.verbatim)
	assert.False(t, last.allowInterruptions)
	assert.EqualValues(t, 1, r.deletes.Load())
	assert.True(t, engine.closed.Load())
	assert.Equal(t, chat.ReasonSpam, s.Info().Reason)

	snaps := delivery.delivered()
	require.Len(t, snaps, 1)
	for _, u := range snaps[0].Utterances {
		assert.NotEqual(t, persona.SpamRejectionLine, u.Content, "closing line must not be in the delivered snapshot")
	}

	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	payload, err := memory.NewClient("", "", time.Second, memory.WithLocation(loc)).BuildPayload(snaps[0])
	require.NoError(t, err)
	var items []chat.Utterance
	require.NoError(t, json.Unmarshal([]byte(payload.Transcript), &items))
	assert.NotEmpty(t, items)
	assert.Regexp(t, `[+-]\d{2}:\d{2}$`, payload.Timestamp)
}

func TestNormalHangupGeneratesGoodbyeAfterSnapshot(t *testing.T) {
	delivery := &fakeDeliverer{}
	env := newTestEnv(delivery, nil, false)
	engine := newFakeEngine()
	s := startSession(t, newFakeRoom("call-5551234567"), engine, env)
	engine.history.Append(chat.Utterance{Role: chat.RoleUser, Content: "Tell James to call me back"})

	invoke(t, engine, chat.NewToolCall("c1", persona.CapabilityTerminate, map[string]any{"is_spam": false}))
	waitClosed(t, s)
	require.NoError(t, env.WaitDeliveries(context.Background()))

	last := engine.lines()[len(engine.lines())-1]
	assert.Contains(t, last.text, "Thank you for calling")
	assert.False(t, last.verbatim)

	snap := delivery.delivered()[0]
	assert.Equal(t, fixedNow, snap.TakenAt)
	for _, u := range snap.Utterances {
		assert.NotContains(t, u.Content, "Thank you for calling")
	}
}

func TestWebSessionRefusesTerminateCapability(t *testing.T) {
	engine := newFakeEngine()
	r := newFakeRoom("dashboard", room.Participant{Identity: "james"})
	s := startSession(t, r, engine, newTestEnv(&fakeDeliverer{}, nil, false))

	res := invoke(t, engine, chat.NewToolCall("c1", persona.CapabilityTerminate, nil))

	assert.True(t, res.Rejected)
	assert.Equal(t, chat.StateActive, s.State())
	assert.Zero(t, r.deletes.Load())
}

func TestPhoneSessionRefusesMemoryQuery(t *testing.T) {
	engine := newFakeEngine()
	mem := &blockingMemory{release: make(chan struct{}), result: "secret history"}
	close(mem.release)
	startSession(t, newFakeRoom("call-+15551234567"), engine, newTestEnv(nil, mem, false))

	res := invoke(t, engine, chat.NewToolCall("c1", persona.CapabilityQueryMemory, nil))

	assert.True(t, res.Rejected)
	assert.NotContains(t, res.Content, "secret")
}

func TestWebMemoryQueryReturnsHistory(t *testing.T) {
	engine := newFakeEngine()
	mem := &blockingMemory{release: make(chan struct{}), result: "Jane Doe: called about invoice"}
	close(mem.release)
	startSession(t, newFakeRoom("dashboard", room.Participant{Identity: "james"}), engine, newTestEnv(nil, mem, false))

	res := invoke(t, engine, chat.NewToolCall("c1", persona.CapabilityQueryMemory, nil))

	assert.Equal(t, "Jane Doe: called about invoice", res.Content)
	assert.False(t, res.Rejected)
	assert.GreaterOrEqual(t, engine.disallowed.Load(), int32(1))
}

func TestDisconnectObservedWhileMemoryQueryOutstanding(t *testing.T) {
	delivery := &fakeDeliverer{}
	env := newTestEnv(delivery, &blockingMemory{release: make(chan struct{})}, false)
	engine := newFakeEngine()
	r := newFakeRoom("dashboard", room.Participant{Identity: "james"})
	s := startSession(t, r, engine, env)

	call := chat.NewToolCall("c1", persona.CapabilityQueryMemory, nil)
	engine.calls <- call
	r.events <- room.Event{Type: room.EventLeft, Participant: room.Participant{Identity: "james"}, Remaining: 0}

	waitClosed(t, s)
	require.NoError(t, env.WaitDeliveries(context.Background()))
	assert.Len(t, delivery.delivered(), 1)

	// Only the greeting was spoken; no goodbye after a disconnect.
	assert.Len(t, engine.lines(), 1)
}

func TestUtterancesReachEngineWhileActive(t *testing.T) {
	engine := newFakeEngine()
	r := newFakeRoom("dashboard", room.Participant{Identity: "james"})
	startSession(t, r, engine, newTestEnv(nil, nil, false))

	r.events <- room.Event{Type: room.EventUtterance, Text: "any calls today?"}

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.heard) == 1 && engine.heard[0] == "any calls today?"
	}, time.Second, 5*time.Millisecond)
}

func TestToolCallsRejectedAfterTermination(t *testing.T) {
	engine := newFakeEngine()
	s := New("s", newFakeRoom("call-+15551234567"), engine, newTestEnv(nil, nil, false))
	require.True(t, s.Terminate(context.Background(), chat.TerminationRequest{Reason: chat.ReasonNormal, Trigger: chat.TriggerDisconnectEvent}))

	call := chat.NewToolCall("c", persona.CapabilityTerminate, nil)
	s.dispatch(context.Background(), call)

	assert.True(t, (<-call.Result()).Rejected)
}

func TestTeardownFailureStillCloses(t *testing.T) {
	delivery := &fakeDeliverer{}
	env := newTestEnv(delivery, nil, false)
	r := newFakeRoom("call-+15551234567")
	r.deleteErr = errors.New("room service down")
	s := New("s", r, newFakeEngine(), env)

	assert.True(t, s.Terminate(context.Background(), chat.TerminationRequest{Reason: chat.ReasonNormal, Trigger: chat.TriggerDisconnectEvent}))
	require.NoError(t, env.WaitDeliveries(context.Background()))

	assert.Equal(t, chat.StateClosed, s.State())
	assert.Len(t, delivery.delivered(), 1)
}

func TestRecordFactThroughWebSession(t *testing.T) {
	env := newTestEnv(nil, nil, true)
	engine := newFakeEngine()
	startSession(t, newFakeRoom("dashboard", room.Participant{Identity: "james"}), engine, env)

	res := invoke(t, engine, chat.NewToolCall("c1", persona.CapabilityRecordFact, map[string]any{"key": "dentist", "value": "Friday"}))

	assert.Equal(t, "saved", res.Content)
	assert.Equal(t, map[string]string{"dentist": "Friday"}, env.Facts.All())
}

func TestContextCancelClosesSession(t *testing.T) {
	delivery := &fakeDeliverer{}
	env := newTestEnv(delivery, nil, false)
	s := New("s", newFakeRoom("dashboard", room.Participant{Identity: "james"}), newFakeEngine(), env)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Persona().ID != "" }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	require.NoError(t, env.WaitDeliveries(context.Background()))
	assert.Equal(t, chat.StateClosed, s.State())
	assert.Len(t, delivery.delivered(), 1)
}

func TestAdmitReportsWhyACallIsRefused(t *testing.T) {
	engine := newFakeEngine()
	r := newFakeRoom("dashboard", room.Participant{Identity: "james"})
	s := startSession(t, r, engine, newTestEnv(nil, nil, false))

	assert.ErrorIs(t, s.admit(persona.CapabilityTerminate), ErrCapabilityNotExposed)
	assert.NoError(t, s.admit(persona.CapabilityQueryMemory))

	s.Terminate(context.Background(), chat.TerminationRequest{Reason: chat.ReasonNormal, Trigger: chat.TriggerDisconnectEvent})
	assert.ErrorIs(t, s.admit(persona.CapabilityQueryMemory), ErrSessionClosed)
}
