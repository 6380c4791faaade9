package chat

import "time"

// State is the lifecycle position of a session.
type State string

const (
	StateActive      State = "active"
	StateTerminating State = "terminating"
	StateClosed      State = "closed"
)

// Reason tags how a session ended.
type Reason string

const (
	ReasonNormal Reason = "normal"
	ReasonSpam   Reason = "spam"
)

// Trigger identifies what asked for the session to end.
type Trigger string

const (
	TriggerToolInvocation  Trigger = "tool_invocation"
	TriggerDisconnectEvent Trigger = "disconnect_event"
)

// TerminationRequest asks a session to end. At most one is honoured per session.
type TerminationRequest struct {
	Reason  Reason
	Trigger Trigger
}

// Snapshot is the frozen transcript handed to delivery.
type Snapshot struct {
	SessionID  string
	Room       string
	Utterances []Utterance
	TakenAt    time.Time
}

// Info summarises a live session for listing.
type Info struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Origin    string    `json:"origin"`
	PersonaID string    `json:"personaId"`
	State     State     `json:"state"`
	Reason    Reason    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
