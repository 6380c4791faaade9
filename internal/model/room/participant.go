package room

import "time"

// Kind is the participant type declared on join.
type Kind string

const (
	KindStandard Kind = "standard"
	// KindSIP marks a participant bridged in from the telephone network.
	KindSIP Kind = "sip"
)

// ParseKind normalises a declared kind, defaulting to standard.
func ParseKind(raw string) Kind {
	if Kind(raw) == KindSIP {
		return KindSIP
	}
	return KindStandard
}

// Participant is a remote party connected to a room.
type Participant struct {
	Identity string    `json:"identity"`
	Kind     Kind      `json:"kind"`
	JoinedAt time.Time `json:"joinedAt"`
}

// EventType distinguishes participant lifecycle and speech events.
type EventType string

const (
	EventJoined    EventType = "joined"
	EventLeft      EventType = "left"
	EventUtterance EventType = "utterance"
)

// Event is delivered on a room's event channel.
type Event struct {
	Type        EventType
	Participant Participant
	Text        string
	// Remaining counts participants still connected after the event.
	Remaining int
}
