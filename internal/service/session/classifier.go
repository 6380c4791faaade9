package session

import (
	"log"
	"regexp"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/room"
)

// DefaultPhonePrefix is the room-name prefix the telephony dispatcher uses.
const DefaultPhonePrefix = "call-"

// Classifier decides whether a session came from the phone network or the web.
type Classifier struct {
	phoneRoom *regexp.Regexp
}

// NewClassifier builds a classifier for rooms named <prefix>[_][+]<7-15 digits>...
func NewClassifier(prefix string) *Classifier {
	if prefix == "" {
		prefix = DefaultPhonePrefix
	}
	return &Classifier{
		phoneRoom: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_?\+?[0-9]{7,15}`),
	}
}

// Classify applies, in order: phone room-name pattern, any SIP participant,
// then the web default.
func (c *Classifier) Classify(nameHint string, participants []room.Participant) persona.Origin {
	if c.phoneRoom.MatchString(nameHint) {
		return persona.OriginPhone
	}
	for _, p := range participants {
		if p.Kind == room.KindSIP {
			return persona.OriginPhone
		}
	}
	log.Printf("[session] classification defaulted to web room=%s participants=%d", nameHint, len(participants))
	return persona.OriginWeb
}
