package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/room"
)

func TestClassify(t *testing.T) {
	sip := room.Participant{Identity: "pstn", Kind: room.KindSIP}
	web := room.Participant{Identity: "james", Kind: room.KindStandard}

	cases := []struct {
		name         string
		room         string
		participants []room.Participant
		want         persona.Origin
	}{
		{"phone room name without participants", "call-+15551234567", nil, persona.OriginPhone},
		{"phone room name with dispatch suffix", "call-_+15551234567_a1b2", nil, persona.OriginPhone},
		{"phone room name wins over web participant", "call-5551234567", []room.Participant{web}, persona.OriginPhone},
		{"sip participant in plain room", "dashboard", []room.Participant{web, sip}, persona.OriginPhone},
		{"prefix without number", "call-me-maybe", []room.Participant{web}, persona.OriginWeb},
		{"too few digits", "call-12345", nil, persona.OriginWeb},
		{"empty room defaults to web", "", nil, persona.OriginWeb},
	}

	c := NewClassifier("")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.room, tc.participants))
		})
	}
}

func TestClassifyCustomPrefix(t *testing.T) {
	c := NewClassifier("pstn.")

	assert.Equal(t, persona.OriginPhone, c.Classify("pstn.+442079460000", nil))
	assert.Equal(t, persona.OriginWeb, c.Classify("call-+15551234567", nil))
}
