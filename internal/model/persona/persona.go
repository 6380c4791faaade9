package persona

import (
	"fmt"
	"strings"
)

// Origin tells whether a session came in over a phone line or from the web dashboard.
type Origin string

const (
	OriginPhone Origin = "phone"
	OriginWeb   Origin = "web"
)

// Capability names an action the conversational engine may invoke. The value
// doubles as the tool name advertised to the model.
type Capability string

const (
	CapabilityTerminate   Capability = "hangup_call"
	CapabilityQueryMemory Capability = "get_call_debrief"
	CapabilityRecordFact  Capability = "record_fact"
)

// CapabilitySet is the closed set of tools bound to a persona.
type CapabilitySet []Capability

// Has reports whether c is part of the set.
func (s CapabilitySet) Has(c Capability) bool {
	for _, item := range s {
		if item == c {
			return true
		}
	}
	return false
}

// Persona is the instruction profile and capability set bound to a session for its lifetime.
type Persona struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Title        string        `json:"title"`
	Origin       Origin        `json:"origin"`
	Instructions string        `json:"instructions"`
	OpeningLine  string        `json:"openingLine"`
	Goodbye      string        `json:"goodbye,omitempty"`   // instructions for a normal hangup
	Rejection    string        `json:"rejection,omitempty"` // spoken verbatim on a spam hangup
	Capabilities CapabilitySet `json:"capabilities"`
}

// Profile carries the names woven into both bundles.
type Profile struct {
	PrincipalName string
	AssistantName string
	FactsEnabled  bool
}

// SpamRejectionLine is read to solicitors word for word.
const SpamRejectionLine = "I'm not interested in unsolicited offers. Please remove this number from your calling list. Goodbye."

// SpamCategories lists the solicitations that end a phone call immediately.
var SpamCategories = []string{
	"car warranty",
	"extended warranty",
	"insurance offers",
	"debt relief",
	"credit card offers",
	"timeshare",
	"any unsolicited sales pitch",
}

// Seed builds the screening and staff bundles.
func Seed(p Profile) []Persona {
	if strings.TrimSpace(p.PrincipalName) == "" {
		p.PrincipalName = "James"
	}
	if strings.TrimSpace(p.AssistantName) == "" {
		p.AssistantName = "Sarah"
	}

	webCaps := CapabilitySet{CapabilityQueryMemory}
	if p.FactsEnabled {
		webCaps = append(webCaps, CapabilityRecordFact)
	}

	return []Persona{
		{
			ID:           "screening",
			Name:         p.AssistantName,
			Title:        "Receptionist",
			Origin:       OriginPhone,
			Instructions: phoneInstructions(p),
			OpeningLine:  fmt.Sprintf("Say: 'Hello, this is %s's AI. Who is calling?'", p.PrincipalName),
			Goodbye:      fmt.Sprintf("Say a polite goodbye, such as: 'Thank you for calling. I'll make sure %s gets your message. Have a great day!'", p.PrincipalName),
			Rejection:    SpamRejectionLine,
			Capabilities: CapabilitySet{CapabilityTerminate},
		},
		{
			ID:           "staff",
			Name:         p.AssistantName,
			Title:        "Chief of Staff",
			Origin:       OriginWeb,
			Instructions: webInstructions(p),
			OpeningLine:  fmt.Sprintf("Say: 'Welcome back, %s. How can I help you today?'", p.PrincipalName),
			Capabilities: webCaps,
		},
	}
}

func phoneInstructions(p Profile) string {
	return fmt.Sprintf(`You are %q, a protective AI Receptionist for %s, answering a phone call forwarded from voicemail.
PRIORITY: If the caller mentions ANY of these: %s, you MUST IMMEDIATELY call the %s tool with is_spam=true. Do not respond verbally first. Do not ask questions.
For legitimate calls: screen the call, collect name and full message. Let them finish speaking before ending.
When the caller says goodbye, thanks you, or indicates the conversation is complete, call %s with is_spam=false. Do NOT say goodbye yourself; the tool handles it.
Keep responses under 2 sentences. Be professional, firm, and concise.`,
		p.AssistantName, p.PrincipalName, strings.Join(SpamCategories, ", "), CapabilityTerminate, CapabilityTerminate)
}

func webInstructions(p Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %q, %s's Chief of Staff on the web dashboard.\n", p.AssistantName, p.PrincipalName)
	fmt.Fprintf(&b, "When asked about voicemails, calls, or call history, use %s. If data exists, summarize it. If empty, say \"I don't see any recent calls yet.\" Never invent call information.\n", CapabilityQueryMemory)
	if p.FactsEnabled {
		fmt.Fprintf(&b, "When %s asks you to remember something, store it with %s using a short key.\n", p.PrincipalName, CapabilityRecordFact)
	}
	fmt.Fprintf(&b, "Keep responses concise (1-2 sentences unless detail is requested). Welcome %s back and offer help.", p.PrincipalName)
	return b.String()
}
