package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
)

// FactSource supplies facts remembered in earlier sessions.
type FactSource interface {
	All() map[string]string
}

// PromptBuilder assembles the system prompt for a persona.
type PromptBuilder struct {
	facts FactSource
}

// NewPromptBuilder creates a builder; facts may be nil.
func NewPromptBuilder(facts FactSource) *PromptBuilder {
	return &PromptBuilder{facts: facts}
}

// BuildSystemPrompt returns the persona instructions, followed by remembered
// facts when the persona is allowed to record them.
func (b *PromptBuilder) BuildSystemPrompt(p persona.Persona) string {
	base := strings.TrimSpace(p.Instructions)
	if base == "" {
		base = b.buildBasicSystemPrompt(p)
	}

	if b == nil || b.facts == nil || !p.Capabilities.Has(persona.CapabilityRecordFact) {
		return base
	}
	known := b.facts.All()
	if len(known) == 0 {
		return base
	}

	keys := make([]string, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(base)
	builder.WriteString("\n\nFacts you were asked to remember:")
	for _, k := range keys {
		builder.WriteString(fmt.Sprintf("\n- %s: %s", k, known[k]))
	}
	return builder.String()
}

func (b *PromptBuilder) buildBasicSystemPrompt(p persona.Persona) string {
	return fmt.Sprintf("You are %s, %s. Keep responses short and clear.", p.Name, p.Title)
}
