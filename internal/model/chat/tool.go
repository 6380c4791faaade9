package chat

import (
	"strconv"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
)

// ToolCall is a capability invocation raised by the conversational engine.
type ToolCall struct {
	ID         string
	Capability persona.Capability
	Args       map[string]any
	reply      chan ToolResult
}

// ToolResult is what the session hands back to the engine.
type ToolResult struct {
	Content  string
	Rejected bool
	// Final means the conversation is over and the engine must stop generating.
	Final bool
}

// NewToolCall builds a call with a single-slot reply channel.
func NewToolCall(id string, capability persona.Capability, args map[string]any) ToolCall {
	return ToolCall{ID: id, Capability: capability, Args: args, reply: make(chan ToolResult, 1)}
}

// Respond delivers the result. Only the first response is kept.
func (c ToolCall) Respond(r ToolResult) {
	select {
	case c.reply <- r:
	default:
	}
}

// Result returns the channel the engine waits on.
func (c ToolCall) Result() <-chan ToolResult {
	return c.reply
}

// Bool reads a boolean argument, accepting string forms models sometimes emit.
func (c ToolCall) Bool(name string) bool {
	switch v := c.Args[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// String reads a string argument.
func (c ToolCall) String(name string) string {
	if v, ok := c.Args[name].(string); ok {
		return v
	}
	return ""
}
