package ai

import (
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
)

// ToolInfos describes each capability in caps as a model tool, in set order.
func ToolInfos(caps persona.CapabilitySet) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(caps))
	for _, c := range caps {
		if info := toolInfo(c); info != nil {
			infos = append(infos, info)
		}
	}
	return infos
}

func toolInfo(c persona.Capability) *schema.ToolInfo {
	switch c {
	case persona.CapabilityTerminate:
		return &schema.ToolInfo{
			Name: string(c),
			Desc: "Hang up the call. Set is_spam to true for sales pitches and solicitations; leave it false when ending a normal call after collecting the caller's details.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"is_spam": {
					Type: schema.Boolean,
					Desc: "true when the caller is a spammer or solicitor",
				},
			}),
		}
	case persona.CapabilityQueryMemory:
		return &schema.ToolInfo{
			Name:        string(c),
			Desc:        "Retrieve recent call history and voicemail summaries. Returns an empty string when there is nothing to report.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		}
	case persona.CapabilityRecordFact:
		return &schema.ToolInfo{
			Name: string(c),
			Desc: "Remember a fact about the principal for later sessions. Recording an existing key replaces its value.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"key": {
					Type:     schema.String,
					Desc:     "short identifier such as favorite_restaurant",
					Required: true,
				},
				"value": {
					Type:     schema.String,
					Desc:     "the fact itself",
					Required: true,
				},
			}),
		}
	default:
		return nil
	}
}

type legacyToolBinder interface {
	BindTools(tools []*schema.ToolInfo) error
}

// bindTools returns a model that advertises tools. Models that only support
// in-place binding are mutated, so base must belong to a single engine.
func bindTools(base model.BaseChatModel, tools []*schema.ToolInfo) (model.BaseChatModel, error) {
	if len(tools) == 0 {
		return base, nil
	}
	if tc, ok := base.(model.ToolCallingChatModel); ok {
		return tc.WithTools(tools)
	}
	if legacy, ok := base.(legacyToolBinder); ok {
		if err := legacy.BindTools(tools); err != nil {
			return nil, err
		}
		return base, nil
	}
	return nil, fmt.Errorf("chat model %T does not support tool calling", base)
}
