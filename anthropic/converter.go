package anthropic

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/convoflow/convoflow/tool"
	"github.com/convoflow/convoflow/types"
)

// convertMessages splits an effective context into the Anthropic system
// blocks and the message list. Leading system-role messages become system
// blocks; a summary block produced by compaction rides along the same way.
func convertMessages(messages []*types.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	params := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			system = append(system, anthropic.TextBlockParam{
				Type: "text",
				Text: msg.Content,
			})

		case types.RoleUser:
			params = append(params, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))

		case types.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input any
				if len(call.Input) > 0 {
					_ = json.Unmarshal(call.Input, &input)
				}
				// The API requires a dictionary, not null
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			params = append(params, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		case types.RoleTool:
			// Tool results travel as a user message of tool_result blocks.
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolResultBlock(call.ID, call.Output, call.IsError))
			}
			params = append(params, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: blocks,
			})
		}
	}

	return system, params
}

// convertTools converts tool definitions to Anthropic tool unions.
func convertTools(defs []tool.Definition) []anthropic.ToolUnionParam {
	unions := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		properties := make(map[string]any, len(def.InputSchema.Properties))
		for name, prop := range def.InputSchema.Properties {
			properties[name] = convertProperty(prop)
		}

		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: properties,
		}
		if len(def.InputSchema.Required) > 0 {
			inputSchema.Required = def.InputSchema.Required
		}

		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: inputSchema,
		}
		unions = append(unions, anthropic.ToolUnionParam{OfTool: &param})
	}
	return unions
}

func convertProperty(prop tool.Property) map[string]any {
	out := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		out["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		out["enum"] = prop.Enum
	}
	if prop.Items != nil {
		out["items"] = convertProperty(*prop.Items)
	}
	return out
}

// convertResponse turns an SDK message into a completion.
func convertResponse(msg *anthropic.Message) *types.Completion {
	comp := &types.Completion{
		StopReason: string(msg.StopReason),
		Usage: types.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			comp.Text += b.Text
		case anthropic.ToolUseBlock:
			comp.ToolRequests = append(comp.ToolRequests, types.ToolRequest{
				ID:    b.ID,
				Name:  b.Name,
				Input: json.RawMessage(b.Input),
			})
		}
	}

	return comp
}
