package translate

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/jsonpath"
	"github.com/mihaisavezi/llmgateway/internal/mergedconfig"
	"github.com/mihaisavezi/llmgateway/internal/template"
	"github.com/mihaisavezi/llmgateway/internal/unified"
)

// ParseChatResponse parses a non-streaming chat completion HTTP body into a
// UnifiedChatResponse.
func ParseChatResponse(mc *mergedconfig.MergedConfig, body []byte) (*unified.UnifiedChatResponse, *gwerr.Error) {
	paths := mc.Template.ChatAPI.ResponsePaths

	var tree any
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidResponse, err, "%s: malformed chat response JSON", mc.ProviderName)
	}

	choices, ok := jsonpath.GetSlice(tree, paths.Choices)
	if !ok || len(choices) == 0 {
		return nil, gwerr.New(gwerr.InvalidResponse, "%s: no choices in response", mc.ProviderName)
	}

	choice := choices[0]

	content, _ := jsonpath.GetString(choice, paths.Content)

	toolCalls := parseResponseToolCalls(choice, paths.ToolCalls)

	if content == "" && len(toolCalls) == 0 {
		return nil, gwerr.New(gwerr.InvalidResponse, "%s: neither content nor tool calls present in response", mc.ProviderName)
	}

	finishReasonRaw, _ := jsonpath.GetString(choice, paths.FinishReason)

	resp := &unified.UnifiedChatResponse{
		FinishReason: mapFinishReason(finishReasonRaw),
		Message: unified.ChatMessage{
			Role:      unified.RoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
		},
	}

	if usage := parseUsage(tree, paths); usage != nil {
		resp.Usage = usage
	}

	return resp, nil
}

// parseResponseToolCalls reads the array at toolCallsPath (relative to
// choice) and extracts each entry's id/function.name/function.arguments —
// the same field names CommonToolCall/CommonFunctionCall use
// (internal/providers/base.go), since every template in this module speaks
// the OpenAI-compatible tool_calls wire shape.
func parseResponseToolCalls(choice any, toolCallsPath string) []unified.ToolCall {
	if toolCallsPath == "" {
		return nil
	}

	entries, ok := jsonpath.GetSlice(choice, toolCallsPath)
	if !ok {
		return nil
	}

	calls := make([]unified.ToolCall, 0, len(entries))
	for _, e := range entries {
		id, _ := jsonpath.GetString(e, "id")
		name, _ := jsonpath.GetString(e, "function.name")
		args, _ := jsonpath.GetString(e, "function.arguments")

		if name == "" {
			continue
		}

		// A handful of providers omit an explicit tool-call id on a
		// non-streaming response; synthesize one so downstream tool-reply
		// matching (unified.ChatMessage.ToolCallID) always has something to
		// key on, replacing fmt.Sprintf("func_%d",
		// time.Now().UnixNano()) with a proper UUID.
		if id == "" {
			id = uuid.NewString()
		}

		calls = append(calls, unified.ToolCall{ID: id, Name: name, Arguments: args})
	}

	return calls
}

func parseUsage(tree any, paths template.ChatResponsePaths) *unified.Usage {
	var usage unified.Usage
	found := false

	if v, ok := jsonpath.Get(tree, paths.UsagePromptTokens); ok && paths.UsagePromptTokens != "" {
		usage.PromptTokens = toInt(v)
		found = true
	}
	if v, ok := jsonpath.Get(tree, paths.UsageCompletionTokens); ok && paths.UsageCompletionTokens != "" {
		usage.CompletionTokens = toInt(v)
		found = true
	}
	if v, ok := jsonpath.Get(tree, paths.UsageCacheReadTokens); ok && paths.UsageCacheReadTokens != "" {
		usage.CacheReadTokens = toInt(v)
		found = true
	}

	if !found {
		return nil
	}
	return &usage
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// mapFinishReason normalizes a provider's wire finish/stop reason string
// into the unified FinishReason enum, generalizing ConvertStopReason
// (internal/providers/base.go) from a fixed OpenAI→Anthropic table to a
// small provider-agnostic set.
func mapFinishReason(reason string) unified.FinishReason {
	switch reason {
	case "stop", "end_turn", "":
		return unified.FinishStop
	case "length", "max_tokens":
		return unified.FinishLength
	case "tool_calls", "tool_use", "function_call":
		return unified.FinishToolCalls
	case "content_filter":
		return unified.FinishOther
	default:
		return unified.FinishStop
	}
}
