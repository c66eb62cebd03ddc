// Package translate implements the request/response
// translators: turning a UnifiedChatRequest/UnifiedEmbeddingRequest into a
// provider-shaped JSON body via a ProviderTemplate's dotted paths, and
// turning a provider-shaped JSON body back into a Unified*Response.
//
// Request/response message shape (role/content/tool_calls/tool_call_id/
// function.name/function.arguments) follows the OpenAI-compatible wire
// format CommonMessage/CommonToolCall/CommonFunctionCall
// (internal/providers/base.go) already treats as the lingua franca for
// every provider it supports; only the *paths* those fields live at within
// the outer body vary per template.
package translate

import (
	"encoding/json"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/jsonpath"
	"github.com/mihaisavezi/llmgateway/internal/mergedconfig"
	"github.com/mihaisavezi/llmgateway/internal/unified"
)

// BuildChatRequest constructs the provider-shaped JSON request body for req
// against mc's template.
func BuildChatRequest(mc *mergedconfig.MergedConfig, req *unified.UnifiedChatRequest) ([]byte, *gwerr.Error) {
	tmpl := mc.Template

	var root any = deepCopyParameters(mc.StaticParameters)

	jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.Model, mc.ChatModel)

	messages := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, buildMessage(m))
	}
	jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.Messages, messages)

	if len(req.Tools) > 0 && tmpl.ChatAPI.RequestPaths.Tools != "" {
		tools, err := buildTools(req.Tools)
		if err != nil {
			return nil, err
		}
		jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.Tools, tools)

		if tmpl.ChatAPI.RequestPaths.ToolChoice != "" {
			jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.ToolChoice, "auto")
		}
	}

	if req.Temperature != nil && tmpl.ChatAPI.RequestPaths.Temperature != "" {
		jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.Temperature, *req.Temperature)
	} else if mc.Temperature != nil && tmpl.ChatAPI.RequestPaths.Temperature != "" {
		jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.Temperature, *mc.Temperature)
	}

	if req.TopP != nil && tmpl.ChatAPI.RequestPaths.TopP != "" {
		jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.TopP, *req.TopP)
	} else if mc.TopP != nil && tmpl.ChatAPI.RequestPaths.TopP != "" {
		jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.TopP, *mc.TopP)
	}

	if req.MaxTokens != nil && tmpl.ChatAPI.RequestPaths.MaxTokens != "" {
		jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.MaxTokens, *req.MaxTokens)
	}

	if req.ForceJSONOutput && tmpl.ChatAPI.JSONMode != nil {
		jsonpath.Set(&root, tmpl.ChatAPI.JSONMode.Path, tmpl.ChatAPI.JSONMode.Value)
	}

	jsonpath.Set(&root, tmpl.ChatAPI.RequestPaths.Stream, req.Stream)

	data, err := json.Marshal(root)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidArgument, err, "marshal chat request body")
	}

	return data, nil
}

func buildMessage(m unified.ChatMessage) map[string]any {
	msg := map[string]any{
		"role":    string(m.Role),
		"content": m.Content,
	}

	if m.ToolCallID != "" {
		msg["tool_call_id"] = m.ToolCallID
	}

	if len(m.ToolCalls) > 0 {
		calls := make([]any, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			calls = append(calls, map[string]any{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			})
		}
		msg["tool_calls"] = calls
	}

	return msg
}

// buildTools translates unified Tool definitions into the
// {type: "function", function: {name, description, parameters}} shape
// (the template's ToolPaths describe where a provider-specific tool
// definition would diverge from this shape; none of the providers in the
// retrieved pack do, so every template in this module uses the shape
// directly).
func buildTools(tools []unified.Tool) ([]any, *gwerr.Error) {
	out := make([]any, 0, len(tools))

	for _, t := range tools {
		var params any
		if t.Parameters != nil {
			raw, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, gwerr.Wrap(gwerr.InvalidArgument, err, "marshal tool %q parameters", t.Name)
			}
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, gwerr.Wrap(gwerr.InvalidArgument, err, "unmarshal tool %q parameters", t.Name)
			}
		}

		entry := map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		}
		out = append(out, entry)
	}

	return out, nil
}

// deepCopyParameters returns a fresh copy of params so repeated calls never
// share mutable state with MergedConfig.StaticParameters.
func deepCopyParameters(params map[string]any) map[string]any {
	if len(params) == 0 {
		return map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
