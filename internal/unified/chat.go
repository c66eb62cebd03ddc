// Package unified holds the provider-agnostic request/response/chunk shapes
// the gateway exposes to its host, generalized from an Anthropic-shaped
// CommonMessage/CommonToolCall (internal/providers/base.go) into a
// target-neutral data model.
package unified

import (
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
)

// Role identifies the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason is the provider-agnostic reason a chat turn ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishOther     FinishReason = "other"
)

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded arguments object
}

// ChatMessage is one turn in a conversation. Content may be empty when
// Role is assistant and ToolCalls is non-empty.
type ChatMessage struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // only valid when Role == RoleAssistant
	ToolCallID string     // only valid when Role == RoleTool
}

// Tool is a function definition the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema // JSON-schema for the function's arguments
}

// Usage is an optional, best-effort token accounting surface populated
// when a provider template declares usage response paths.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CacheReadTokens  int
}

// UnifiedChatRequest is the single internal request shape for chat
// completions, streaming or not.
type UnifiedChatRequest struct {
	ConversationID  string
	Messages        []ChatMessage
	Tools           []Tool
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	ForceJSONOutput bool
	Stream          bool // advisory only; excluded from the cache key
}

// UnifiedChatResponse is the non-streaming chat result.
type UnifiedChatResponse struct {
	FinishReason FinishReason
	Message      ChatMessage // Role == RoleAssistant
	Usage        *Usage
}

// UnifiedChatChunk is one unit of a streaming chat result. Only the last
// chunk of a stream carries a non-empty FinishReason.
type UnifiedChatChunk struct {
	ContentDelta string
	FinishReason FinishReason // empty until the terminal chunk
	ToolCalls    []ToolCall   // only set on the terminal chunk
	Usage        *Usage
}

// UnifiedEmbeddingRequest is the request shape for text embeddings.
type UnifiedEmbeddingRequest struct {
	Inputs []string
	Model  string // optional override
}

// EmbeddingResult pairs an embedding vector with its position in the
// original UnifiedEmbeddingRequest.Inputs.
type EmbeddingResult struct {
	Index     int
	Embedding []float64
}

// UnifiedEmbeddingResponse is the ordered embedding result: Data[i] always
// corresponds to Inputs[i], even across de-duplication.
type UnifiedEmbeddingResponse struct {
	Data []EmbeddingResult
}

// Validate enforces structural invariants on a chat request:
//   - ConversationID is non-empty.
//   - Messages is non-empty, optionally led by a system message, then
//     strictly role-ordered content.
//   - a tool message's ToolCallID must reference an earlier assistant ToolCall.
//   - only assistant messages carry ToolCalls; only tool messages carry ToolCallID.
//   - every entry in Tools passes ValidateTools.
func (r *UnifiedChatRequest) Validate() *gwerr.Error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return gwerr.New(gwerr.InvalidArgument, "conversationId must be non-empty")
	}

	if len(r.Messages) == 0 {
		return gwerr.New(gwerr.InvalidArgument, "messages must be non-empty")
	}

	if verr := ValidateTools(r.Tools); verr != nil {
		return verr
	}

	knownToolCallIDs := map[string]bool{}

	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return gwerr.New(gwerr.InvalidArgument, "messages[%d]: unknown role %q", i, m.Role)
		}

		if m.Role == RoleSystem && i != 0 {
			return gwerr.New(gwerr.InvalidArgument, "messages[%d]: system message must be first", i)
		}

		if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
			return gwerr.New(gwerr.InvalidArgument, "messages[%d]: only assistant messages may carry tool calls", i)
		}

		if m.ToolCallID != "" && m.Role != RoleTool {
			return gwerr.New(gwerr.InvalidArgument, "messages[%d]: only tool messages may carry a tool_call_id", i)
		}

		if m.Role == RoleAssistant {
			for _, tc := range m.ToolCalls {
				knownToolCallIDs[tc.ID] = true
			}
		}

		if m.Role == RoleTool {
			if m.ToolCallID == "" {
				return gwerr.New(gwerr.InvalidArgument, "messages[%d]: tool message missing tool_call_id", i)
			}
			if !knownToolCallIDs[m.ToolCallID] {
				return gwerr.New(gwerr.InvalidArgument, "messages[%d]: tool_call_id %q does not match an earlier assistant tool call", i, m.ToolCallID)
			}
		}

		if m.Role != RoleAssistant && m.Content == "" {
			return gwerr.New(gwerr.InvalidArgument, "messages[%d]: content must be non-empty", i)
		}
	}

	return nil
}

// Validate enforces the invariant that Inputs is non-empty.
func (r *UnifiedEmbeddingRequest) Validate() *gwerr.Error {
	if len(r.Inputs) == 0 {
		return gwerr.New(gwerr.InvalidArgument, "inputs must be non-empty")
	}
	for i, in := range r.Inputs {
		if in == "" {
			return gwerr.New(gwerr.InvalidArgument, "inputs[%d]: must be non-empty", i)
		}
	}
	return nil
}
