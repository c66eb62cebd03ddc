package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mihaisavezi/llmgateway/internal/mergedconfig"
	"github.com/mihaisavezi/llmgateway/internal/unified"
)

// ChatKey builds the cache key for a chat request. Stream is
// deliberately excluded from the hashed payload so a streaming and a
// non-streaming request with otherwise identical content share one entry.
func ChatKey(mc *mergedconfig.MergedConfig, req *unified.UnifiedChatRequest) string {
	convHash := sha256Hex(req.ConversationID)[:16]
	payloadHash := sha256Hex(string(canonicalChatPayload(mc, req)))

	return "chat:" + mc.ProviderName + ":" + mc.ChatModel + ":conv:" + convHash + ":" + payloadHash
}

// ConversationPrefix returns the key prefix shared by every ChatKey built
// for conversationID under mc's current provider/model — the argument to
// Store.InvalidateByPrefix for invalidate-by-conversation.
func ConversationPrefix(mc *mergedconfig.MergedConfig, conversationID string) string {
	convHash := sha256Hex(conversationID)[:16]
	return "chat:" + mc.ProviderName + ":" + mc.ChatModel + ":conv:" + convHash + ":"
}

// EmbeddingKey builds the cache key for a single embedding input.
func EmbeddingKey(mc *mergedconfig.MergedConfig, text string) string {
	return "embed:" + mc.ProviderName + ":" + mc.EmbeddingModel + ":" + sha256Hex(NormalizeEmbeddingInput(text))
}

// NormalizeEmbeddingInput applies Unicode NFC followed by whitespace
// trimming, so two cache implementations agree on the same key for
// equivalent inputs.
func NormalizeEmbeddingInput(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// canonicalMessage is the normalized, key-sorted shape of one ChatMessage
// for payload hashing: content, role, tool_call_id, tool_calls. encoding/json
// emits struct fields in declaration order, so the fields are declared in
// sorted key order.
type canonicalMessage struct {
	Content    string             `json:"content"`
	Role       string             `json:"role"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	ToolCalls  []canonicalToolCall `json:"tool_calls,omitempty"`
}

type canonicalToolCall struct {
	Arguments string `json:"arguments"`
	ID        string `json:"id"`
	Name      string `json:"name"`
}

type canonicalTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters,omitempty"`
}

// canonicalPayload is the normalized request shape that is hashed into the
// chat cache key's payloadHash component. Stream is deliberately absent.
type canonicalPayload struct {
	Messages         []canonicalMessage `json:"messages"`
	Tools            []canonicalTool    `json:"tools,omitempty"`
	ForceJSONOutput  bool               `json:"forceJsonOutput"`
	Temperature      string             `json:"temperature,omitempty"`
	TopP             string             `json:"topP,omitempty"`
	MaxTokens        string             `json:"maxTokens,omitempty"`
	StaticParameters json.RawMessage    `json:"staticParameters,omitempty"`
}

func canonicalChatPayload(mc *mergedconfig.MergedConfig, req *unified.UnifiedChatRequest) []byte {
	messages := make([]canonicalMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		cm := canonicalMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, canonicalToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		messages = append(messages, cm)
	}

	var tools []canonicalTool
	for _, t := range req.Tools {
		ct := canonicalTool{Name: t.Name, Description: t.Description}
		if t.Parameters != nil {
			if raw, err := json.Marshal(t.Parameters); err == nil {
				ct.Parameters = string(raw)
			}
		}
		tools = append(tools, ct)
	}

	payload := canonicalPayload{
		Messages:        messages,
		Tools:           tools,
		ForceJSONOutput: req.ForceJSONOutput,
	}

	if req.Temperature != nil {
		payload.Temperature = strconv.FormatFloat(*req.Temperature, 'g', -1, 64)
	}
	if req.TopP != nil {
		payload.TopP = strconv.FormatFloat(*req.TopP, 'g', -1, 64)
	}
	if req.MaxTokens != nil {
		payload.MaxTokens = strconv.Itoa(*req.MaxTokens)
	}

	payload.StaticParameters = sortedJSON(mc.StaticParameters)

	data, _ := json.Marshal(payload)
	return data
}

// sortedJSON marshals m into a deterministic canonical form. encoding/json
// already encodes map[string]any keys in sorted order at every nesting
// level, so this is a direct marshal — named to document that the
// ordering guarantee the payload hash depends on is relied upon
// deliberately, not incidental.
func sortedJSON(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}
