// Package template holds ProviderTemplate, the declarative description of
// one provider's API, generalized from five
// hardcoded Go provider structs (internal/providers/{openai,gemini,nvidia,
// openrouter,anthropic}.go) into template-driven request/response paths.
package template

import (
	"encoding/json"
	"fmt"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
)

// HTTPConfig describes how to authenticate against the provider.
type HTTPConfig struct {
	AuthHeader string            `json:"authHeader"`
	AuthScheme string            `json:"authScheme"`
	Headers    map[string]string `json:"headers,omitempty"`
	// RequireAPIKey encodes per-template whether a non-empty API key is
	// mandatory: local providers like Ollama may accept an empty key.
	// Defaults to true when absent from JSON.
	RequireAPIKey *bool `json:"requireApiKey,omitempty"`
}

func (h HTTPConfig) RequiresAPIKey() bool {
	if h.RequireAPIKey == nil {
		return true
	}
	return *h.RequireAPIKey
}

// ChatRequestPaths maps internal chat fields to dotted paths in the
// provider's JSON request body.
type ChatRequestPaths struct {
	Model       string `json:"model"`
	Messages    string `json:"messages"`
	Temperature string `json:"temperature,omitempty"`
	TopP        string `json:"topP,omitempty"`
	MaxTokens   string `json:"maxTokens,omitempty"`
	Stream      string `json:"stream"`
	Tools       string `json:"tools,omitempty"`
	ToolChoice  string `json:"toolChoice,omitempty"`
}

// ChatResponsePaths maps dotted paths in the provider's JSON response to
// internal chat fields (non-streaming mode).
type ChatResponsePaths struct {
	Choices              string `json:"choices"`
	Content              string `json:"content"`
	ToolCalls            string `json:"toolCalls"`
	FinishReason         string `json:"finishReason"`
	UsagePromptTokens    string `json:"usagePromptTokens,omitempty"`
	UsageCompletionTokens string `json:"usageCompletionTokens,omitempty"`
	UsageCacheReadTokens string `json:"usageCacheReadTokens,omitempty"`
}

// ToolPaths maps dotted paths for tool (function) definitions in the
// request body.
type ToolPaths struct {
	Root                string `json:"root"`
	Type                string `json:"type"`
	FunctionName        string `json:"functionName"`
	FunctionDescription string `json:"functionDescription"`
	FunctionParameters  string `json:"functionParameters"`
}

// JSONMode describes the path+literal value to inject when the caller asks
// to force JSON output.
type JSONMode struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// StreamPaths maps dotted paths for incremental streaming (SSE) chunks.
// These are relative to a single decoded SSE event's JSON payload.
type StreamPaths struct {
	DeltaContent      string `json:"deltaContent"`
	ToolCallsDelta    string `json:"toolCallsDelta"`
	ToolCallIndex     string `json:"toolCallIndex"`
	ToolCallID        string `json:"toolCallId"`
	ToolCallName      string `json:"toolCallName"`
	ToolCallArguments string `json:"toolCallArguments"`
	FinishReason      string `json:"finishReason"`
}

// ChatAPI describes the chat-completions endpoint of a provider.
type ChatAPI struct {
	Endpoint          string            `json:"endpoint"`
	DefaultModel      string            `json:"defaultModel"`
	DefaultParameters map[string]any    `json:"defaultParameters,omitempty"`
	RequestPaths      ChatRequestPaths  `json:"requestPaths"`
	ResponsePaths     ChatResponsePaths `json:"responsePaths"`
	StreamPaths       StreamPaths       `json:"streamPaths"`
	ToolPaths         ToolPaths         `json:"toolPaths"`
	JSONMode          *JSONMode         `json:"jsonMode,omitempty"`
}

// EmbeddingRequestPaths maps internal embedding fields to dotted request paths.
type EmbeddingRequestPaths struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// EmbeddingResponsePaths maps dotted response paths for embedding results.
type EmbeddingResponsePaths struct {
	DataList  string `json:"dataList"`
	Embedding string `json:"embedding"`
	Index     string `json:"index"`
}

// EmbeddingAPI describes the embeddings endpoint of a provider.
type EmbeddingAPI struct {
	Endpoint      string                 `json:"endpoint"`
	DefaultModel  string                 `json:"defaultModel"`
	MaxBatchSize  int                    `json:"maxBatchSize"`
	RequestPaths  EmbeddingRequestPaths  `json:"requestPaths"`
	ResponsePaths EmbeddingResponsePaths `json:"responsePaths"`
}

// ErrorMapping maps a provider's wire error-type string to a gwerr.Kind
// name, generalizing mapOpenAIErrorType.
type ErrorMapping map[string]string

// ProviderTemplate is the declarative description of one provider's API.
type ProviderTemplate struct {
	ProviderName     string         `json:"providerName"`
	ProviderURL      string         `json:"providerUrl"`
	HTTP             HTTPConfig     `json:"http"`
	ChatAPI          ChatAPI        `json:"chatApi"`
	EmbeddingAPI     *EmbeddingAPI  `json:"embeddingApi,omitempty"`
	StaticParameters map[string]any `json:"staticParameters,omitempty"`
	ErrorMapping     ErrorMapping   `json:"errorMapping,omitempty"`
	ToolCallIDPrefix string         `json:"toolCallIdPrefix,omitempty"`
}

// Parse decodes a provider template from JSON and validates it.
func Parse(source string, data []byte) (*ProviderTemplate, *gwerr.Error) {
	var t ProviderTemplate
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, gwerr.Wrap(gwerr.ConfigurationInvalid, err, "%s: malformed provider template JSON", source)
	}

	if err := t.Validate(source); err != nil {
		return nil, err
	}

	return &t, nil
}

// Validate checks that every required path field is present and
// non-empty. source names the file/identifier in error messages.
func (t *ProviderTemplate) Validate(source string) *gwerr.Error {
	required := []struct {
		field string
		value string
	}{
		{"providerName", t.ProviderName},
		{"http.authHeader", t.HTTP.AuthHeader},
		{"http.authScheme", t.HTTP.AuthScheme},
		{"chatApi.endpoint", t.ChatAPI.Endpoint},
		{"chatApi.requestPaths.model", t.ChatAPI.RequestPaths.Model},
		{"chatApi.requestPaths.messages", t.ChatAPI.RequestPaths.Messages},
		{"chatApi.requestPaths.stream", t.ChatAPI.RequestPaths.Stream},
		{"chatApi.responsePaths.choices", t.ChatAPI.ResponsePaths.Choices},
		{"chatApi.responsePaths.content", t.ChatAPI.ResponsePaths.Content},
		{"chatApi.responsePaths.finishReason", t.ChatAPI.ResponsePaths.FinishReason},
	}

	for _, r := range required {
		if r.value == "" {
			return gwerr.New(gwerr.ConfigurationInvalid, "%s: missing required field %q", source, r.field)
		}
	}

	if t.EmbeddingAPI != nil {
		e := t.EmbeddingAPI
		embeddingRequired := []struct {
			field string
			value string
		}{
			{"embeddingApi.endpoint", e.Endpoint},
			{"embeddingApi.requestPaths.model", e.RequestPaths.Model},
			{"embeddingApi.requestPaths.input", e.RequestPaths.Input},
			{"embeddingApi.responsePaths.dataList", e.ResponsePaths.DataList},
			{"embeddingApi.responsePaths.embedding", e.ResponsePaths.Embedding},
			{"embeddingApi.responsePaths.index", e.ResponsePaths.Index},
		}
		for _, r := range embeddingRequired {
			if r.value == "" {
				return gwerr.New(gwerr.ConfigurationInvalid, "%s: missing required field %q", source, r.field)
			}
		}
		if e.MaxBatchSize <= 0 {
			return gwerr.New(gwerr.ConfigurationInvalid, "%s: embeddingApi.maxBatchSize must be positive", source)
		}
	}

	return nil
}

// MapErrorType resolves a provider wire error-type string to a gwerr.Kind
// name via the template's optional ErrorMapping, or "" if unmapped.
func (t *ProviderTemplate) MapErrorType(wireType string) string {
	if t.ErrorMapping == nil {
		return ""
	}
	return t.ErrorMapping[wireType]
}

func (t *ProviderTemplate) String() string {
	return fmt.Sprintf("template(%s)", t.ProviderName)
}
