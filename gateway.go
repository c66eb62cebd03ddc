// Package llmgateway is the provider-agnostic LLM gateway core: a single
// Gateway composes settings resolution, request/response translation,
// retrying HTTP execution, in-flight de-duplication, and a TTL cache behind
// one stable entry surface. Built around a composition-root shape: one
// struct holding every service reference, built once and handed out by
// reference, minus the CLI/server wiring itself, which is the embedding
// host application's job, not the core's.
package llmgateway

import (
	"context"
	"log/slog"

	"github.com/mihaisavezi/llmgateway/internal/cache"
	"github.com/mihaisavezi/llmgateway/internal/chatmanager"
	"github.com/mihaisavezi/llmgateway/internal/embeddingmanager"
	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/httpexec"
	"github.com/mihaisavezi/llmgateway/internal/inflight"
	"github.com/mihaisavezi/llmgateway/internal/settings"
	"github.com/mihaisavezi/llmgateway/internal/unified"
)

// Store is the host-supplied settings persistence collaborator: the core
// never owns settings-file I/O. Re-exported so a host never needs to
// import internal/settings directly to implement it.
type Store = settings.Store

// Gateway is the public facade. It holds no mutable state of its own
// beyond what its collaborators already guard internally (settings
// snapshot, response cache, in-flight map, embedding flag); a Gateway
// value is safe for concurrent use by any number of host tasks.
type Gateway struct {
	settings   *settings.Manager
	chat       *chatmanager.ChatManager
	embeddings *embeddingmanager.EmbeddingManager
}

// New builds a Gateway around store and loads its first settings snapshot.
// A nil logger falls back to slog.Default() in every collaborator that
// logs. If the first settings load fails, New returns a nil Gateway with
// the error. A Gateway whose settings load succeeded but resolve no usable
// provider still works: every call surfaces NotConfigured until a later
// reload makes a provider usable.
func New(ctx context.Context, store settings.Store, logger *slog.Logger) (*Gateway, *gwerr.Error) {
	settingsMgr := settings.NewManager(store)
	if err := settingsMgr.Reload(ctx); err != nil {
		return nil, err
	}

	cacheStore := cache.NewStore()
	client := httpexec.NewClient()
	exec := httpexec.NewExecutor(client)
	coordinator := inflight.New()

	gw := &Gateway{
		settings:   settingsMgr,
		chat:       chatmanager.New(settingsMgr, cacheStore, coordinator, exec, logger),
		embeddings: embeddingmanager.New(settingsMgr, cacheStore, coordinator, exec, logger),
	}
	return gw, nil
}

// SetActiveProvider designates which configured provider subsequent calls
// route against. The host's configuration UI is responsible for calling
// this whenever the user changes their selection; the UI itself is out of
// scope here, but something must hold its decision.
func (g *Gateway) SetActiveProvider(providerID string) {
	g.settings.SetActiveProvider(providerID)
}

// ActiveProviderID reports the currently designated provider, or "" if
// none has been set.
func (g *Gateway) ActiveProviderID() string {
	return g.settings.ActiveProviderID()
}

// ReloadSettings re-reads every provider template and user config from the
// Store. Call after WriteUserConfig-equivalent host-side writes, or after
// editing template files on disk out of band.
func (g *Gateway) ReloadSettings(ctx context.Context) *gwerr.Error {
	return g.settings.Reload(ctx)
}

// WriteUserConfig validates and persists a user config update for
// providerId, then reloads the settings snapshot so it takes effect
// immediately.
func (g *Gateway) WriteUserConfig(ctx context.Context, providerID string, cfg []byte) *gwerr.Error {
	return g.settings.WriteUserConfig(ctx, providerID, cfg)
}

// KnownProviders lists every providerId with a loaded template.
func (g *Gateway) KnownProviders() []string {
	return g.settings.KnownProviders()
}

func (g *Gateway) startupGuard() *gwerr.Error {
	if g.settings.IsActive() {
		return nil
	}
	return gwerr.New(gwerr.NotConfigured, "Framework is not configured")
}

// GetCompletion runs a single non-streaming chat completion.
func (g *Gateway) GetCompletion(ctx context.Context, req *unified.UnifiedChatRequest) gwerr.Result[*unified.UnifiedChatResponse] {
	if err := g.startupGuard(); err != nil {
		return gwerr.Fail[*unified.UnifiedChatResponse](err)
	}
	return g.chat.GetCompletion(ctx, req)
}

// StreamCompletion runs a streaming chat completion, invoking emit once
// per chunk. emit is never called concurrently with itself.
func (g *Gateway) StreamCompletion(ctx context.Context, req *unified.UnifiedChatRequest, emit func(gwerr.Result[unified.UnifiedChatChunk])) *gwerr.Error {
	if err := g.startupGuard(); err != nil {
		return err
	}
	return g.chat.StreamCompletion(ctx, req, emit)
}

// GetCompletionWithTools is a convenience wrapper building a
// UnifiedChatRequest from its parts before delegating to GetCompletion.
func (g *Gateway) GetCompletionWithTools(ctx context.Context, conversationID string, messages []unified.ChatMessage, tools []unified.Tool) gwerr.Result[*unified.UnifiedChatResponse] {
	if err := g.startupGuard(); err != nil {
		return gwerr.Fail[*unified.UnifiedChatResponse](err)
	}
	return g.chat.GetCompletionWithTools(ctx, conversationID, messages, tools)
}

// GetCompletions runs a batch of chat completions concurrently, bounded by
// the active provider's concurrencyLimit. A per-request failure never
// aborts its siblings.
func (g *Gateway) GetCompletions(ctx context.Context, requests []*unified.UnifiedChatRequest) []gwerr.Result[*unified.UnifiedChatResponse] {
	if err := g.startupGuard(); err != nil {
		results := make([]gwerr.Result[*unified.UnifiedChatResponse], len(requests))
		for i := range results {
			results[i] = gwerr.Fail[*unified.UnifiedChatResponse](err)
		}
		return results
	}
	return g.chat.GetCompletions(ctx, requests)
}

// GetEmbeddings runs the embedding coordinator pipeline. Like every call,
// it fails with NotConfigured first when no provider is configured;
// otherwise it fails with EmbeddingDisabled immediately when the feature
// flag is off, whether or not the active provider resolves.
func (g *Gateway) GetEmbeddings(ctx context.Context, req *unified.UnifiedEmbeddingRequest) gwerr.Result[*unified.UnifiedEmbeddingResponse] {
	if err := g.startupGuard(); err != nil {
		return gwerr.Fail[*unified.UnifiedEmbeddingResponse](err)
	}
	return g.embeddings.GetEmbeddings(ctx, req)
}

// InvalidateConversationCache evicts every cache entry for conversationId
// under the active provider's current chat model; entries cached under
// other providers or models are left in place. Idempotent: a conversation with
// no cached entries still returns a successful true.
func (g *Gateway) InvalidateConversationCache(conversationID string) gwerr.Result[bool] {
	if err := g.startupGuard(); err != nil {
		return gwerr.Fail[bool](err)
	}
	return g.chat.InvalidateConversationCache(conversationID)
}

// IsEmbeddingEnabled reports the embedding feature flag's current state.
func (g *Gateway) IsEmbeddingEnabled() bool {
	return g.embeddings.IsEmbeddingEnabled()
}

// SetEmbeddingEnabled toggles the embedding feature flag.
func (g *Gateway) SetEmbeddingEnabled(enabled bool) {
	g.embeddings.SetEmbeddingEnabled(enabled)
}
