// Package chatmanager implements the chat coordinator: the end-to-end
// pipeline from a validated UnifiedChatRequest through cache lookup,
// in-flight coalescing, HTTP execution, and response translation.
// Grounded on ProxyHandler.ServeHTTP (internal/handlers/proxy.go), which
// strings together the same resolve-config / transform-request /
// call-upstream / transform-response shape for a single proxied call,
// generalized here with a cache tier, in-flight de-duplication, and a
// concurrency-limiting semaphore that single-shot proxy has no equivalent
// for.
package chatmanager

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mihaisavezi/llmgateway/internal/cache"
	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/httpexec"
	"github.com/mihaisavezi/llmgateway/internal/inflight"
	"github.com/mihaisavezi/llmgateway/internal/mergedconfig"
	"github.com/mihaisavezi/llmgateway/internal/pseudostream"
	"github.com/mihaisavezi/llmgateway/internal/settings"
	"github.com/mihaisavezi/llmgateway/internal/translate"
	"github.com/mihaisavezi/llmgateway/internal/unified"
	"github.com/mihaisavezi/llmgateway/internal/userconfig"
)

// ChatManager coordinates chat completions against whichever provider the
// settings.Manager designates active.
type ChatManager struct {
	settings *settings.Manager
	cache    *cache.Store
	inflight *inflight.Coordinator
	exec     *httpexec.Executor
	logger   *slog.Logger

	semMu  sync.Mutex
	sem    *semaphore.Weighted
	semLim int
}

// New builds a ChatManager. The same cache.Store and inflight.Coordinator
// passed here should also back an embeddingmanager.EmbeddingManager so the
// two capabilities share one cache tier. A nil logger falls
// back to slog.Default(), mirroring cmd/root.go package-level
// logger default.
func New(settingsMgr *settings.Manager, cacheStore *cache.Store, coordinator *inflight.Coordinator, exec *httpexec.Executor, logger *slog.Logger) *ChatManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatManager{
		settings: settingsMgr,
		cache:    cacheStore,
		inflight: coordinator,
		exec:     exec,
		logger:   logger,
	}
}

// GetCompletion runs the non-streaming pipeline: validate, resolve
// config, check cache, then either return the cached response or coalesce
// onto (or become) the single in-flight upstream call for this cache key.
func (m *ChatManager) GetCompletion(ctx context.Context, req *unified.UnifiedChatRequest) gwerr.Result[*unified.UnifiedChatResponse] {
	if verr := req.Validate(); verr != nil {
		return gwerr.Fail[*unified.UnifiedChatResponse](verr)
	}

	mcResult := m.settings.GetActiveMergedConfig()
	if !mcResult.IsOk() {
		return gwerr.Fail[*unified.UnifiedChatResponse](mcResult.Err())
	}
	mc := mcResult.Value()

	key := cache.ChatKey(mc, req)
	if v, ok := m.cache.TryGet(key); ok {
		return gwerr.Ok(v.(*unified.UnifiedChatResponse))
	}

	result, _ := inflight.DoContext(ctx, m.inflight, key, func() gwerr.Result[*unified.UnifiedChatResponse] {
		return m.executeChat(ctx, mc, req, key)
	})
	return result
}

// executeChat performs the actual upstream call (translate → execute →
// translate) and populates the cache on success. It runs only for the
// caller that wins the in-flight race for key.
func (m *ChatManager) executeChat(ctx context.Context, mc *mergedconfig.MergedConfig, req *unified.UnifiedChatRequest, key string) gwerr.Result[*unified.UnifiedChatResponse] {
	sem := m.semFor(mc.ConcurrencyLimit)
	if err := sem.Acquire(ctx, 1); err != nil {
		return gwerr.Fail[*unified.UnifiedChatResponse](gwerr.Wrap(gwerr.Cancelled, err, "cancelled waiting for a concurrency slot"))
	}
	defer sem.Release(1)

	body, berr := translate.BuildChatRequest(mc, req)
	if berr != nil {
		return gwerr.Fail[*unified.UnifiedChatResponse](berr)
	}

	m.logger.Info("dispatching chat completion",
		"provider", mc.ProviderName, "model", mc.ChatModel,
		"input_tokens", countInputTokens(req))

	callCtx, cancel := context.WithTimeout(ctx, httpexec.ChatTimeout)
	defer cancel()

	result := m.exec.Do(callCtx, buildUpstreamRequest(mc, mc.ChatEndpoint, body))
	if !result.IsOk() {
		return gwerr.Fail[*unified.UnifiedChatResponse](result.Err())
	}

	resp := result.Value()
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return gwerr.Fail[*unified.UnifiedChatResponse](gwerr.Wrap(gwerr.NetworkError, readErr, "read upstream response body"))
	}

	parsed, perr := translate.ParseChatResponse(mc, respBody)
	if perr != nil {
		return gwerr.Fail[*unified.UnifiedChatResponse](perr)
	}

	m.cache.Set(key, parsed, cache.DefaultTTL)
	return gwerr.Ok(parsed)
}

// StreamCompletion runs the streaming pipeline. On a cache hit it
// replays a pseudo-stream (internal/pseudostream); on a miss it streams
// directly from the provider, forwarding each chunk to emit as it arrives
// and writing the aggregated response to cache only once the stream
// completes cleanly. Streaming calls are deliberately not
// in-flight-coalesced: coalescing applies only to the non-streaming miss
// path, since a live SSE stream has no well-defined way to replay partial
// progress to a second consumer that joins mid-flight.
func (m *ChatManager) StreamCompletion(ctx context.Context, req *unified.UnifiedChatRequest, emit func(gwerr.Result[unified.UnifiedChatChunk])) *gwerr.Error {
	if verr := req.Validate(); verr != nil {
		emit(gwerr.Fail[unified.UnifiedChatChunk](verr))
		return verr
	}

	mcResult := m.settings.GetActiveMergedConfig()
	if !mcResult.IsOk() {
		emit(gwerr.Fail[unified.UnifiedChatChunk](mcResult.Err()))
		return mcResult.Err()
	}
	mc := mcResult.Value()

	key := cache.ChatKey(mc, req)
	if v, ok := m.cache.TryGet(key); ok {
		pseudostream.Replay(v.(*unified.UnifiedChatResponse), func(c unified.UnifiedChatChunk) {
			emit(gwerr.Ok(c))
		})
		return nil
	}

	sem := m.semFor(mc.ConcurrencyLimit)
	if err := sem.Acquire(ctx, 1); err != nil {
		serr := gwerr.Wrap(gwerr.Cancelled, err, "cancelled waiting for a concurrency slot")
		emit(gwerr.Fail[unified.UnifiedChatChunk](serr))
		return serr
	}
	defer sem.Release(1)

	body, berr := translate.BuildChatRequest(mc, req)
	if berr != nil {
		emit(gwerr.Fail[unified.UnifiedChatChunk](berr))
		return berr
	}

	m.logger.Info("dispatching streaming chat completion",
		"provider", mc.ProviderName, "model", mc.ChatModel,
		"input_tokens", countInputTokens(req))

	result := m.exec.Do(ctx, buildUpstreamRequest(mc, mc.ChatEndpoint, body))
	if !result.IsOk() {
		emit(gwerr.Fail[unified.UnifiedChatChunk](result.Err()))
		return result.Err()
	}

	resp := result.Value()
	streamBody := httpexec.NewIdleTimeoutReader(resp.Body, httpexec.StreamInactivityTimeout)
	defer streamBody.Close()

	var aggregated strings.Builder
	var finalReason unified.FinishReason
	var finalToolCalls []unified.ToolCall
	var finalUsage *unified.Usage

	streamErr := translate.StreamChatResponse(mc, streamBody, func(chunk unified.UnifiedChatChunk) {
		aggregated.WriteString(chunk.ContentDelta)
		if chunk.FinishReason != "" {
			finalReason = chunk.FinishReason
			finalToolCalls = chunk.ToolCalls
			finalUsage = chunk.Usage
		}
		emit(gwerr.Ok(chunk))
	})
	if streamErr != nil {
		emit(gwerr.Fail[unified.UnifiedChatChunk](streamErr))
		return streamErr
	}

	full := &unified.UnifiedChatResponse{
		FinishReason: finalReason,
		Message: unified.ChatMessage{
			Role:      unified.RoleAssistant,
			Content:   aggregated.String(),
			ToolCalls: finalToolCalls,
		},
		Usage: finalUsage,
	}
	m.cache.Set(key, full, cache.DefaultTTL)

	return nil
}

// GetCompletionWithTools is a convenience wrapper over GetCompletion for
// callers that don't otherwise need to build a UnifiedChatRequest by hand.
func (m *ChatManager) GetCompletionWithTools(ctx context.Context, conversationID string, messages []unified.ChatMessage, tools []unified.Tool) gwerr.Result[*unified.UnifiedChatResponse] {
	return m.GetCompletion(ctx, &unified.UnifiedChatRequest{
		ConversationID: conversationID,
		Messages:       messages,
		Tools:          tools,
	})
}

// GetCompletions runs a batch of requests concurrently, one per request,
// with a per-request failure never aborting its siblings. The
// actual upstream concurrency ceiling is still governed by GetCompletion's
// own semaphore acquisition, so the batch fan-out here is unbounded at the
// goroutine level by design — requests beyond concurrencyLimit simply wait
// inside GetCompletion rather than inside this loop.
func (m *ChatManager) GetCompletions(ctx context.Context, requests []*unified.UnifiedChatRequest) []gwerr.Result[*unified.UnifiedChatResponse] {
	results := make([]gwerr.Result[*unified.UnifiedChatResponse], len(requests))

	var eg errgroup.Group
	for i, req := range requests {
		i, req := i, req
		eg.Go(func() error {
			results[i] = m.GetCompletion(ctx, req)
			return nil
		})
	}
	eg.Wait()

	return results
}

// InvalidateConversationCache removes every cache entry scoped to
// conversationID under the currently active provider/model.
// It reports success even when nothing matched: the operation is
// idempotent.
func (m *ChatManager) InvalidateConversationCache(conversationID string) gwerr.Result[bool] {
	mcResult := m.settings.GetActiveMergedConfig()
	if !mcResult.IsOk() {
		return gwerr.Fail[bool](mcResult.Err())
	}

	m.cache.InvalidateByPrefix(cache.ConversationPrefix(mcResult.Value(), conversationID))
	return gwerr.Ok(true)
}

// semFor returns the shared semaphore sized to limit, rebuilding it if the
// requested limit has changed since the last call.
func (m *ChatManager) semFor(limit int) *semaphore.Weighted {
	if limit <= 0 {
		limit = userconfig.DefaultConcurrencyLimit
	}

	m.semMu.Lock()
	defer m.semMu.Unlock()

	if m.sem == nil || m.semLim != limit {
		m.sem = semaphore.NewWeighted(int64(limit))
		m.semLim = limit
	}
	return m.sem
}

// countInputTokens gives a best-effort cl100k_base token estimate for a
// request's message content, for the dispatch log line only — it has no
// bearing on translation or cache keying. Generalizes countInputTokensCl100k
// (main.go), which estimated tokens for the whole raw proxied body; here it
// walks the already-parsed unified messages instead of a wire payload.
func countInputTokens(req *unified.UnifiedChatRequest) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}

	var text strings.Builder
	for _, m := range req.Messages {
		text.WriteString(m.Content)
	}

	return len(enc.Encode(text.String(), nil, nil))
}

// buildUpstreamRequest builds the httpexec.RequestFunc shared by the
// streaming and non-streaming paths: a POST of body to endpoint, carrying
// mc's merged headers and auth.
func buildUpstreamRequest(mc *mergedconfig.MergedConfig, endpoint string, body []byte) httpexec.RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		for k, v := range mc.Headers {
			req.Header.Set(k, v)
		}
		if auth := mc.AuthHeaderValue(); auth != "" {
			req.Header.Set(mc.Template.HTTP.AuthHeader, auth)
		}

		return req, nil
	}
}
