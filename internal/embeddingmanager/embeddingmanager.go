// Package embeddingmanager implements the embedding coordinator:
// de-duplicating inputs, probing the cache per-input, batching misses by
// the template's maxBatchSize, coalescing identical in-flight batches
// through internal/inflight, dispatching the rest concurrently under a
// concurrency limit, and reassembling results in original input order.
// Grounded on the same ProxyHandler.ServeHTTP pipeline shape as
// chatmanager (internal/handlers/proxy.go), adapted for a batch-of-texts
// capability the original proxy handler never offers.
package embeddingmanager

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mihaisavezi/llmgateway/internal/cache"
	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/httpexec"
	"github.com/mihaisavezi/llmgateway/internal/inflight"
	"github.com/mihaisavezi/llmgateway/internal/mergedconfig"
	"github.com/mihaisavezi/llmgateway/internal/settings"
	"github.com/mihaisavezi/llmgateway/internal/translate"
	"github.com/mihaisavezi/llmgateway/internal/unified"
	"github.com/mihaisavezi/llmgateway/internal/userconfig"
)

// EmbeddingManager coordinates GetEmbeddings against the active provider.
type EmbeddingManager struct {
	settings *settings.Manager
	cache    *cache.Store
	inflight *inflight.Coordinator
	exec     *httpexec.Executor
	logger   *slog.Logger

	enabled atomic.Bool

	semMu  sync.Mutex
	sem    *semaphore.Weighted
	semLim int
}

// New builds an EmbeddingManager with the embedding feature flag on by
// default: the toggle is host-controlled and independent of provider
// configuration, so the manager defaults it to enabled rather than
// silently disabling a capability nobody asked to turn off. The same
// inflight.Coordinator passed here should also back a chatmanager.ChatManager
// so identical embedding batches and identical chat completions coalesce
// through one shared in-flight map; the "embed:"/"chat:" cache-key prefixes
// keep the two capabilities' keys from ever colliding.
func New(settingsMgr *settings.Manager, cacheStore *cache.Store, coordinator *inflight.Coordinator, exec *httpexec.Executor, logger *slog.Logger) *EmbeddingManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &EmbeddingManager{settings: settingsMgr, cache: cacheStore, inflight: coordinator, exec: exec, logger: logger}
	m.enabled.Store(true)
	return m
}

// SetEmbeddingEnabled toggles the embedding feature flag. Safe for
// concurrent use; independent of provider configuration completeness.
func (m *EmbeddingManager) SetEmbeddingEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// IsEmbeddingEnabled reports the current feature flag state.
func (m *EmbeddingManager) IsEmbeddingEnabled() bool {
	return m.enabled.Load()
}

// GetEmbeddings runs the embedding coordinator pipeline: validate, resolve
// the active provider, de-duplicate and probe the cache, batch and dispatch
// misses, then reassemble results in original input order.
func (m *EmbeddingManager) GetEmbeddings(ctx context.Context, req *unified.UnifiedEmbeddingRequest) gwerr.Result[*unified.UnifiedEmbeddingResponse] {
	if !m.enabled.Load() {
		return gwerr.Fail[*unified.UnifiedEmbeddingResponse](gwerr.New(gwerr.EmbeddingDisabled, "Embedding is disabled by settings"))
	}

	if verr := req.Validate(); verr != nil {
		return gwerr.Fail[*unified.UnifiedEmbeddingResponse](verr)
	}

	mcResult := m.settings.GetActiveMergedConfig()
	if !mcResult.IsOk() {
		return gwerr.Fail[*unified.UnifiedEmbeddingResponse](mcResult.Err())
	}
	mc := mcResult.Value()

	if mc.Template.EmbeddingAPI == nil {
		return gwerr.Fail[*unified.UnifiedEmbeddingResponse](gwerr.New(gwerr.EmbeddingDisabled, "%s: provider has no embedding API", mc.ProviderName))
	}

	results := make([]unified.EmbeddingResult, len(req.Inputs))
	resolved := make([]bool, len(req.Inputs))

	// First pass: cache probe, with within-request de-duplication so a
	// repeated text costs exactly one cache probe and (if it misses) one
	// remote computation.
	firstIndexOf := map[string]int{}
	var missTexts []string

	for i, text := range req.Inputs {
		if first, dup := firstIndexOf[text]; dup {
			if resolved[first] {
				results[i] = unified.EmbeddingResult{Index: i, Embedding: results[first].Embedding}
				resolved[i] = true
			}
			continue
		}
		firstIndexOf[text] = i

		key := cache.EmbeddingKey(mc, text)
		if v, ok := m.cache.TryGet(key); ok {
			results[i] = unified.EmbeddingResult{Index: i, Embedding: v.([]float64)}
			resolved[i] = true
			continue
		}

		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		if err := m.resolveMisses(ctx, mc, missTexts, req.Inputs, firstIndexOf, results, resolved); err != nil {
			return gwerr.Fail[*unified.UnifiedEmbeddingResponse](err)
		}
	}

	// Propagate de-duplicated results to every position sharing that text.
	for i, text := range req.Inputs {
		first := firstIndexOf[text]
		if !resolved[i] && resolved[first] {
			results[i] = unified.EmbeddingResult{Index: i, Embedding: results[first].Embedding}
			resolved[i] = true
		}
	}

	for i, ok := range resolved {
		if !ok {
			return gwerr.Fail[*unified.UnifiedEmbeddingResponse](gwerr.New(gwerr.InvalidResponse, "%s: embedding for input %d was never resolved", mc.ProviderName, i))
		}
	}

	return gwerr.Ok(&unified.UnifiedEmbeddingResponse{Data: results})
}

// resolveMisses batches missTexts by the template's maxBatchSize, then
// dispatches the batches concurrently (bounded by concurrencyLimit), each
// routed through the in-flight coordinator so a batch identical to one
// already running from a concurrent call attaches to it instead of issuing
// a second upstream call. It writes each resolved vector into both the
// cache and results/resolved at its original request position.
func (m *EmbeddingManager) resolveMisses(
	ctx context.Context,
	mc *mergedconfig.MergedConfig,
	missTexts []string,
	inputs []string,
	firstIndexOf map[string]int,
	results []unified.EmbeddingResult,
	resolved []bool,
) *gwerr.Error {
	batchSize := mc.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = len(missTexts)
	}

	var batches [][]string
	for start := 0; start < len(missTexts); start += batchSize {
		end := start + batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batches = append(batches, missTexts[start:end])
	}

	var mu sync.Mutex
	var firstErr *gwerr.Error

	var eg errgroup.Group
	for _, batch := range batches {
		batch := batch
		eg.Go(func() error {
			key := batchInFlightKey(mc, batch)
			result, _ := inflight.DoContext(ctx, m.inflight, key, func() gwerr.Result[[][]float64] {
				vectors, err := m.fetchBatch(ctx, mc, batch)
				if err != nil {
					return gwerr.Fail[[][]float64](err)
				}
				return gwerr.Ok(vectors)
			})
			if !result.IsOk() {
				mu.Lock()
				if firstErr == nil {
					firstErr = result.Err()
				}
				mu.Unlock()
				return nil
			}

			vectors := result.Value()
			mu.Lock()
			for i, text := range batch {
				idx := firstIndexOf[text]
				results[idx] = unified.EmbeddingResult{Index: idx, Embedding: vectors[i]}
				resolved[idx] = true
				m.cache.Set(cache.EmbeddingKey(mc, text), vectors[i], cache.DefaultTTL)
			}
			mu.Unlock()
			return nil
		})
	}
	eg.Wait()

	return firstErr
}

// batchInFlightKey builds the in-flight coordinator key for batch: each
// text's own cache.EmbeddingKey, sorted so member order never changes the
// key, then joined. Two concurrent calls that land on the exact same set of
// uncached texts (the common case for a conversation embedding the same
// chunks twice) collapse onto a single upstream call instead of racing.
func batchInFlightKey(mc *mergedconfig.MergedConfig, batch []string) string {
	keys := make([]string, len(batch))
	for i, text := range batch {
		keys[i] = cache.EmbeddingKey(mc, text)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

// fetchBatch sends one translate → execute → translate-response round
// trip for a batch of input texts, gated by the shared concurrency
// semaphore so every chunked sub-request obeys the same concurrency limit.
func (m *EmbeddingManager) fetchBatch(ctx context.Context, mc *mergedconfig.MergedConfig, batch []string) ([][]float64, *gwerr.Error) {
	sem := m.semFor(mc.ConcurrencyLimit)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, gwerr.Wrap(gwerr.Cancelled, err, "cancelled waiting for a concurrency slot")
	}
	defer sem.Release(1)

	req := &unified.UnifiedEmbeddingRequest{Inputs: batch, Model: mc.EmbeddingModel}

	body, berr := translate.BuildEmbeddingRequest(mc, req)
	if berr != nil {
		return nil, berr
	}

	m.logger.Info("dispatching embedding batch", "provider", mc.ProviderName, "model", mc.EmbeddingModel, "batch_size", len(batch))

	callCtx, cancel := context.WithTimeout(ctx, httpexec.ChatTimeout)
	defer cancel()

	result := m.exec.Do(callCtx, buildUpstreamRequest(mc, mc.EmbeddingEndpoint, body))
	if !result.IsOk() {
		return nil, result.Err()
	}

	resp := result.Value()
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, gwerr.Wrap(gwerr.NetworkError, readErr, "read upstream embedding response body")
	}

	parsed, perr := translate.ParseEmbeddingResponse(mc, respBody)
	if perr != nil {
		return nil, perr
	}

	if len(parsed.Data) != len(batch) {
		return nil, gwerr.New(gwerr.InvalidResponse, "%s: embedding response had %d vectors for %d inputs", mc.ProviderName, len(parsed.Data), len(batch))
	}

	vectors := make([][]float64, len(batch))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, gwerr.New(gwerr.InvalidResponse, "%s: embedding response index %d out of range", mc.ProviderName, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	return vectors, nil
}

func (m *EmbeddingManager) semFor(limit int) *semaphore.Weighted {
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
