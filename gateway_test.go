package llmgateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/unified"
)

type fakeStore struct {
	templates map[string][]byte
	users     map[string][]byte
}

func (f *fakeStore) ProviderTemplates(ctx context.Context) (map[string][]byte, error) { return f.templates, nil }
func (f *fakeStore) UserConfigs(ctx context.Context) (map[string][]byte, error)       { return f.users, nil }
func (f *fakeStore) SaveUserConfig(ctx context.Context, providerID string, cfg []byte) error {
	f.users[providerID] = cfg
	return nil
}

func templateJSON(endpoint string) string {
	return fmt.Sprintf(`{
	  "providerName": "openai",
	  "http": {"authHeader": "Authorization", "authScheme": "Bearer"},
	  "chatApi": {
	    "endpoint": %q,
	    "defaultModel": "gpt-4o",
	    "requestPaths": {"model": "model", "messages": "messages", "stream": "stream"},
	    "responsePaths": {"choices": "choices", "content": "message.content", "toolCalls": "message.tool_calls", "finishReason": "finish_reason"},
	    "streamPaths": {"deltaContent": "choices.0.delta.content", "finishReason": "choices.0.finish_reason"}
	  },
	  "embeddingApi": {
	    "endpoint": %q,
	    "defaultModel": "text-embedding-3-small",
	    "maxBatchSize": 10,
	    "requestPaths": {"model": "model", "input": "input"},
	    "responsePaths": {"dataList": "data", "embedding": "embedding", "index": "index"}
	  }
	}`, endpoint, endpoint)
}

func newTestGateway(t *testing.T, configured bool, handler http.HandlerFunc) (*Gateway, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	store := &fakeStore{
		templates: map[string][]byte{"openai": []byte(templateJSON(srv.URL))},
		users:     map[string][]byte{},
	}
	if configured {
		store.users["openai"] = []byte(`{"apiKey":"sk-test"}`)
	}

	gw, err := New(context.Background(), store, nil)
	require.Nil(t, err)
	if configured {
		gw.SetActiveProvider("openai")
	}
	return gw, srv.Close
}

func baseRequest(conversationID string) *unified.UnifiedChatRequest {
	return &unified.UnifiedChatRequest{
		ConversationID: conversationID,
		Messages:       []unified.ChatMessage{{Role: unified.RoleUser, Content: "hi"}},
	}
}

func TestGateway_NotConfiguredBeforeActiveProviderDesignated(t *testing.T) {
	gw, closeSrv := newTestGateway(t, false, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called when not configured")
	})
	defer closeSrv()

	result := gw.GetCompletion(context.Background(), baseRequest("conv-1"))
	require.False(t, result.IsOk())
	assert.Equal(t, gwerr.NotConfigured, result.Err().Kind)

	assert.True(t, gw.IsEmbeddingEnabled()) // flag defaults on even before a provider is configured
}

func TestGateway_ChatCacheMissThenHit(t *testing.T) {
	var calls int32
	gw, closeSrv := newTestGateway(t, true, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	})
	defer closeSrv()

	req := baseRequest("conv-2")

	r1 := gw.GetCompletion(context.Background(), req)
	require.True(t, r1.IsOk())
	assert.Equal(t, "hello", r1.Value().Message.Content)

	r2 := gw.GetCompletion(context.Background(), req)
	require.True(t, r2.IsOk())
	assert.Equal(t, "hello", r2.Value().Message.Content)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGateway_StreamAfterWarmCacheReplaysWithoutUpstreamCall(t *testing.T) {
	var calls int32
	gw, closeSrv := newTestGateway(t, true, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	})
	defer closeSrv()

	req := baseRequest("conv-3")

	r1 := gw.GetCompletion(context.Background(), req)
	require.True(t, r1.IsOk())

	streamReq := baseRequest("conv-3")
	streamReq.Stream = true

	var rebuilt string
	var finalChunk unified.UnifiedChatChunk
	err := gw.StreamCompletion(context.Background(), streamReq, func(r gwerr.Result[unified.UnifiedChatChunk]) {
		require.True(t, r.IsOk())
		rebuilt += r.Value().ContentDelta
		finalChunk = r.Value()
	})
	require.Nil(t, err)
	assert.Equal(t, "hello", rebuilt)
	assert.Equal(t, unified.FinishStop, finalChunk.FinishReason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGateway_EmbeddingDeduplicationSharesOneRemoteCall(t *testing.T) {
	var seenInputs int32
	gw, closeSrv := newTestGateway(t, true, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&seenInputs, 1)
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2,3]}]}`))
	})
	defer closeSrv()

	result := gw.GetEmbeddings(context.Background(), &unified.UnifiedEmbeddingRequest{
		Inputs: []string{"same", "same"},
	})
	require.True(t, result.IsOk())
	data := result.Value().Data
	require.Len(t, data, 2)
	assert.Equal(t, data[0].Embedding, data[1].Embedding)
	assert.Equal(t, int32(1), atomic.LoadInt32(&seenInputs))
}

func TestGateway_EmbeddingDisabledFailsFast(t *testing.T) {
	gw, closeSrv := newTestGateway(t, true, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called while embedding is disabled")
	})
	defer closeSrv()

	gw.SetEmbeddingEnabled(false)
	result := gw.GetEmbeddings(context.Background(), &unified.UnifiedEmbeddingRequest{Inputs: []string{"x"}})
	require.False(t, result.IsOk())
	assert.Equal(t, gwerr.EmbeddingDisabled, result.Err().Kind)
}

func TestGateway_RateLimitedRetriesThenSucceeds(t *testing.T) {
	var calls int32
	gw, closeSrv := newTestGateway(t, true, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"recovered"},"finish_reason":"stop"}]}`))
	})
	defer closeSrv()

	result := gw.GetCompletion(context.Background(), baseRequest("conv-4"))
	require.True(t, result.IsOk())
	assert.Equal(t, "recovered", result.Value().Message.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGateway_GetCompletionsMixedSuccessAndFailureIndependent(t *testing.T) {
	gw, closeSrv := newTestGateway(t, true, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	})
	defer closeSrv()

	requests := []*unified.UnifiedChatRequest{
		baseRequest("conv-5"),
		{}, // invalid: fails validation
		baseRequest("conv-6"),
	}

	results := gw.GetCompletions(context.Background(), requests)
	require.Len(t, results, 3)
	assert.True(t, results[0].IsOk())
	assert.False(t, results[1].IsOk())
	assert.Equal(t, gwerr.InvalidArgument, results[1].Err().Kind)
	assert.True(t, results[2].IsOk())
}

func TestGateway_InvalidateConversationCache(t *testing.T) {
	var calls int32
	gw, closeSrv := newTestGateway(t, true, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	})
	defer closeSrv()

	req := baseRequest("conv-7")
	gw.GetCompletion(context.Background(), req)

	invalidated := gw.InvalidateConversationCache("conv-7")
	require.True(t, invalidated.IsOk())
	assert.True(t, invalidated.Value())

	gw.GetCompletion(context.Background(), req)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
