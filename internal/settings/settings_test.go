package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	templates map[string][]byte
	users     map[string][]byte
	saved     map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		templates: map[string][]byte{},
		users:     map[string][]byte{},
		saved:     map[string][]byte{},
	}
}

func (f *fakeStore) ProviderTemplates(ctx context.Context) (map[string][]byte, error) {
	return f.templates, nil
}

func (f *fakeStore) UserConfigs(ctx context.Context) (map[string][]byte, error) {
	return f.users, nil
}

func (f *fakeStore) SaveUserConfig(ctx context.Context, providerID string, cfg []byte) error {
	f.saved[providerID] = cfg
	f.users[providerID] = cfg
	return nil
}

const openAITemplate = `{
  "providerName": "openai",
  "http": {"authHeader": "Authorization", "authScheme": "Bearer"},
  "chatApi": {
    "endpoint": "https://api.openai.com/v1/chat/completions",
    "defaultModel": "gpt-4o",
    "requestPaths": {"model": "model", "messages": "messages", "stream": "stream"},
    "responsePaths": {"choices": "choices", "content": "message.content", "finishReason": "finish_reason"}
  }
}`

func TestManager_GetMergedConfig_UnknownProvider(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store)
	require.Nil(t, mgr.Reload(context.Background()))

	result := mgr.GetMergedConfig("openai")
	assert.False(t, result.IsOk())
	assert.Equal(t, "configuration_missing", string(result.Err().Kind))
}

func TestManager_GetMergedConfig_RequiresAPIKey(t *testing.T) {
	store := newFakeStore()
	store.templates["openai"] = []byte(openAITemplate)
	mgr := NewManager(store)
	require.Nil(t, mgr.Reload(context.Background()))

	result := mgr.GetMergedConfig("openai")
	assert.False(t, result.IsOk())
	assert.Equal(t, "configuration_incomplete", string(result.Err().Kind))
	assert.False(t, mgr.IsActive())
}

func TestManager_WriteUserConfig_ThenGetMergedConfig(t *testing.T) {
	store := newFakeStore()
	store.templates["openai"] = []byte(openAITemplate)
	mgr := NewManager(store)
	require.Nil(t, mgr.Reload(context.Background()))

	err := mgr.WriteUserConfig(context.Background(), "openai", []byte(`{"apiKey":"sk-test"}`))
	require.Nil(t, err)

	result := mgr.GetMergedConfig("openai")
	require.True(t, result.IsOk())
	mc := result.Value()
	assert.Equal(t, "gpt-4o", mc.ChatModel)
	assert.Equal(t, "Bearer sk-test", mc.AuthHeaderValue())
	assert.True(t, mgr.IsActive())

	assert.Contains(t, store.saved, "openai")
}

func TestManager_KnownProviders(t *testing.T) {
	store := newFakeStore()
	store.templates["openai"] = []byte(openAITemplate)
	mgr := NewManager(store)
	require.Nil(t, mgr.Reload(context.Background()))

	assert.Equal(t, []string{"openai"}, mgr.KnownProviders())
}

func TestManager_BeforeReload_ReturnsEmptySnapshot(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store)

	result := mgr.GetMergedConfig("openai")
	assert.False(t, result.IsOk())
	assert.False(t, mgr.IsActive())
}

func TestManager_GetActiveMergedConfig_NoneDesignated(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store)
	require.Nil(t, mgr.Reload(context.Background()))

	result := mgr.GetActiveMergedConfig()
	assert.False(t, result.IsOk())
	assert.Equal(t, "not_configured", string(result.Err().Kind))
}

func TestManager_GetActiveMergedConfig_AfterSetActiveProvider(t *testing.T) {
	store := newFakeStore()
	store.templates["openai"] = []byte(openAITemplate)
	mgr := NewManager(store)
	require.Nil(t, mgr.Reload(context.Background()))
	require.Nil(t, mgr.WriteUserConfig(context.Background(), "openai", []byte(`{"apiKey":"sk-test"}`)))

	mgr.SetActiveProvider("openai")
	assert.Equal(t, "openai", mgr.ActiveProviderID())

	result := mgr.GetActiveMergedConfig()
	require.True(t, result.IsOk())
	assert.Equal(t, "openai", result.Value().ProviderName)
}

func TestManager_GetActiveMergedConfig_UnresolvedProviderIsNotConfigured(t *testing.T) {
	store := newFakeStore()
	store.templates["openai"] = []byte(openAITemplate)
	mgr := NewManager(store)
	require.Nil(t, mgr.Reload(context.Background()))

	mgr.SetActiveProvider("openai") // no API key saved yet
	result := mgr.GetActiveMergedConfig()
	assert.False(t, result.IsOk())
	assert.Equal(t, "not_configured", string(result.Err().Kind))
}
