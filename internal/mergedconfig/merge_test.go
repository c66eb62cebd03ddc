package mergedconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/llmgateway/internal/template"
	"github.com/mihaisavezi/llmgateway/internal/userconfig"
)

func baseTemplate() *template.ProviderTemplate {
	return &template.ProviderTemplate{
		ProviderName: "openai",
		HTTP: template.HTTPConfig{
			AuthHeader: "Authorization",
			AuthScheme: "Bearer",
			Headers:    map[string]string{"X-Template": "t", "X-Both": "template"},
		},
		ChatAPI: template.ChatAPI{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			DefaultModel: "gpt-4o",
		},
		StaticParameters: map[string]any{
			"safety": map[string]any{"level": "default", "keep": "me"},
		},
	}
}

func TestMerge_APIKeyRequiredAndMissing(t *testing.T) {
	_, err := Merge(baseTemplate(), &userconfig.UserConfig{})
	require.NotNil(t, err)
	assert.Equal(t, "configuration_incomplete", string(err.Kind))
}

func TestMerge_UserOverridesWinForEndpointModel(t *testing.T) {
	tmpl := baseTemplate()
	user := &userconfig.UserConfig{
		APIKey:       "sk-test",
		ChatEndpoint: "https://custom.example.com/v1/chat",
		ChatModel:    "gpt-4o-mini",
	}

	mc, err := Merge(tmpl, user)
	require.Nil(t, err)
	assert.Equal(t, "https://custom.example.com/v1/chat", mc.ChatEndpoint)
	assert.Equal(t, "gpt-4o-mini", mc.ChatModel)
	assert.Equal(t, "Bearer sk-test", mc.AuthHeaderValue())
}

func TestMerge_FallsBackToTemplateDefaults(t *testing.T) {
	mc, err := Merge(baseTemplate(), &userconfig.UserConfig{APIKey: "sk-test"})
	require.Nil(t, err)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", mc.ChatEndpoint)
	assert.Equal(t, "gpt-4o", mc.ChatModel)
}

func TestMerge_HeadersShallowMergeUserWins(t *testing.T) {
	tmpl := baseTemplate()
	user := &userconfig.UserConfig{
		APIKey: "sk-test",
		CustomHeaders: map[string]string{
			"X-User": "u",
			"X-Both": "user",
		},
	}

	mc, err := Merge(tmpl, user)
	require.Nil(t, err)
	assert.Equal(t, "t", mc.Headers["X-Template"])
	assert.Equal(t, "u", mc.Headers["X-User"])
	assert.Equal(t, "user", mc.Headers["X-Both"])
}

func TestMerge_StaticParametersDeepMergeUserWinsOnLeaf(t *testing.T) {
	tmpl := baseTemplate()
	user := &userconfig.UserConfig{
		APIKey: "sk-test",
		StaticParametersOverride: map[string]any{
			"safety": map[string]any{"level": "strict"},
		},
	}

	mc, err := Merge(tmpl, user)
	require.Nil(t, err)

	safety := mc.StaticParameters["safety"].(map[string]any)
	assert.Equal(t, "strict", safety["level"])
	assert.Equal(t, "me", safety["keep"])
}

func TestMerge_LocalProviderAllowsEmptyAPIKey(t *testing.T) {
	tmpl := baseTemplate()
	requireKey := false
	tmpl.HTTP.RequireAPIKey = &requireKey

	mc, err := Merge(tmpl, &userconfig.UserConfig{})
	require.Nil(t, err)
	assert.Equal(t, "", mc.APIKey)
}

func TestMerge_ConcurrencyLimitDefault(t *testing.T) {
	mc, err := Merge(baseTemplate(), &userconfig.UserConfig{APIKey: "sk-test"})
	require.Nil(t, err)
	assert.Equal(t, userconfig.DefaultConcurrencyLimit, mc.ConcurrencyLimit)
}
