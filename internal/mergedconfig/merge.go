// Package mergedconfig implements the merge policy: resolving a
// ProviderTemplate with a UserConfig into a read-only MergedConfig. Every
// consumer (translators, executor, cache key builder) reads only this
// value; no component reaches back to raw templates at request time.
// Grounded on config.Manager.applyDefaults's default-filling pattern
// (internal/config/config.go) and on providers/base.go
// RemoveFieldsRecursively's recursive JSON-tree walking style, generalized
// here into jsonpath.DeepMerge.
package mergedconfig

import (
	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/jsonpath"
	"github.com/mihaisavezi/llmgateway/internal/template"
	"github.com/mihaisavezi/llmgateway/internal/userconfig"
)

// MergedConfig is the read-only result of merging a ProviderTemplate with a
// UserConfig. Constructed lazily per request, never mutated.
type MergedConfig struct {
	ProviderName string
	Template     *template.ProviderTemplate

	ChatEndpoint   string
	ChatModel      string

	EmbeddingEndpoint  string
	EmbeddingModel     string
	EmbeddingBatchSize int

	APIKey           string
	Temperature      *float64
	TopP             *float64
	ConcurrencyLimit int

	Headers          map[string]string
	StaticParameters map[string]any
}

// Merge applies the config merge policy:
//   - endpoints/models: user override wins if present, else template default.
//   - temperature/topP: taken from the user config only; the template's
//     ChatAPI.DefaultParameters are not applied.
//   - custom headers: shallow merge, user wins on duplicate keys.
//   - static parameters: deep merge, user wins on leaf conflicts.
//
// Fails with ConfigurationIncomplete if the template requires an API key
// (template.HTTPConfig.RequiresAPIKey) and the user config doesn't supply one.
func Merge(tmpl *template.ProviderTemplate, user *userconfig.UserConfig) (*MergedConfig, *gwerr.Error) {
	if tmpl.HTTP.RequiresAPIKey() && user.APIKey == "" {
		return nil, gwerr.New(gwerr.ConfigurationIncomplete, "%s: api key is required but not set", tmpl.ProviderName)
	}

	mc := &MergedConfig{
		ProviderName:     tmpl.ProviderName,
		Template:         tmpl,
		APIKey:           user.APIKey,
		Temperature:      user.Temperature,
		TopP:             user.TopP,
		ConcurrencyLimit: user.EffectiveConcurrencyLimit(),
	}

	mc.ChatEndpoint = firstNonEmpty(user.ChatEndpoint, tmpl.ChatAPI.Endpoint)
	mc.ChatModel = firstNonEmpty(user.ChatModel, tmpl.ChatAPI.DefaultModel)

	if tmpl.EmbeddingAPI != nil {
		mc.EmbeddingEndpoint = firstNonEmpty(user.EmbeddingEndpoint, tmpl.EmbeddingAPI.Endpoint)
		mc.EmbeddingModel = firstNonEmpty(user.EmbeddingModel, tmpl.EmbeddingAPI.DefaultModel)
		mc.EmbeddingBatchSize = tmpl.EmbeddingAPI.MaxBatchSize
	}

	mc.Headers = mergeHeaders(tmpl.HTTP.Headers, user.CustomHeaders)

	mc.StaticParameters = mergeStaticParameters(tmpl.StaticParameters, user.StaticParametersOverride)

	return mc, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// mergeHeaders shallow-merges user headers over template headers; user wins
// on duplicate keys.
func mergeHeaders(templateHeaders, userHeaders map[string]string) map[string]string {
	merged := make(map[string]string, len(templateHeaders)+len(userHeaders))
	for k, v := range templateHeaders {
		merged[k] = v
	}
	for k, v := range userHeaders {
		merged[k] = v
	}
	return merged
}

// mergeStaticParameters deep-merges user's override over the template's
// static parameters; user wins on leaf conflicts.
func mergeStaticParameters(templateParams, userOverride map[string]any) map[string]any {
	if len(templateParams) == 0 && len(userOverride) == 0 {
		return nil
	}

	merged := jsonpath.DeepMerge(templateParams, userOverride)
	out, _ := merged.(map[string]any)
	return out
}

// AuthHeaderValue returns the "<scheme> <key>" value to set on the
// template's AuthHeader, e.g. "Bearer sk-...".
func (mc *MergedConfig) AuthHeaderValue() string {
	if mc.APIKey == "" {
		return ""
	}
	if mc.Template.HTTP.AuthScheme == "" {
		return mc.APIKey
	}
	return mc.Template.HTTP.AuthScheme + " " + mc.APIKey
}
