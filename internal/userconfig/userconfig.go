// Package userconfig holds UserConfig, a user's per-provider overrides,
// generalized from config.Provider (APIKey/Models/ModelWhitelist) plus
// cmd/config.go's interactive field set.
package userconfig

import (
	"encoding/json"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
)

// UserConfig is a per-provider user override set.
type UserConfig struct {
	APIKey                   string            `json:"apiKey"`
	ChatEndpoint             string            `json:"chatEndpoint,omitempty"`
	ChatModel                string            `json:"chatModel,omitempty"`
	EmbeddingEndpoint        string            `json:"embeddingEndpoint,omitempty"`
	EmbeddingModel           string            `json:"embeddingModel,omitempty"`
	Temperature              *float64          `json:"temperature,omitempty"`
	TopP                     *float64          `json:"topP,omitempty"`
	ConcurrencyLimit         int               `json:"concurrencyLimit,omitempty"`
	CustomHeaders            map[string]string `json:"customHeaders,omitempty"`
	StaticParametersOverride map[string]any    `json:"staticParametersOverride,omitempty"`
}

// DefaultConcurrencyLimit is used when a UserConfig doesn't set one.
const DefaultConcurrencyLimit = 4

// Parse decodes a user config from JSON.
func Parse(source string, data []byte) (*UserConfig, *gwerr.Error) {
	var c UserConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, gwerr.Wrap(gwerr.ConfigurationInvalid, err, "%s: malformed user config JSON", source)
	}
	return &c, nil
}

// EffectiveConcurrencyLimit returns ConcurrencyLimit, or DefaultConcurrencyLimit
// when unset or non-positive.
func (c *UserConfig) EffectiveConcurrencyLimit() int {
	if c.ConcurrencyLimit <= 0 {
		return DefaultConcurrencyLimit
	}
	return c.ConcurrencyLimit
}
