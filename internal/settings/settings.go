// Package settings loads provider templates and user configs through a
// host-supplied Store (the settings-file persistence layer is an external
// collaborator — the core only consumes it through this interface) and
// produces MergedConfig on demand. Grounded on config.Manager's
// atomic.Value snapshot-and-swap pattern (internal/config/config.go),
// generalized from "read JSON files directly" to "ask the Store for the
// raw bytes".
package settings

import (
	"context"
	"sync/atomic"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
	"github.com/mihaisavezi/llmgateway/internal/mergedconfig"
	"github.com/mihaisavezi/llmgateway/internal/template"
	"github.com/mihaisavezi/llmgateway/internal/userconfig"
)

// Store is the interface the core consumes for settings persistence. The
// host implements it on top of its own on-disk JSON files; the core never
// touches a filesystem itself.
type Store interface {
	// ProviderTemplates returns the raw JSON bytes of every known provider
	// template, keyed by providerId.
	ProviderTemplates(ctx context.Context) (map[string][]byte, error)

	// UserConfigs returns the raw JSON bytes of every known user config,
	// keyed by providerId.
	UserConfigs(ctx context.Context) (map[string][]byte, error)

	// SaveUserConfig persists a user config update for providerId. Called
	// by Manager.WriteUserConfig after validating the new value.
	SaveUserConfig(ctx context.Context, providerID string, cfg []byte) error
}

type snapshot struct {
	templates map[string]*template.ProviderTemplate
	templateErrs map[string]*gwerr.Error
	users     map[string]*userconfig.UserConfig
}

// Manager resolves ProviderTemplate + UserConfig pairs into MergedConfig,
// reloading its internal snapshot whenever WriteUserConfig succeeds or Reload
// is called explicitly.
type Manager struct {
	store   Store
	current atomic.Pointer[snapshot]
	active  atomic.Pointer[string]
}

// NewManager builds a Manager around store. Callers must call Reload once
// before the first GetMergedConfig (mirroring config.Manager.Load).
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Reload re-reads every provider template and user config from the Store
// and atomically swaps the manager's snapshot.
func (m *Manager) Reload(ctx context.Context) *gwerr.Error {
	templateBytes, err := m.store.ProviderTemplates(ctx)
	if err != nil {
		return gwerr.Wrap(gwerr.ConfigurationInvalid, err, "load provider templates")
	}

	userBytes, err := m.store.UserConfigs(ctx)
	if err != nil {
		return gwerr.Wrap(gwerr.ConfigurationInvalid, err, "load user configs")
	}

	snap := &snapshot{
		templates:    make(map[string]*template.ProviderTemplate, len(templateBytes)),
		templateErrs: make(map[string]*gwerr.Error),
		users:        make(map[string]*userconfig.UserConfig, len(userBytes)),
	}

	for id, data := range templateBytes {
		tmpl, perr := template.Parse(id, data)
		if perr != nil {
			snap.templateErrs[id] = perr
			continue
		}
		snap.templates[id] = tmpl
	}

	for id, data := range userBytes {
		cfg, perr := userconfig.Parse(id, data)
		if perr != nil {
			snap.templateErrs[id] = perr
			continue
		}
		snap.users[id] = cfg
	}

	m.current.Store(snap)
	return nil
}

func (m *Manager) snap() *snapshot {
	s := m.current.Load()
	if s == nil {
		return &snapshot{
			templates:    map[string]*template.ProviderTemplate{},
			templateErrs: map[string]*gwerr.Error{},
			users:        map[string]*userconfig.UserConfig{},
		}
	}
	return s
}

// GetMergedConfig resolves providerId's template and user config into a
// MergedConfig.
func (m *Manager) GetMergedConfig(providerID string) gwerr.Result[*mergedconfig.MergedConfig] {
	snap := m.snap()

	tmpl, ok := snap.templates[providerID]
	if !ok {
		if perr, hasErr := snap.templateErrs[providerID]; hasErr {
			return gwerr.Fail[*mergedconfig.MergedConfig](perr)
		}
		return gwerr.Fail[*mergedconfig.MergedConfig](gwerr.New(gwerr.ConfigurationMissing, "unknown provider %q", providerID))
	}

	user, ok := snap.users[providerID]
	if !ok {
		user = &userconfig.UserConfig{}
	}

	mc, err := mergedconfig.Merge(tmpl, user)
	if err != nil {
		return gwerr.Fail[*mergedconfig.MergedConfig](err)
	}

	return gwerr.Ok(mc)
}

// WriteUserConfig persists a new user config for providerId through the
// Store, then reloads so subsequent GetMergedConfig calls observe it.
func (m *Manager) WriteUserConfig(ctx context.Context, providerID string, cfg []byte) *gwerr.Error {
	if _, perr := userconfig.Parse(providerID, cfg); perr != nil {
		return perr
	}

	if err := m.store.SaveUserConfig(ctx, providerID, cfg); err != nil {
		return gwerr.Wrap(gwerr.ConfigurationInvalid, err, "save user config for %q", providerID)
	}

	return m.Reload(ctx)
}

// IsActive reports whether at least one provider has a fully valid template
// and user config with a non-empty API key (unless the template's policy
// allows an empty one).
func (m *Manager) IsActive() bool {
	snap := m.snap()

	for id, tmpl := range snap.templates {
		user, ok := snap.users[id]
		if !ok {
			user = &userconfig.UserConfig{}
		}

		if _, err := mergedconfig.Merge(tmpl, user); err == nil {
			return true
		}
	}

	return false
}

// KnownProviders lists every providerId with a loaded (valid) template.
func (m *Manager) KnownProviders() []string {
	snap := m.snap()
	ids := make([]string, 0, len(snap.templates))
	for id := range snap.templates {
		ids = append(ids, id)
	}
	return ids
}

// SetActiveProvider designates providerId as the one the public facade
// routes unified chat/embedding calls to. Unified requests carry no
// provider field of their own: a host that lets a user switch
// providers calls this whenever that selection changes; everything else
// about "which provider is active" is host-owned UI state.
func (m *Manager) SetActiveProvider(providerID string) {
	id := providerID
	m.active.Store(&id)
}

// ActiveProviderID returns the provider set by SetActiveProvider, or "" if
// none has been designated yet.
func (m *Manager) ActiveProviderID() string {
	id := m.active.Load()
	if id == nil {
		return ""
	}
	return *id
}

// GetActiveMergedConfig resolves the active provider's MergedConfig, or
// fails with NotConfigured ("Framework is not configured") if no provider
// has been designated active or it does not resolve.
func (m *Manager) GetActiveMergedConfig() gwerr.Result[*mergedconfig.MergedConfig] {
	id := m.ActiveProviderID()
	if id == "" {
		return gwerr.Fail[*mergedconfig.MergedConfig](gwerr.New(gwerr.NotConfigured, "Framework is not configured"))
	}

	result := m.GetMergedConfig(id)
	if !result.IsOk() {
		return gwerr.Fail[*mergedconfig.MergedConfig](gwerr.New(gwerr.NotConfigured, "Framework is not configured"))
	}

	return result
}
