package provider

import (
	"sort"
	"strings"
	"sync"

	"github.com/agentd-dev/agentd/internal/logging"
	"github.com/agentd-dev/agentd/pkg/types"
)

// Registry holds the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates an empty registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[providerID]
	if !ok {
		return nil, types.NewError(types.ErrorNotFound, "provider not found: "+providerID)
	}
	return p, nil
}

// List returns all providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// Model resolves a provider/model pair.
func (r *Registry) Model(providerID, modelID string) (Provider, types.Model, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, types.Model{}, err
	}
	m, ok := p.Model(modelID)
	if !ok {
		return nil, types.Model{}, types.NewError(types.ErrorNotFound,
			"model not found: "+providerID+"/"+modelID)
	}
	return p, m, nil
}

// Resolve picks the provider and model for a request: explicit IDs win,
// then the configured default, then the best available model.
func (r *Registry) Resolve(providerID, modelID string) (Provider, types.Model, error) {
	if providerID != "" && modelID != "" {
		return r.Model(providerID, modelID)
	}

	if r.config != nil && r.config.Model != "" {
		pid, mid := ParseModelString(r.config.Model)
		if p, m, err := r.Model(pid, mid); err == nil {
			return p, m, nil
		}
	}

	for _, p := range r.List() {
		models := p.Models()
		if len(models) == 0 {
			continue
		}
		sort.Slice(models, func(i, j int) bool {
			return modelPriority(models[i].ID) > modelPriority(models[j].ID)
		})
		return p, models[0], nil
	}
	return nil, types.Model{}, types.NewError(types.ErrorNotFound, "no models available")
}

// ResolveSmall picks the cheap model used for titles and summaries,
// falling back to the primary resolution.
func (r *Registry) ResolveSmall() (Provider, types.Model, error) {
	if r.config != nil && r.config.SmallModel != "" {
		pid, mid := ParseModelString(r.config.SmallModel)
		if p, m, err := r.Model(pid, mid); err == nil {
			return p, m, nil
		}
	}
	return r.Resolve("", "")
}

func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "claude-3-5"):
		return 75
	default:
		return 50
	}
}

// InitializeProviders registers every provider the config has credentials
// for. A provider failing to initialize is logged and skipped.
func InitializeProviders(config *types.Config) *Registry {
	registry := NewRegistry(config)

	// Constructors fall back to environment variables, so both are always
	// attempted.
	anthropicCfg := config.Provider["anthropic"]
	if p, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:  anthropicCfg.APIKey,
		BaseURL: anthropicCfg.BaseURL,
	}); err == nil {
		registry.Register(p)
	} else {
		logging.Debug().Err(err).Msg("anthropic provider unavailable")
	}

	openaiCfg := config.Provider["openai"]
	if p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:  openaiCfg.APIKey,
		BaseURL: openaiCfg.BaseURL,
	}); err == nil {
		registry.Register(p)
	} else {
		logging.Debug().Err(err).Msg("openai provider unavailable")
	}

	return registry
}
