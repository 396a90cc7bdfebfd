package provider

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/agentd-dev/agentd/pkg/types"
)

// AnthropicProvider serves Claude models through the Eino claude component.
type AnthropicProvider struct {
	config AnthropicConfig
	models []types.Model

	mu         sync.Mutex
	chatModels map[string]model.ToolCallingChatModel // per model ID
}

// AnthropicConfig holds the Anthropic provider configuration.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// NewAnthropicProvider creates the Anthropic provider. The API key falls
// back to ANTHROPIC_API_KEY.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if config.APIKey == "" {
		return nil, types.NewAuthError("anthropic", "ANTHROPIC_API_KEY not set")
	}
	return &AnthropicProvider{
		config:     config,
		models:     anthropicModels(),
		chatModels: make(map[string]model.ToolCallingChatModel),
	}, nil
}

func (p *AnthropicProvider) ID() string   { return "anthropic" }
func (p *AnthropicProvider) Name() string { return "Anthropic" }

func (p *AnthropicProvider) Models() []types.Model { return p.models }

func (p *AnthropicProvider) Model(modelID string) (types.Model, bool) {
	for _, m := range p.models {
		if m.ID == modelID {
			return m, true
		}
	}
	return types.Model{}, false
}

// chatModel returns the Eino chat model for a model ID, creating it on
// first use.
func (p *AnthropicProvider) chatModel(ctx context.Context, modelID string, maxTokens int) (model.ToolCallingChatModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cm, ok := p.chatModels[modelID]; ok {
		return cm, nil
	}

	cfg := &claude.Config{
		APIKey:    p.config.APIKey,
		Model:     modelID,
		MaxTokens: maxTokens,
	}
	if p.config.BaseURL != "" {
		cfg.BaseURL = &p.config.BaseURL
	}

	cm, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create claude model %s: %w", modelID, err)
	}
	p.chatModels[modelID] = cm
	return cm, nil
}

// Stream starts a streaming completion against the requested model.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		if m, ok := p.Model(req.ModelID); ok {
			maxTokens = m.OutputLimit
		} else {
			maxTokens = 8192
		}
	}

	cm, err := p.chatModel(ctx, req.ModelID, maxTokens)
	if err != nil {
		return nil, err
	}

	if len(req.Tools) > 0 {
		cm, err = cm.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	messages := withSystem(req.System, req.Messages)

	opts := []model.Option{model.WithMaxTokens(maxTokens)}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}
	if req.TopP > 0 {
		opts = append(opts, model.WithTopP(float32(req.TopP)))
	}

	reader, err := cm.Stream(ctx, messages, opts...)
	if err != nil {
		return nil, ClassifyError(p.ID(), err)
	}
	return newEinoStream(p.ID(), reader), nil
}

func anthropicModels() []types.Model {
	return []types.Model{
		{
			ID:            "claude-sonnet-4-20250514",
			Name:          "Claude Sonnet 4",
			ContextLimit:  200000,
			OutputLimit:   64000,
			SupportsTools: true,
			CostPerMIn:    3.0,
			CostPerMOut:   15.0,
		},
		{
			ID:            "claude-opus-4-20250514",
			Name:          "Claude Opus 4",
			ContextLimit:  200000,
			OutputLimit:   32000,
			SupportsTools: true,
			CostPerMIn:    15.0,
			CostPerMOut:   75.0,
		},
		{
			ID:            "claude-3-5-sonnet-20241022",
			Name:          "Claude 3.5 Sonnet",
			ContextLimit:  200000,
			OutputLimit:   8192,
			SupportsTools: true,
			CostPerMIn:    3.0,
			CostPerMOut:   15.0,
		},
		{
			ID:            "claude-3-5-haiku-20241022",
			Name:          "Claude 3.5 Haiku",
			ContextLimit:  200000,
			OutputLimit:   8192,
			SupportsTools: true,
			CostPerMIn:    0.8,
			CostPerMOut:   4.0,
		},
	}
}
