package provider

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/agentd-dev/agentd/pkg/types"
)

// OpenAIProvider serves OpenAI models through the Eino openai component.
// It also covers OpenAI-compatible endpoints via BaseURL.
type OpenAIProvider struct {
	config OpenAIConfig
	models []types.Model

	mu         sync.Mutex
	chatModels map[string]model.ToolCallingChatModel
}

// OpenAIConfig holds the OpenAI provider configuration.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// NewOpenAIProvider creates the OpenAI provider. The API key falls back
// to OPENAI_API_KEY.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.APIKey == "" {
		return nil, types.NewAuthError("openai", "OPENAI_API_KEY not set")
	}
	return &OpenAIProvider{
		config:     config,
		models:     openAIModels(),
		chatModels: make(map[string]model.ToolCallingChatModel),
	}, nil
}

func (p *OpenAIProvider) ID() string   { return "openai" }
func (p *OpenAIProvider) Name() string { return "OpenAI" }

func (p *OpenAIProvider) Models() []types.Model { return p.models }

func (p *OpenAIProvider) Model(modelID string) (types.Model, bool) {
	for _, m := range p.models {
		if m.ID == modelID {
			return m, true
		}
	}
	return types.Model{}, false
}

func (p *OpenAIProvider) chatModel(ctx context.Context, modelID string, maxTokens int) (model.ToolCallingChatModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cm, ok := p.chatModels[modelID]; ok {
		return cm, nil
	}

	// MaxCompletionTokens rather than MaxTokens for newer model families.
	cfg := &openai.ChatModelConfig{
		APIKey:              p.config.APIKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
	}
	if p.config.BaseURL != "" {
		cfg.BaseURL = p.config.BaseURL
	}

	cm, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create openai model %s: %w", modelID, err)
	}
	p.chatModels[modelID] = cm
	return cm, nil
}

// Stream starts a streaming completion against the requested model.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		if m, ok := p.Model(req.ModelID); ok {
			maxTokens = m.OutputLimit
		} else {
			maxTokens = 4096
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

	opts := []model.Option{openai.WithMaxCompletionTokens(maxTokens)}
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

func openAIModels() []types.Model {
	return []types.Model{
		{
			ID:            "gpt-4o",
			Name:          "GPT-4o",
			ContextLimit:  128000,
			OutputLimit:   16384,
			SupportsTools: true,
			CostPerMIn:    2.5,
			CostPerMOut:   10.0,
		},
		{
			ID:            "gpt-4o-mini",
			Name:          "GPT-4o Mini",
			ContextLimit:  128000,
			OutputLimit:   16384,
			SupportsTools: true,
			CostPerMIn:    0.15,
			CostPerMOut:   0.6,
		},
		{
			ID:            "o1",
			Name:          "O1",
			ContextLimit:  200000,
			OutputLimit:   100000,
			SupportsTools: true,
			CostPerMIn:    15.0,
			CostPerMOut:   60.0,
		},
		{
			ID:            "o1-mini",
			Name:          "O1 Mini",
			ContextLimit:  128000,
			OutputLimit:   65536,
			SupportsTools: true,
			CostPerMIn:    1.1,
			CostPerMOut:   4.4,
		},
	}
}
