package types

// Config is the merged application configuration.
type Config struct {
	Schema       string `json:"$schema,omitempty"`
	Username     string `json:"username,omitempty"`
	Model        string `json:"model,omitempty"`      // "provider/model"
	SmallModel   string `json:"smallModel,omitempty"` // used for summaries and titles
	Share        string `json:"share,omitempty"`
	// Autocompact enables context compaction when the window fills. Unset
	// means on; with it off, a prompt into a full window is refused.
	Autocompact *bool `json:"autocompact,omitempty"`

	Instructions []string          `json:"instructions,omitempty"`
	Tools        map[string]bool   `json:"tools,omitempty"`
	Provider     map[string]ProviderConfig `json:"provider,omitempty"`
	Agent        map[string]AgentConfig    `json:"agent,omitempty"`
	Permission   []PermissionRule  `json:"permission,omitempty"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	APIKey  string          `json:"apiKey,omitempty"`
	BaseURL string          `json:"baseURL,omitempty"`
	Options *ProviderOptions `json:"options,omitempty"`
}

// ProviderOptions is the nested options block some config files use;
// values here take precedence over the direct fields.
type ProviderOptions struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

// AgentConfig configures a named agent: a system-prompt style, allowed
// tools, and default model.
type AgentConfig struct {
	Prompt      string           `json:"prompt,omitempty"`
	Model       string           `json:"model,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	TopP        float64          `json:"topP,omitempty"`
	MaxSteps    int              `json:"maxSteps,omitempty"`
	Tools       map[string]bool  `json:"tools,omitempty"`
	Permission  []PermissionRule `json:"permission,omitempty"`
}
