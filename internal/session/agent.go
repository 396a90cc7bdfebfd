package session

import (
	"github.com/agentd-dev/agentd/pkg/types"
)

// Agent is a resolved agent configuration: a system-prompt style, a tool
// filter, and sampling defaults for the turn.
type Agent struct {
	Name        string
	Prompt      string
	Model       string // optional "provider/model" override
	Temperature float64
	TopP        float64
	MaxSteps    int
	Tools       map[string]bool // nil means all tools enabled
	Permission  []types.PermissionRule
}

// ToolEnabled reports whether the agent may use a tool.
func (a *Agent) ToolEnabled(toolID string) bool {
	if a.Tools == nil {
		return true
	}
	enabled, ok := a.Tools[toolID]
	if !ok {
		// An allowlist-style map (only true entries) excludes unlisted
		// tools; a denylist-style map (only false entries) includes them.
		for _, v := range a.Tools {
			if v {
				return false
			}
		}
		return true
	}
	return enabled
}

// DefaultAgent is the fallback when a prompt names no agent.
func DefaultAgent() *Agent {
	return &Agent{
		Name:        "build",
		Temperature: 0.7,
		TopP:        1.0,
		MaxSteps:    50,
	}
}

// PlanAgent is the read-only analysis agent.
func PlanAgent() *Agent {
	return &Agent{
		Name: "plan",
		Prompt: "You are in planning mode. Analyse the codebase and produce a plan; " +
			"do not modify files or run mutating commands.",
		Temperature: 0.5,
		TopP:        1.0,
		MaxSteps:    20,
		Tools:       map[string]bool{"write": false, "edit": false, "bash": false},
		Permission: []types.PermissionRule{
			{Pattern: "**", Action: types.ActionDeny},
		},
	}
}

// ResolveAgent maps a name to its configuration, preferring config
// overrides and falling back to the built-in agents.
func ResolveAgent(cfg *types.Config, name string) *Agent {
	var base *Agent
	switch name {
	case "", "build", "default":
		base = DefaultAgent()
	case "plan":
		base = PlanAgent()
	default:
		base = DefaultAgent()
		base.Name = name
	}

	if cfg == nil {
		return base
	}
	ac, ok := cfg.Agent[base.Name]
	if !ok {
		return base
	}

	if ac.Prompt != "" {
		base.Prompt = ac.Prompt
	}
	if ac.Model != "" {
		base.Model = ac.Model
	}
	if ac.Temperature != 0 {
		base.Temperature = ac.Temperature
	}
	if ac.TopP != 0 {
		base.TopP = ac.TopP
	}
	if ac.MaxSteps != 0 {
		base.MaxSteps = ac.MaxSteps
	}
	if ac.Tools != nil {
		base.Tools = ac.Tools
	}
	if len(ac.Permission) > 0 {
		base.Permission = append(ac.Permission, base.Permission...)
	}
	return base
}
