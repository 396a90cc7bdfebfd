package types

// Model describes an LLM exposed by a provider.
type Model struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ContextLimit  int     `json:"contextLimit"`  // total context window in tokens
	OutputLimit   int     `json:"outputLimit"`   // max output tokens
	SupportsTools bool    `json:"supportsTools"`
	CostPerMIn    float64 `json:"costPerMIn"`  // USD per million input tokens
	CostPerMOut   float64 `json:"costPerMOut"` // USD per million output tokens
}

// Cost computes the dollar cost of the given usage under this model's rates.
func (m Model) Cost(usage TokenUsage) float64 {
	in := float64(usage.Input+usage.Cache.Read+usage.Cache.Write) * m.CostPerMIn
	out := float64(usage.Output+usage.Reasoning) * m.CostPerMOut
	return (in + out) / 1e6
}
