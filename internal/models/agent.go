package models

import "time"

// Known agent types. The registry is fixed at process start; anything
// outside this set resolves to AgentGeneral.
const (
	AgentGeneral  = "general_conversation"
	AgentChef     = "chef"
	AgentShopping = "shopping"
	AgentSearch   = "search"
	AgentWeather  = "weather"
)

// ErrorKind classifies an agent failure for telemetry and fallback decisions
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindProcessing  ErrorKind = "processing"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindCircuitOpen ErrorKind = "circuit_open" // every candidate's breaker refused the dispatch
	ErrorKindExhausted   ErrorKind = "exhausted"
)

// AgentResponse is the uniform result every agent returns.
// Either Success is true and Content is set, or Success is false and
// ErrorKind explains why. Never partially filled.
type AgentResponse struct {
	Content    string         `json:"content"`
	Success    bool           `json:"success"`
	Confidence float64        `json:"confidence"`
	AgentUsed  string         `json:"agent_used,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`

	// Backoff is the provider's own stay-away hint on quota and rate-limit
	// failures, fed into the agent's breaker cooldown. Not serialized.
	Backoff time.Duration `json:"-"`
}

// IntentResult is the outcome of classifying one query. Produced fresh
// per request, never persisted.
type IntentResult struct {
	AgentType  string   `json:"agent_type"`
	Confidence float64  `json:"confidence"`
	Fallbacks  []string `json:"fallbacks"` // ordered, best first
	Source     string   `json:"source"`    // "classifier", "keyword", "context", "default"
}

// Candidates returns the primary agent followed by its fallback chain,
// deduplicated, preserving order.
func (r *IntentResult) Candidates() []string {
	out := make([]string, 0, len(r.Fallbacks)+1)
	seen := map[string]bool{}
	for _, t := range append([]string{r.AgentType}, r.Fallbacks...) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
