package models

// ChatRequest is the inbound contract from the API layer
type ChatRequest struct {
	Message   string            `json:"message"`
	SessionID string            `json:"sessionId"`
	Context   map[string]string `json:"context,omitempty"`
}

// ChatResponse is the outbound contract to the API layer. Every request
// gets one of these, including terminal failures.
type ChatResponse struct {
	Response   string  `json:"response"`
	AgentUsed  string  `json:"agentUsed"`
	Confidence float64 `json:"confidence"`
	Success    bool    `json:"success"`
}
