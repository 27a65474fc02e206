// Package agents holds the specialized task handlers and the registry
// that owns their lifecycle. Agents are stateless workers; all per-call
// state arrives through Request.
package agents

import (
	"context"

	"souschef/internal/models"
)

// Request is the per-call state handed to an agent
type Request struct {
	Query string
	// Session is a read-only snapshot; agents must not mutate session
	// state, only the orchestrator appends.
	Session *models.Session
	// Bundle is the retrieval context, nil for agents that bypass
	// retrieval and possibly empty when every source failed.
	Bundle *models.RetrievalBundle
}

// Agent is one specialized handler. Implementations must be safe for
// concurrent use.
type Agent interface {
	// Type returns the registered agent type
	Type() string
	// Process handles one query. The response is always well-formed:
	// Success with content, or a failure with an error kind.
	Process(ctx context.Context, req Request) models.AgentResponse
	// NeedsRetrieval reports whether the orchestrator should assemble a
	// retrieval bundle before dispatching.
	NeedsRetrieval() bool
	// HealthCheck reports whether the agent's downstream dependency
	// looks reachable.
	HealthCheck(ctx context.Context) bool
}
