package services

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"souschef/internal/agents"
	"souschef/internal/breaker"
	"souschef/internal/intent"
	"souschef/internal/logging"
	"souschef/internal/memory"
	"souschef/internal/models"
	"souschef/internal/rag"
)

// maxDispatches bounds how many agents one request may be dispatched
// to: the chosen candidate plus one retry against the next fallback.
// Breaker-denied candidates are skipped without consuming a dispatch.
const maxDispatches = 2

// exhaustedMessage is the degraded reply when every candidate is
// unavailable or failed.
const exhaustedMessage = "I'm having trouble reaching my assistants right now. Service is temporarily limited - please try again in a moment."

// Orchestrator is the top-level coordinator: it classifies a request,
// picks a healthy agent, assembles retrieval context, dispatches,
// applies fallback on failure and records the exchange in session
// memory. Every request gets a well-formed response; expected failure
// modes never surface as raw errors.
type Orchestrator struct {
	detector *intent.Detector
	registry *agents.Registry
	breakers *breaker.Registry
	memory   *memory.Manager
	rag      *rag.Coordinator
	metrics  *Metrics

	agentTimeout time.Duration
}

// NewOrchestrator wires the coordinator. metrics may be nil (tests).
func NewOrchestrator(
	detector *intent.Detector,
	registry *agents.Registry,
	breakers *breaker.Registry,
	mem *memory.Manager,
	coordinator *rag.Coordinator,
	metrics *Metrics,
	agentTimeout time.Duration,
) *Orchestrator {
	if agentTimeout <= 0 {
		agentTimeout = 60 * time.Second
	}
	return &Orchestrator{
		detector:     detector,
		registry:     registry,
		breakers:     breakers,
		memory:       mem,
		rag:          coordinator,
		metrics:      metrics,
		agentTimeout: agentTimeout,
	}
}

// Handle processes one chat request end to end. The error return is
// reserved for invalid input and caller cancellation while waiting for
// the session; downstream failures come back as Success=false responses.
func (o *Orchestrator) Handle(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if req.Message == "" {
		return models.ChatResponse{}, fmt.Errorf("message is required")
	}
	if req.SessionID == "" {
		return models.ChatResponse{}, fmt.Errorf("sessionId is required")
	}

	start := time.Now()
	requestID := uuid.NewString()
	logger := logging.WithRequest(requestID, req.SessionID)

	if o.metrics != nil {
		o.metrics.ChatRequests.Inc()
		defer func() {
			o.metrics.ChatRequestLatency.Observe(time.Since(start).Seconds())
		}()
	}

	// Scoped acquisition serializes concurrent requests per session.
	handle, err := o.memory.Acquire(ctx, req.SessionID)
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer handle.Release()

	// Caller-supplied context entries become session preferences, so
	// later turns (and the weather agent's location fallback) see them.
	for key, value := range req.Context {
		handle.SetPreference(key, value)
	}

	snapshot := handle.Snapshot()
	intentRes := o.detector.Detect(ctx, req.Message, snapshot)
	logger.Debug("intent detected",
		"agent_type", intentRes.AgentType,
		"confidence", intentRes.Confidence,
		"source", intentRes.Source,
	)

	agentResp := o.dispatchWithFallback(ctx, logger, req.Message, snapshot, intentRes)

	// Both sides of the exchange land in memory on every terminal
	// outcome, success or not.
	handle.Append(models.Message{
		Role:    models.RoleUser,
		Content: req.Message,
	})
	handle.Append(models.Message{
		Role:       models.RoleAssistant,
		Content:    agentResp.Content,
		AgentUsed:  agentResp.AgentUsed,
		Confidence: agentResp.Confidence,
	})

	return models.ChatResponse{
		Response:   agentResp.Content,
		AgentUsed:  agentResp.AgentUsed,
		Confidence: agentResp.Confidence,
		Success:    agentResp.Success,
	}, nil
}

// dispatchWithFallback walks the candidate chain: skip candidates whose
// breaker is open, dispatch to the first allowed one, and on failure
// retry once against the next allowed candidate. A terminal failure
// still produces a response object.
func (o *Orchestrator) dispatchWithFallback(
	ctx context.Context,
	logger *slog.Logger,
	query string,
	snapshot *models.Session,
	intentRes *models.IntentResult,
) models.AgentResponse {
	candidates := append(intentRes.Candidates(), o.registry.DefaultType())

	dispatches := 0
	tried := make(map[string]bool)
	for _, candidate := range candidates {
		if dispatches >= maxDispatches {
			break
		}

		agent, err := o.registry.GetAgent(candidate)
		if err != nil {
			log.Printf("❌ [ORCHESTRATOR] Cannot construct agent %q: %v", candidate, err)
			continue
		}
		// Unknown types resolve to the default; don't dispatch it twice.
		if tried[agent.Type()] {
			continue
		}

		br := o.breakers.For(agent.Type())
		if !br.Allow() {
			log.Printf("⛔ [ORCHESTRATOR] Breaker open for %s, advancing fallback chain", agent.Type())
			if o.metrics != nil {
				o.metrics.CircuitDenied.WithLabelValues(agent.Type()).Inc()
			}
			continue
		}

		tried[agent.Type()] = true
		dispatches++

		resp := o.dispatch(ctx, agent, query, snapshot)
		if resp.Success {
			br.RecordSuccess()
			if o.metrics != nil {
				o.metrics.AgentDispatches.WithLabelValues(agent.Type(), "success").Inc()
			}
			resp.AgentUsed = agent.Type()
			return resp
		}

		// Quota replies carry the provider's own stay-away hint; stretch
		// the breaker cooldown with it instead of the configured one.
		if resp.Backoff > 0 {
			br.RecordFailureWithCooldown(resp.Backoff)
		} else {
			br.RecordFailure()
		}
		if o.metrics != nil {
			o.metrics.AgentDispatches.WithLabelValues(agent.Type(), "failure").Inc()
		}
		logging.WithAgent(logger, agent.Type(), dispatches).Debug(
			"agent dispatch failed, retrying next candidate",
			"error_kind", string(resp.ErrorKind),
		)
	}

	// Nothing answered: every breaker was open, or both dispatches failed.
	kind := models.ErrorKindExhausted
	label := "exhausted"
	if dispatches == 0 {
		kind = models.ErrorKindCircuitOpen
		label = "circuit_open"
	}
	if o.metrics != nil {
		o.metrics.ChatErrors.WithLabelValues(label).Inc()
	}
	log.Printf("❌ [ORCHESTRATOR] Candidate chain exhausted (dispatches=%d)", dispatches)
	return models.AgentResponse{
		Content:   exhaustedMessage,
		Success:   false,
		AgentUsed: "",
		ErrorKind: kind,
	}
}

// dispatch runs one agent call with its deadline and retrieval context
func (o *Orchestrator) dispatch(ctx context.Context, agent agents.Agent, query string, snapshot *models.Session) models.AgentResponse {
	callCtx, cancel := context.WithTimeout(ctx, o.agentTimeout)
	defer cancel()

	var bundle *models.RetrievalBundle
	if agent.NeedsRetrieval() && o.rag != nil {
		opts := o.rag.Defaults()
		// Only the search agent pays for the external fan-out; the
		// others work from the knowledge base.
		opts.IncludeExternal = agent.Type() == models.AgentSearch

		b, err := o.rag.Retrieve(callCtx, query, opts)
		if err != nil {
			// Total retrieval failure downgrades to "no supporting
			// context"; the agent still answers from its own reasoning.
			log.Printf("⚠️  [ORCHESTRATOR] Retrieval failed for %s, dispatching without context: %v", agent.Type(), err)
			b = &models.RetrievalBundle{Degraded: true}
		}
		bundle = b
	}

	return agent.Process(callCtx, agents.Request{
		Query:   query,
		Session: snapshot,
		Bundle:  bundle,
	})
}

// BreakerSnapshots exposes per-agent breaker state for monitoring
func (o *Orchestrator) BreakerSnapshots() []breaker.Snapshot {
	return o.breakers.Snapshots()
}

// MemoryStats exposes session-manager counters for monitoring
func (o *Orchestrator) MemoryStats() memory.Stats {
	return o.memory.Stats()
}
