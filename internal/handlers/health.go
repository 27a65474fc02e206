package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"souschef/internal/agents"
	"souschef/internal/rag"
	"souschef/internal/services"
	"souschef/internal/vector"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	orchestrator *services.Orchestrator
	registry     *agents.Registry
	coordinator  *rag.Coordinator
	store        *vector.Store
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(orchestrator *services.Orchestrator, registry *agents.Registry, coordinator *rag.Coordinator, store *vector.Store) *HealthHandler {
	return &HealthHandler{
		orchestrator: orchestrator,
		registry:     registry,
		coordinator:  coordinator,
		store:        store,
	}
}

// Handle responds with server health status, including each agent's
// circuit breaker state
// GET /health
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":    "healthy",
		"sessions":  h.orchestrator.MemoryStats(),
		"breakers":  h.orchestrator.BreakerSnapshots(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if h.coordinator != nil {
		resp["rag_cache_entries"] = h.coordinator.CacheSize()
	}
	if h.store != nil {
		resp["knowledge_documents"] = h.store.Len()
	}
	return c.JSON(resp)
}

// Agents probes each registered agent's downstream dependency. Slower
// than Handle; meant for operators, not load balancers.
// GET /health/agents
func (h *HealthHandler) Agents(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	results := make(map[string]bool)
	for _, agentType := range h.registry.Types() {
		agent, err := h.registry.GetAgent(agentType)
		if err != nil {
			results[agentType] = false
			continue
		}
		results[agentType] = agent.HealthCheck(ctx)
	}

	status := "healthy"
	for _, ok := range results {
		if !ok {
			status = "degraded"
			break
		}
	}

	return c.JSON(fiber.Map{
		"status":    status,
		"agents":    results,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
