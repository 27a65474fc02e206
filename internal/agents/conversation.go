package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"souschef/internal/config"
	"souschef/internal/llm"
	"souschef/internal/models"
)

// historyWindow caps how many transcript turns are replayed to the model
const historyWindow = 10

// ConversationAgent is the shared shape of every LLM-backed agent:
// a system prompt, the session history window and optional retrieval
// context, sent to the inference endpoint.
type ConversationAgent struct {
	agentType      string
	systemPrompt   string
	needsRetrieval bool
	chatter        llm.Chatter
	confidence     float64
	roster         *config.AgentConfigStore
}

// NewGeneralAgent handles small talk and anything without a better home.
// It is the registry default and the terminal fallback, so it accepts
// retrieval context but never requires it.
func NewGeneralAgent(chatter llm.Chatter, roster *config.AgentConfigStore) *ConversationAgent {
	return &ConversationAgent{
		agentType: models.AgentGeneral,
		systemPrompt: "You are Souschef, a helpful home assistant. Answer conversationally and briefly. " +
			"If supporting context is provided, prefer it over your own assumptions.",
		needsRetrieval: true,
		chatter:        chatter,
		confidence:     0.7,
		roster:         roster,
	}
}

// NewChefAgent answers cooking and recipe questions
func NewChefAgent(chatter llm.Chatter, roster *config.AgentConfigStore) *ConversationAgent {
	return &ConversationAgent{
		agentType: models.AgentChef,
		systemPrompt: "You are a pragmatic home chef. Suggest recipes and cooking guidance using the " +
			"pantry and recipe context provided. Keep ingredient lists realistic.",
		needsRetrieval: true,
		chatter:        chatter,
		confidence:     0.8,
		roster:         roster,
	}
}

// NewShoppingAgent answers purchase, receipt and budget questions
func NewShoppingAgent(chatter llm.Chatter, roster *config.AgentConfigStore) *ConversationAgent {
	return &ConversationAgent{
		agentType: models.AgentShopping,
		systemPrompt: "You are a household spending assistant. Answer questions about purchases, receipts " +
			"and budgets strictly from the provided context; say so when the records don't cover the question.",
		needsRetrieval: true,
		chatter:        chatter,
		confidence:     0.8,
		roster:         roster,
	}
}

// NewSearchAgent answers information queries, leaning on external search results
func NewSearchAgent(chatter llm.Chatter, roster *config.AgentConfigStore) *ConversationAgent {
	return &ConversationAgent{
		agentType: models.AgentSearch,
		systemPrompt: "You are a research assistant. Synthesize an answer from the search results and " +
			"documents provided, citing source titles inline. Say clearly when nothing relevant was found.",
		needsRetrieval: true,
		chatter:        chatter,
		confidence:     0.75,
		roster:         roster,
	}
}

// Type implements Agent
func (a *ConversationAgent) Type() string { return a.agentType }

// NeedsRetrieval implements Agent. The roster flag wins when the agent
// is declared there, so hot-reloaded edits take effect without a restart.
func (a *ConversationAgent) NeedsRetrieval() bool {
	if a.roster != nil {
		if spec, ok := a.roster.Agent(a.agentType); ok {
			return spec.NeedsRetrieval
		}
	}
	return a.needsRetrieval
}

// Process implements Agent
func (a *ConversationAgent) Process(ctx context.Context, req Request) models.AgentResponse {
	messages := a.buildMessages(req)

	content, err := a.chatter.Chat(ctx, messages, llm.Options{Temperature: 0.7})
	if err != nil {
		return a.failure(err)
	}
	if content == "" {
		return a.failure(fmt.Errorf("empty completion"))
	}

	resp := models.AgentResponse{
		Content:    content,
		Success:    true,
		Confidence: a.confidence,
		AgentUsed:  a.agentType,
	}
	if req.Bundle != nil && req.Bundle.Empty() {
		// The agent answered from its own reasoning; flag the missing
		// support so callers can tell.
		resp.Payload = map[string]any{"retrieval": "empty"}
		resp.Confidence = a.confidence * 0.8
	}
	return resp
}

// HealthCheck implements Agent with a minimal one-token completion
func (a *ConversationAgent) HealthCheck(ctx context.Context) bool {
	_, err := a.chatter.Chat(ctx, []llm.Message{
		{Role: "user", Content: "ping"},
	}, llm.Options{MaxTokens: 1})
	return err == nil
}

func (a *ConversationAgent) buildMessages(req Request) []llm.Message {
	system := a.systemPrompt
	if ctxBlock := formatBundle(req.Bundle); ctxBlock != "" {
		system += "\n\n## Supporting context\n" + ctxBlock
	}

	messages := []llm.Message{{Role: "system", Content: system}}
	if req.Session != nil {
		history := req.Session.Messages
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		for _, m := range history {
			messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
		}
	}
	return append(messages, llm.Message{Role: "user", Content: req.Query})
}

func (a *ConversationAgent) failure(err error) models.AgentResponse {
	kind := models.ErrorKindProcessing
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = models.ErrorKindTimeout
	}

	// Quota and rate-limit replies carry a stay-away duration; the
	// orchestrator stretches the breaker cooldown with it.
	var backoff time.Duration
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) && llm.IsQuotaError(statusErr.Code, statusErr.Body) {
		backoff = llm.SuggestedBackoff(statusErr.Code, statusErr.Body)
		log.Printf("⚠️  [AGENT] %s hit provider quota, backing off %s", a.agentType, backoff)
	}

	log.Printf("❌ [AGENT] %s failed: %v", a.agentType, err)
	return models.AgentResponse{
		Success:   false,
		AgentUsed: a.agentType,
		ErrorKind: kind,
		Backoff:   backoff,
	}
}

// formatBundle renders retrieval chunks as a compact context block
func formatBundle(bundle *models.RetrievalBundle) string {
	if bundle.Empty() {
		return ""
	}
	var sb strings.Builder
	for _, chunk := range bundle.Knowledge {
		fmt.Fprintf(&sb, "- [kb %.2f] %s\n", chunk.Similarity, truncate(chunk.Text, 500))
	}
	for _, chunk := range bundle.External {
		title := chunk.Metadata["title"]
		if title == "" {
			title = chunk.SourceID
		}
		fmt.Fprintf(&sb, "- [web] %s: %s\n", title, truncate(chunk.Text, 500))
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
