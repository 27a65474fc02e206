package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"souschef/internal/config"
	"souschef/internal/llm"
)

// LLMClassifier asks the inference endpoint to pick an agent for a
// query. A slow or broken endpoint only costs this one signal; the
// detector still routes on keywords and context.
type LLMClassifier struct {
	chatter llm.Chatter
	store   *config.AgentConfigStore
	timeout time.Duration
}

// NewLLMClassifier creates a classifier over the given chat client
func NewLLMClassifier(chatter llm.Chatter, store *config.AgentConfigStore) *LLMClassifier {
	return &LLMClassifier{
		chatter: chatter,
		store:   store,
		timeout: 10 * time.Second,
	}
}

// Classify returns the chosen agent type and the model's confidence
func (c *LLMClassifier) Classify(ctx context.Context, query string) (string, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var roster strings.Builder
	for _, spec := range c.store.Agents() {
		fmt.Fprintf(&roster, "- %s: %s\n", spec.Type, spec.Description)
	}

	// A standalone classification prompt, not the conversational context,
	// so the model classifies the question instead of answering it.
	messages := []llm.Message{
		{
			Role: "system",
			Content: "You are a precise intent classification system. Pick the single best agent for the user's message.\n" +
				"Agents:\n" + roster.String() +
				"Respond with only JSON: {\"agent\": \"<type>\", \"confidence\": <0.0-1.0>}",
		},
		{Role: "user", Content: query},
	}

	content, err := c.chatter.Chat(ctx, messages, llm.Options{Temperature: 0.0})
	if err != nil {
		return "", 0, fmt.Errorf("classification call failed: %w", err)
	}

	raw := extractJSON(content)
	if raw == "" {
		return "", 0, fmt.Errorf("no JSON in classifier output: %q", content)
	}
	var parsed struct {
		Agent      string  `json:"agent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", 0, fmt.Errorf("failed to parse classifier output: %w", err)
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return parsed.Agent, parsed.Confidence, nil
}

// extractJSON pulls the first balanced JSON object out of model output,
// tolerating markdown fences and surrounding prose.
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
