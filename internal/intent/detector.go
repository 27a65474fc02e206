// Package intent classifies a raw query into an agent type plus ranked
// fallbacks, combining keyword tables, an LLM classifier and the
// session's last-used agent.
package intent

import (
	"context"
	"log"
	"strings"

	"souschef/internal/config"
	"souschef/internal/models"
)

// Classifier is the statistical signal source. Implementations must be
// safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, query string) (agentType string, confidence float64, err error)
}

// contextCarryConfidence is the weak score given to "same agent as last
// turn" when no stronger signal is available.
const contextCarryConfidence = 0.4

// defaultConfidence is attached to the terminal general-conversation fallback
const defaultConfidence = 0.3

// Detector reconciles the three signal sources with a configurable
// precedence. Detect is a pure function of the query and session
// snapshot; it never errors on ambiguous input.
type Detector struct {
	store      *config.AgentConfigStore
	classifier Classifier

	// classifierFirst gives the classifier precedence over keyword hits
	// when its confidence clears the threshold. The original system's
	// tie-break between the two is ambiguous, so it stays configurable.
	classifierFirst     bool
	classifierThreshold float64
}

// NewDetector creates a detector. classifier may be nil (keyword +
// context signals only).
func NewDetector(store *config.AgentConfigStore, classifier Classifier, classifierFirst bool, classifierThreshold float64) *Detector {
	if classifierThreshold <= 0 {
		classifierThreshold = 0.5
	}
	return &Detector{
		store:               store,
		classifier:          classifier,
		classifierFirst:     classifierFirst,
		classifierThreshold: classifierThreshold,
	}
}

type signal struct {
	agentType  string
	confidence float64
	source     string
}

// Detect classifies query. The returned result always names a
// registered agent, with the default agent as the terminal fallback.
func (d *Detector) Detect(ctx context.Context, query string, session *models.Session) *models.IntentResult {
	ranked := d.rankedSignals(ctx, query, session)

	defaultAgent := d.store.DefaultAgent()

	// Walk the ranked signals, demoting any whose confidence is below
	// the chosen agent's own floor.
	var winner *signal
	var demoted []signal
	for i := range ranked {
		spec, ok := d.store.Agent(ranked[i].agentType)
		if !ok {
			continue
		}
		if ranked[i].confidence >= spec.MinConfidence {
			winner = &ranked[i]
			demoted = append(demoted, ranked[i+1:]...)
			break
		}
		log.Printf("📉 [INTENT] Demoting %s: confidence %.2f below floor %.2f",
			ranked[i].agentType, ranked[i].confidence, spec.MinConfidence)
		demoted = append(demoted, ranked[i])
	}
	if winner == nil {
		winner = &signal{agentType: defaultAgent, confidence: defaultConfidence, source: "default"}
	}

	// Fallback chain: remaining signal candidates, then the winner's
	// configured fallbacks, then the default agent as terminal anchor.
	var fallbacks []string
	for _, s := range demoted {
		fallbacks = append(fallbacks, s.agentType)
	}
	if spec, ok := d.store.Agent(winner.agentType); ok {
		fallbacks = append(fallbacks, spec.Fallbacks...)
	}
	fallbacks = append(fallbacks, defaultAgent)

	result := &models.IntentResult{
		AgentType:  winner.agentType,
		Confidence: winner.confidence,
		Source:     winner.source,
	}
	seen := map[string]bool{winner.agentType: true}
	for _, f := range fallbacks {
		if _, ok := d.store.Agent(f); ok && !seen[f] {
			seen[f] = true
			result.Fallbacks = append(result.Fallbacks, f)
		}
	}
	return result
}

// rankedSignals gathers the available signals in precedence order
func (d *Detector) rankedSignals(ctx context.Context, query string, session *models.Session) []signal {
	var cls, kw, carry *signal

	if d.classifier != nil {
		agentType, confidence, err := d.classifier.Classify(ctx, query)
		if err != nil {
			log.Printf("⚠️  [INTENT] Classifier unavailable, falling back to keywords: %v", err)
		} else if _, ok := d.store.Agent(agentType); ok && confidence >= d.classifierThreshold {
			cls = &signal{agentType: agentType, confidence: confidence, source: "classifier"}
		}
	}

	if match := d.keywordMatch(query); match != nil {
		kw = match
	}

	if session != nil {
		if last := session.LastAgent(); last != "" {
			if _, ok := d.store.Agent(last); ok {
				carry = &signal{agentType: last, confidence: contextCarryConfidence, source: "context"}
			}
		}
	}

	ordered := make([]signal, 0, 3)
	appendSig := func(s *signal) {
		if s != nil {
			ordered = append(ordered, *s)
		}
	}
	if d.classifierFirst {
		appendSig(cls)
		appendSig(kw)
	} else {
		appendSig(kw)
		appendSig(cls)
	}
	appendSig(carry)
	return ordered
}

// keywordMatch scans every agent's keyword table and returns the
// highest-confidence hit, roster order breaking ties.
func (d *Detector) keywordMatch(query string) *signal {
	q := strings.ToLower(query)

	var best *signal
	for _, spec := range d.store.Agents() {
		for _, kw := range spec.Keywords {
			if strings.Contains(q, kw) {
				if best == nil || spec.KeywordConfidence > best.confidence {
					best = &signal{agentType: spec.Type, confidence: spec.KeywordConfidence, source: "keyword"}
				}
				break
			}
		}
	}
	return best
}
