package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"souschef/internal/agents"
	"souschef/internal/breaker"
	"souschef/internal/config"
	"souschef/internal/intent"
	"souschef/internal/logging"
	"souschef/internal/memory"
	"souschef/internal/models"
	"souschef/internal/rag"
)

// stubAgent is a configurable fake handler
type stubAgent struct {
	typ       string
	retrieval bool
	fail      bool
	block     bool          // wait for ctx cancellation, then fail
	backoff   time.Duration // attached to failure responses

	calls      int
	lastBundle *models.RetrievalBundle
}

func (s *stubAgent) Type() string                            { return s.typ }
func (s *stubAgent) NeedsRetrieval() bool                    { return s.retrieval }
func (s *stubAgent) HealthCheck(ctx context.Context) bool    { return !s.fail }
func (s *stubAgent) Process(ctx context.Context, req agents.Request) models.AgentResponse {
	s.calls++
	s.lastBundle = req.Bundle
	if s.block {
		<-ctx.Done()
		return models.AgentResponse{Success: false, ErrorKind: models.ErrorKindTimeout}
	}
	if s.fail {
		return models.AgentResponse{Success: false, ErrorKind: models.ErrorKindProcessing, Backoff: s.backoff}
	}
	return models.AgentResponse{
		Content:    "reply from " + s.typ,
		Success:    true,
		Confidence: 0.9,
		AgentUsed:  s.typ,
	}
}

func stubFactory(a *stubAgent) agents.Factory {
	return func() (agents.Agent, error) { return a, nil }
}

// failingKB fails every knowledge-base call
type failingKB struct{}

func (failingKB) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedder down")
}
func (failingKB) Search(ctx context.Context, vec []float32, topK int, filters map[string]string) ([]models.RetrievalChunk, error) {
	return nil, errors.New("index down")
}

// failingSearcher fails every external call
type failingSearcher struct{}

func (failingSearcher) Search(ctx context.Context, query string, limit int) ([]models.RetrievalChunk, error) {
	return nil, errors.New("searxng down")
}

type fixture struct {
	orch *Orchestrator
	mem  *memory.Manager
}

func newFixture(t *testing.T, stubs map[string]*stubAgent, perAgent map[string]breaker.Settings, coordinator *rag.Coordinator, timeout time.Duration) *fixture {
	t.Helper()

	factories := make(map[string]agents.Factory, len(stubs))
	for typ, a := range stubs {
		factories[typ] = stubFactory(a)
	}
	registry, err := agents.NewRegistry(models.AgentGeneral, factories)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	store, err := config.LoadAgents("definitely-missing.yaml")
	if err != nil {
		t.Fatalf("load agents: %v", err)
	}
	detector := intent.NewDetector(store, nil, true, 0.5)

	mem := memory.NewManager(time.Hour, nil)
	breakers := breaker.NewRegistry(breaker.Settings{FailureThreshold: 3, Cooldown: 30 * time.Second}, perAgent)

	if timeout <= 0 {
		timeout = time.Second
	}
	return &fixture{
		orch: NewOrchestrator(detector, registry, breakers, mem, coordinator, nil, timeout),
		mem:  mem,
	}
}

func generalStub() *stubAgent {
	return &stubAgent{typ: models.AgentGeneral}
}

func TestHandleRoutesWeatherQuery(t *testing.T) {
	weather := &stubAgent{typ: models.AgentWeather}
	f := newFixture(t, map[string]*stubAgent{
		models.AgentGeneral: generalStub(),
		models.AgentWeather: weather,
	}, nil, nil, 0)

	resp, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "What's the weather in Warsaw?",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !resp.Success || resp.AgentUsed != models.AgentWeather {
		t.Fatalf("expected weather success, got success=%v agent=%q", resp.Success, resp.AgentUsed)
	}
	if weather.calls != 1 {
		t.Fatalf("expected 1 weather dispatch, got %d", weather.calls)
	}

	// Both sides of the exchange must be in session memory.
	snap := f.mem.Snapshot("s1")
	if snap == nil || len(snap.Messages) != 2 {
		t.Fatalf("expected 2 recorded messages, got %+v", snap)
	}
	if snap.Messages[0].Role != models.RoleUser || snap.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", snap.Messages[0].Role, snap.Messages[1].Role)
	}
	if snap.Messages[1].AgentUsed != models.AgentWeather {
		t.Fatalf("assistant message not attributed: %+v", snap.Messages[1])
	}
}

func TestBreakerOpensAndFallbackKeepsServing(t *testing.T) {
	weather := &stubAgent{typ: models.AgentWeather, fail: true}
	search := &stubAgent{typ: models.AgentSearch}
	f := newFixture(t, map[string]*stubAgent{
		models.AgentGeneral: generalStub(),
		models.AgentWeather: weather,
		models.AgentSearch:  search,
	}, map[string]breaker.Settings{
		models.AgentWeather: {FailureThreshold: 5, Cooldown: time.Hour},
	}, nil, 0)

	// Five consecutive failures open the weather breaker; each request
	// still succeeds through the search fallback.
	for i := 0; i < 5; i++ {
		resp, err := f.orch.Handle(context.Background(), models.ChatRequest{
			Message:   "weather in Gdansk",
			SessionID: "s1",
		})
		if err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
		if !resp.Success || resp.AgentUsed != models.AgentSearch {
			t.Fatalf("request %d: expected search fallback success, got success=%v agent=%q", i, resp.Success, resp.AgentUsed)
		}
	}
	if weather.calls != 5 {
		t.Fatalf("expected 5 weather attempts before the breaker opened, got %d", weather.calls)
	}

	// Sixth request: weather is skipped without a dispatch.
	resp, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "weather in Gdansk",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !resp.Success || resp.AgentUsed != models.AgentSearch {
		t.Fatalf("expected fallback to keep serving, got success=%v agent=%q", resp.Success, resp.AgentUsed)
	}
	if weather.calls != 5 {
		t.Fatalf("open breaker must not dispatch, weather calls=%d", weather.calls)
	}
}

func TestRetrievalFailureDoesNotAbortDispatch(t *testing.T) {
	search := &stubAgent{typ: models.AgentSearch, retrieval: true}
	coordinator := rag.NewCoordinator(failingKB{}, failingSearcher{}, rag.NewQueryCache(time.Minute, nil), models.RetrievalOptions{
		TopK:          5,
		MinSimilarity: 0.65,
	})
	f := newFixture(t, map[string]*stubAgent{
		models.AgentGeneral: generalStub(),
		models.AgentSearch:  search,
	}, nil, coordinator, 0)

	resp, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "what is the capital of France",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !resp.Success || resp.AgentUsed != models.AgentSearch {
		t.Fatalf("expected dispatch despite retrieval outage, got success=%v agent=%q", resp.Success, resp.AgentUsed)
	}
	if search.lastBundle == nil {
		t.Fatal("agent should receive an empty bundle, not nil")
	}
	if !search.lastBundle.Degraded || !search.lastBundle.Empty() {
		t.Fatalf("expected empty degraded bundle, got %+v", search.lastBundle)
	}
}

func TestUnknownAgentTypeFallsBackToDefault(t *testing.T) {
	general := generalStub()
	// No weather factory registered: the registry substitutes the default.
	f := newFixture(t, map[string]*stubAgent{
		models.AgentGeneral: general,
	}, nil, nil, 0)

	resp, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "weather in Gdansk",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !resp.Success || resp.AgentUsed != models.AgentGeneral {
		t.Fatalf("expected default substitution, got success=%v agent=%q", resp.Success, resp.AgentUsed)
	}
	if general.calls != 1 {
		t.Fatalf("default should be dispatched exactly once, calls=%d", general.calls)
	}
}

func TestExhaustedChainStillAnswers(t *testing.T) {
	weather := &stubAgent{typ: models.AgentWeather, fail: true}
	search := &stubAgent{typ: models.AgentSearch, fail: true}
	general := &stubAgent{typ: models.AgentGeneral, fail: true}
	f := newFixture(t, map[string]*stubAgent{
		models.AgentGeneral: general,
		models.AgentWeather: weather,
		models.AgentSearch:  search,
	}, nil, nil, 0)

	resp, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "weather in Gdansk",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Success {
		t.Fatal("exhausted chain must report failure")
	}
	if !strings.Contains(resp.Response, "temporarily limited") {
		t.Fatalf("expected degraded-service message, got %q", resp.Response)
	}
	// The chosen candidate plus one retry, nothing more.
	if weather.calls+search.calls+general.calls != 2 {
		t.Fatalf("expected exactly 2 dispatches, got weather=%d search=%d general=%d",
			weather.calls, search.calls, general.calls)
	}

	// The failed exchange is still recorded.
	snap := f.mem.Snapshot("s1")
	if snap == nil || len(snap.Messages) != 2 {
		t.Fatalf("expected the failed exchange in memory, got %+v", snap)
	}
}

func TestAgentTimeoutCountsAsBreakerFailure(t *testing.T) {
	weather := &stubAgent{typ: models.AgentWeather, block: true}
	f := newFixture(t, map[string]*stubAgent{
		models.AgentGeneral: generalStub(),
		models.AgentWeather: weather,
	}, map[string]breaker.Settings{
		models.AgentWeather: {FailureThreshold: 1, Cooldown: time.Hour},
	}, nil, 20*time.Millisecond)

	resp, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "weather in Gdansk",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	// The timed-out weather call falls through to a healthy candidate.
	if !resp.Success {
		t.Fatalf("expected fallback success after timeout, got %+v", resp)
	}
	if got := f.orch.BreakerSnapshots(); len(got) == 0 {
		t.Fatal("expected breaker snapshots")
	}
	if state := f.orch.breakers.For(models.AgentWeather).State(); state != breaker.StateOpen {
		t.Fatalf("timeout must trip the breaker, state=%s", state)
	}
}

func TestRequestContextBecomesPreferences(t *testing.T) {
	f := newFixture(t, map[string]*stubAgent{models.AgentGeneral: generalStub()}, nil, nil, 0)

	_, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "hello",
		SessionID: "s1",
		Context:   map[string]string{"location": "Warsaw"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	snap := f.mem.Snapshot("s1")
	if snap == nil || snap.Preferences["location"] != "Warsaw" {
		t.Fatalf("request context not stored as preferences: %+v", snap)
	}

	// Later turns without a context block keep seeing the preference.
	if _, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "hello again",
		SessionID: "s1",
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if snap := f.mem.Snapshot("s1"); snap.Preferences["location"] != "Warsaw" {
		t.Fatalf("preference lost across turns: %+v", snap.Preferences)
	}
}

func TestAllBreakersOpenReportsCircuitOpen(t *testing.T) {
	weather := &stubAgent{typ: models.AgentWeather}
	search := &stubAgent{typ: models.AgentSearch}
	general := generalStub()
	f := newFixture(t, map[string]*stubAgent{
		models.AgentGeneral: general,
		models.AgentWeather: weather,
		models.AgentSearch:  search,
	}, map[string]breaker.Settings{
		models.AgentWeather: {FailureThreshold: 1, Cooldown: time.Hour},
		models.AgentSearch:  {FailureThreshold: 1, Cooldown: time.Hour},
		models.AgentGeneral: {FailureThreshold: 1, Cooldown: time.Hour},
	}, nil, 0)

	for _, typ := range []string{models.AgentWeather, models.AgentSearch, models.AgentGeneral} {
		f.orch.breakers.For(typ).RecordFailure()
	}

	intentRes := f.orch.detector.Detect(context.Background(), "weather in Gdansk", nil)
	resp := f.orch.dispatchWithFallback(context.Background(), logging.WithRequest("r1", "s1"), "weather in Gdansk", nil, intentRes)

	if resp.Success {
		t.Fatal("expected failure with every circuit open")
	}
	if resp.ErrorKind != models.ErrorKindCircuitOpen {
		t.Fatalf("expected %s with zero dispatches, got %s", models.ErrorKindCircuitOpen, resp.ErrorKind)
	}
	if weather.calls+search.calls+general.calls != 0 {
		t.Fatalf("open circuits must not dispatch, got weather=%d search=%d general=%d",
			weather.calls, search.calls, general.calls)
	}
}

func TestQuotaBackoffStretchesBreakerCooldown(t *testing.T) {
	weather := &stubAgent{typ: models.AgentWeather, fail: true, backoff: 5 * time.Minute}
	f := newFixture(t, map[string]*stubAgent{
		models.AgentGeneral: generalStub(),
		models.AgentWeather: weather,
	}, map[string]breaker.Settings{
		models.AgentWeather: {FailureThreshold: 1, Cooldown: time.Second},
	}, nil, 0)

	resp, err := f.orch.Handle(context.Background(), models.ChatRequest{
		Message:   "weather in Gdansk",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !resp.Success || resp.AgentUsed == models.AgentWeather {
		t.Fatalf("expected fallback after quota failure, got success=%v agent=%q", resp.Success, resp.AgentUsed)
	}

	snap := f.orch.breakers.For(models.AgentWeather).Stats()
	if snap.State != breaker.StateOpen {
		t.Fatalf("quota failure must trip the breaker, state=%s", snap.State)
	}
	// The hold honors the provider hint, not the 1s configured cooldown.
	if snap.CooldownUntil.Before(time.Now().Add(4 * time.Minute)) {
		t.Fatalf("cooldown end %s ignores the quota backoff hint", snap.CooldownUntil)
	}
}

func TestHandleValidatesInput(t *testing.T) {
	f := newFixture(t, map[string]*stubAgent{models.AgentGeneral: generalStub()}, nil, nil, 0)

	if _, err := f.orch.Handle(context.Background(), models.ChatRequest{SessionID: "s1"}); err == nil {
		t.Fatal("expected error for empty message")
	}
	if _, err := f.orch.Handle(context.Background(), models.ChatRequest{Message: "hi"}); err == nil {
		t.Fatal("expected error for empty session id")
	}
}
