package rag

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"souschef/internal/models"
)

// fakeKB is a configurable knowledge base for coordinator tests
type fakeKB struct {
	chunks      []models.RetrievalChunk
	searchErr   error
	embedErr    error
	delay       time.Duration
	searchCalls atomic.Int32
	lastTopK    atomic.Int32
}

func (f *fakeKB) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeKB) Search(ctx context.Context, vec []float32, topK int, filters map[string]string) ([]models.RetrievalChunk, error) {
	f.searchCalls.Add(1)
	f.lastTopK.Store(int32(topK))
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if topK < len(f.chunks) {
		return f.chunks[:topK], nil
	}
	return f.chunks, nil
}

type fakeExternal struct {
	chunks []models.RetrievalChunk
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeExternal) Search(ctx context.Context, query string, limit int) ([]models.RetrievalChunk, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.chunks, f.err
}

func chunk(id string, sim float64) models.RetrievalChunk {
	return models.RetrievalChunk{SourceID: id, Text: "text " + id, Similarity: sim}
}

func newTestCoordinator(kb *fakeKB, ext ExternalSearcher) *Coordinator {
	return NewCoordinator(kb, ext, NewQueryCache(time.Minute, nil), models.RetrievalOptions{
		TopK:          3,
		MinSimilarity: 0.5,
	})
}

func TestKnowledgeOnlySkipsExternal(t *testing.T) {
	kb := &fakeKB{chunks: []models.RetrievalChunk{chunk("a", 0.9), chunk("b", 0.8)}}
	ext := &fakeExternal{chunks: []models.RetrievalChunk{chunk("x", 1.0)}}
	c := newTestCoordinator(kb, ext)

	bundle, err := c.Retrieve(context.Background(), "query", models.RetrievalOptions{TopK: 3, MinSimilarity: 0.5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if ext.calls.Load() != 0 {
		t.Fatal("external search issued with IncludeExternal=false")
	}
	if len(bundle.External) != 0 || len(bundle.Knowledge) != 2 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
	for i := 1; i < len(bundle.Knowledge); i++ {
		if bundle.Knowledge[i].Similarity > bundle.Knowledge[i-1].Similarity {
			t.Fatal("knowledge chunks not ranked descending")
		}
	}
}

func TestOverFetchFilterAndTruncate(t *testing.T) {
	kb := &fakeKB{chunks: []models.RetrievalChunk{
		chunk("a", 0.95), chunk("b", 0.9), chunk("c", 0.85),
		chunk("d", 0.7), chunk("e", 0.4), chunk("f", 0.3),
	}}
	c := newTestCoordinator(kb, nil)

	bundle, err := c.Retrieve(context.Background(), "query", models.RetrievalOptions{TopK: 2, MinSimilarity: 0.8})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got := kb.lastTopK.Load(); got != 4 {
		t.Fatalf("expected 2x over-fetch (4), backend saw topK=%d", got)
	}
	if len(bundle.Knowledge) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(bundle.Knowledge))
	}
	if bundle.Knowledge[0].SourceID != "a" || bundle.Knowledge[1].SourceID != "b" {
		t.Fatalf("unexpected chunks: %+v", bundle.Knowledge)
	}
}

func TestCacheIdempotence(t *testing.T) {
	kb := &fakeKB{chunks: []models.RetrievalChunk{chunk("a", 0.9)}}
	c := newTestCoordinator(kb, nil)
	opts := models.RetrievalOptions{TopK: 3, MinSimilarity: 0.5}

	first, err := c.Retrieve(context.Background(), "What is  RAG?", opts)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	// Whitespace/case variants must hit the same cache entry
	second, err := c.Retrieve(context.Background(), "  what is rag? ", opts)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if kb.searchCalls.Load() != 1 {
		t.Fatalf("expected a single backend call, got %d", kb.searchCalls.Load())
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("cached result differs from original")
	}

	// Different opts are a different key
	if _, err := c.Retrieve(context.Background(), "what is rag?", models.RetrievalOptions{TopK: 1, MinSimilarity: 0.5}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if kb.searchCalls.Load() != 2 {
		t.Fatal("changed opts should miss the cache")
	}
}

func TestExternalFailureDegrades(t *testing.T) {
	kb := &fakeKB{chunks: []models.RetrievalChunk{chunk("a", 0.9)}}
	ext := &fakeExternal{err: errors.New("searx down")}
	c := newTestCoordinator(kb, ext)

	bundle, err := c.Retrieve(context.Background(), "query", models.RetrievalOptions{TopK: 3, MinSimilarity: 0.5, IncludeExternal: true})
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if !bundle.Degraded || len(bundle.Knowledge) != 1 || len(bundle.External) != 0 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
}

func TestKnowledgeFailureDegrades(t *testing.T) {
	kb := &fakeKB{searchErr: errors.New("index corrupt")}
	ext := &fakeExternal{chunks: []models.RetrievalChunk{chunk("x", 1.0)}}
	c := newTestCoordinator(kb, ext)

	bundle, err := c.Retrieve(context.Background(), "query", models.RetrievalOptions{TopK: 3, MinSimilarity: 0.5, IncludeExternal: true})
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if !bundle.Degraded || len(bundle.External) != 1 || len(bundle.Knowledge) != 0 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
}

func TestDegradedBundleNotCached(t *testing.T) {
	kb := &fakeKB{chunks: []models.RetrievalChunk{chunk("a", 0.9)}}
	ext := &fakeExternal{err: errors.New("searx down"), chunks: []models.RetrievalChunk{chunk("x", 1.0)}}
	c := newTestCoordinator(kb, ext)
	opts := models.RetrievalOptions{TopK: 3, MinSimilarity: 0.5, IncludeExternal: true}

	bundle, err := c.Retrieve(context.Background(), "query", opts)
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if !bundle.Degraded {
		t.Fatalf("expected degraded bundle, got %+v", bundle)
	}

	// The outage passes: the same query must hit the backends again
	// instead of replaying the degraded bundle from the cache.
	ext.err = nil
	bundle, err = c.Retrieve(context.Background(), "query", opts)
	if err != nil {
		t.Fatalf("retrieve after recovery: %v", err)
	}
	if bundle.Degraded || len(bundle.External) != 1 {
		t.Fatalf("recovered backend not consulted: %+v", bundle)
	}
	if kb.searchCalls.Load() != 2 {
		t.Fatalf("expected a fresh backend pass, kb calls=%d", kb.searchCalls.Load())
	}

	// A healthy bundle is cached as usual.
	if _, err := c.Retrieve(context.Background(), "query", opts); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if kb.searchCalls.Load() != 2 {
		t.Fatalf("healthy bundle should be served from cache, kb calls=%d", kb.searchCalls.Load())
	}
}

func TestBothSourcesFailing(t *testing.T) {
	kb := &fakeKB{searchErr: errors.New("down")}
	ext := &fakeExternal{err: errors.New("down too")}
	c := newTestCoordinator(kb, ext)

	_, err := c.Retrieve(context.Background(), "query", models.RetrievalOptions{TopK: 3, MinSimilarity: 0.5, IncludeExternal: true})
	if !errors.Is(err, ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}

func TestFanOutRunsConcurrently(t *testing.T) {
	kb := &fakeKB{chunks: []models.RetrievalChunk{chunk("a", 0.9)}, delay: 60 * time.Millisecond}
	ext := &fakeExternal{chunks: []models.RetrievalChunk{chunk("x", 1.0)}, delay: 60 * time.Millisecond}
	c := newTestCoordinator(kb, ext)

	start := time.Now()
	_, err := c.Retrieve(context.Background(), "query", models.RetrievalOptions{TopK: 3, MinSimilarity: 0.5, IncludeExternal: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 110*time.Millisecond {
		t.Fatalf("fan-out appears serialized: %v", elapsed)
	}
}

func TestJoinHonorsDeadline(t *testing.T) {
	kb := &fakeKB{chunks: []models.RetrievalChunk{chunk("a", 0.9)}, delay: time.Second}
	c := newTestCoordinator(kb, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Retrieve(ctx, "query", models.RetrievalOptions{TopK: 3, MinSimilarity: 0.5})
	if err == nil {
		t.Fatal("expected deadline error")
	}
}
