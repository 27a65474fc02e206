package vector

import (
	"context"
	"testing"
)

// stubEmbedder maps known texts to fixed vectors
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestSearchRanksByCosine(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"exact":      {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 1, 0},
	}}
	store := NewStore(emb)
	for _, text := range []string{"orthogonal", "close", "exact"} {
		if _, err := store.Add(context.Background(), text, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	got, err := store.Search(context.Background(), []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].Text != "exact" || got[1].Text != "close" {
		t.Fatalf("unexpected ranking: %+v", got)
	}
	if got[0].Similarity < got[1].Similarity {
		t.Fatal("scores not descending")
	}
}

func TestSearchTieKeepsInsertionOrder(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"first":  {1, 0, 0},
		"second": {1, 0, 0},
		"third":  {1, 0, 0},
	}}
	store := NewStore(emb)
	for _, text := range []string{"first", "second", "third"} {
		if _, err := store.Add(context.Background(), text, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	got, err := store.Search(context.Background(), []float32{1, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got[0].Text != "first" || got[1].Text != "second" || got[2].Text != "third" {
		t.Fatalf("tie broke insertion order: %+v", got)
	}
}

func TestSearchMetadataFilter(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"recipe doc":  {1, 0, 0},
		"receipt doc": {1, 0, 0},
	}}
	store := NewStore(emb)
	store.Add(context.Background(), "recipe doc", map[string]string{"kind": "recipe"})
	store.Add(context.Background(), "receipt doc", map[string]string{"kind": "receipt"})

	got, err := store.Search(context.Background(), []float32{1, 0, 0}, 5, map[string]string{"kind": "receipt"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "receipt doc" {
		t.Fatalf("filter failed: %+v", got)
	}
}

func TestSearchRejectsZeroVector(t *testing.T) {
	store := NewStore(&stubEmbedder{})
	if _, err := store.Search(context.Background(), []float32{0, 0, 0}, 5, nil); err == nil {
		t.Fatal("expected error for zero query vector")
	}
}
