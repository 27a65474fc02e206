// Package vector is a brute-force cosine-similarity index over
// embeddings. It is the reference implementation of the retrieval
// backend; swapping in a dedicated vector database only means
// re-implementing Search and Add.
package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"souschef/internal/llm"
	"souschef/internal/models"
)

type document struct {
	id       string
	text     string
	vec      []float32
	norm     float64
	metadata map[string]string
}

// Store is an in-process embedding index. Documents keep their insertion
// order, which breaks score ties deterministically.
type Store struct {
	embedder llm.Embedder

	mu   sync.RWMutex
	docs []document
}

// NewStore creates an empty index backed by the given embedder
func NewStore(embedder llm.Embedder) *Store {
	return &Store{embedder: embedder}
}

// Add embeds and indexes one document
func (s *Store) Add(ctx context.Context, text string, metadata map[string]string) (string, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed document: %w", err)
	}
	doc := document{
		id:       uuid.NewString(),
		text:     text,
		vec:      vec,
		norm:     vectorNorm(vec),
		metadata: metadata,
	}
	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.mu.Unlock()
	return doc.id, nil
}

// Search returns the topK nearest documents to the query embedding,
// ranked by descending cosine similarity. filters, when non-empty,
// require exact metadata matches.
func (s *Store) Search(ctx context.Context, queryVec []float32, topK int, filters map[string]string) ([]models.RetrievalChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qNorm := vectorNorm(queryVec)
	if qNorm == 0 {
		return nil, fmt.Errorf("zero query vector")
	}

	s.mu.RLock()
	scored := make([]models.RetrievalChunk, 0, len(s.docs))
	for _, doc := range s.docs {
		if !matches(doc.metadata, filters) {
			continue
		}
		sim := cosine(queryVec, qNorm, doc.vec, doc.norm)
		scored = append(scored, models.RetrievalChunk{
			SourceID:   doc.id,
			Text:       doc.text,
			Similarity: sim,
			Metadata:   doc.metadata,
		})
	}
	s.mu.RUnlock()

	// Stable sort keeps insertion order among equal scores
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Embed exposes the underlying embedder so the store satisfies the full
// retrieval backend contract.
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// Len returns the number of indexed documents
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func matches(metadata, filters map[string]string) bool {
	for k, want := range filters {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (aNorm * bNorm)
	// Clamp for float drift so scores stay within 0.0-1.0
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim
}
