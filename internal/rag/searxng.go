package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"souschef/internal/models"
)

// ExternalSearcher is the web-search side of the retrieval fan-out
type ExternalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.RetrievalChunk, error)
}

// SearXNGClient queries a SearXNG metasearch instance. Outbound calls
// are paced with a token bucket so a burst of uncached queries cannot
// hammer the instance into rate-limiting us.
type SearXNGClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSearXNGClient creates a client for one SearXNG instance
func NewSearXNGClient(baseURL string) *SearXNGClient {
	return &SearXNGClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10), // 5 req/s, burst 10
	}
}

type searxngResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Search runs a query and maps results to retrieval chunks ranked by
// descending relevance.
func (c *SearXNGClient) Search(ctx context.Context, query string, limit int) ([]models.RetrievalChunk, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("search api error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Results []searxngResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if limit > 0 && len(parsed.Results) > limit {
		parsed.Results = parsed.Results[:limit]
	}

	chunks := make([]models.RetrievalChunk, 0, len(parsed.Results))
	for i, r := range parsed.Results {
		text := r.Content
		if text == "" {
			text = r.Title
		}
		chunks = append(chunks, models.RetrievalChunk{
			SourceID:   r.URL,
			Text:       text,
			Similarity: rankScore(i),
			Metadata: map[string]string{
				"title":  r.Title,
				"url":    r.URL,
				"source": "searxng",
			},
		})
	}
	return chunks, nil
}

// rankScore converts a result position into a monotonically decreasing
// relevance in (0,1], keeping external results ordered.
func rankScore(position int) float64 {
	return 1.0 / (1.0 + 0.1*float64(position))
}
