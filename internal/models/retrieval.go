package models

// RetrievalChunk is one retrieved passage with its relevance score
type RetrievalChunk struct {
	SourceID   string            `json:"source_id"`
	Text       string            `json:"text"`
	Similarity float64           `json:"similarity"` // 0.0-1.0, higher is closer
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RetrievalBundle carries the supporting context assembled for one
// request: knowledge-base chunks and external search results, each
// independently ranked by descending relevance.
type RetrievalBundle struct {
	Knowledge []RetrievalChunk `json:"knowledge"`
	External  []RetrievalChunk `json:"external"`

	// Degraded is set when one of the two sources failed and the bundle
	// holds only the surviving half.
	Degraded bool `json:"degraded,omitempty"`
}

// Empty reports whether the bundle carries no supporting context at all
func (b *RetrievalBundle) Empty() bool {
	return b == nil || (len(b.Knowledge) == 0 && len(b.External) == 0)
}

// RetrievalOptions controls a single coordinator call
type RetrievalOptions struct {
	TopK            int     `json:"top_k"`
	MinSimilarity   float64 `json:"min_similarity"`
	IncludeExternal bool    `json:"include_external"`
}
