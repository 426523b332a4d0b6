package hashiru

import (
	"context"
	"log/slog"
	"math"
	"sort"
)

// ScoredMemory pairs a record with its cosine similarity to the query.
type ScoredMemory struct {
	MemoryRecord
	Score float32 `json:"score"`
}

// MemoryRetriever ranks stored memories against a query by embedding cosine
// similarity. It never mutates the store, and an embedder failure degrades
// to an empty result rather than an error: retrieval is a best-effort side
// channel, not a dependency of the turn loop.
type MemoryRetriever struct {
	store     *MemoryStore
	embedding EmbeddingProvider
	logger    *slog.Logger
}

// RetrieverOption configures a MemoryRetriever.
type RetrieverOption func(*MemoryRetriever)

// WithRetrieverLogger sets the structured logger for retrieval events.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *MemoryRetriever) { r.logger = l }
}

// NewMemoryRetriever creates a retriever over store using embedding.
func NewMemoryRetriever(store *MemoryStore, embedding EmbeddingProvider, opts ...RetrieverOption) *MemoryRetriever {
	r := &MemoryRetriever{store: store, embedding: embedding, logger: nopLogger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TopK returns up to k records whose similarity with query is >= threshold,
// ordered by similarity descending. An empty store returns an empty list.
func (r *MemoryRetriever) TopK(ctx context.Context, query string, k int, threshold float32) []ScoredMemory {
	if k <= 0 {
		return nil
	}
	records, err := r.store.List()
	if err != nil {
		r.logger.Warn("memory retrieval: list failed", "error", err)
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	// One batch: query first, then every memory text.
	texts := make([]string, 0, len(records)+1)
	texts = append(texts, query)
	for _, rec := range records {
		texts = append(texts, rec.Memory)
	}
	vectors, err := r.embedding.Embed(ctx, texts)
	if err != nil {
		r.logger.Warn("memory retrieval: embed failed", "error", err)
		return nil
	}
	if len(vectors) != len(texts) {
		r.logger.Warn("memory retrieval: embedder returned wrong count",
			"want", len(texts), "got", len(vectors))
		return nil
	}

	queryVec := vectors[0]
	scored := make([]ScoredMemory, 0, len(records))
	for i, rec := range records {
		score := cosineSimilarity(queryVec, vectors[i+1])
		if score >= threshold {
			scored = append(scored, ScoredMemory{MemoryRecord: rec, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-magnitude vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
