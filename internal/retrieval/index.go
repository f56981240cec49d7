// Package retrieval embeds per-row documents and serves exact
// inner-product search over them.
package retrieval

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/qaerr"
)

// DefaultTopK is the number of snippets retrieved when not configured.
const DefaultTopK = 5

// Hit is one search result.
type Hit struct {
	Position int     `json:"position"`
	Document string  `json:"document"`
	Score    float32 `json:"score"`
}

// QueryEmbedder embeds search queries. *Embedder satisfies it.
type QueryEmbedder interface {
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is a flat index of unit-length vectors parallel to a document list.
// It is immutable once built.
type Index struct {
	model   string
	hash    string
	dim     int
	builtAt time.Time
	vectors [][]float32
	docs    []string
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Model returns the embedding model the vectors were produced with.
func (ix *Index) Model() string { return ix.model }

// Hash returns the content hash of the indexed document list.
func (ix *Index) Hash() string { return ix.hash }

// Dim returns the vector dimension, 0 for an empty index.
func (ix *Index) Dim() int { return ix.dim }

// BuiltAt returns when the vectors were computed.
func (ix *Index) BuiltAt() time.Time { return ix.builtAt }

// Document returns the document at position i.
func (ix *Index) Document(i int) string { return ix.docs[i] }

// Build embeds docs with emb, normalizes every vector and returns the index.
// onProgress is forwarded to EmbedBatch.
func Build(ctx context.Context, emb *Embedder, docs []string, onProgress func(int)) (*Index, error) {
	vecs, err := emb.EmbedBatch(ctx, docs, onProgress)
	if err != nil {
		return nil, err
	}
	return newIndex(emb.Model(), docs, vecs, time.Now().UTC())
}

func newIndex(model string, docs []string, vecs [][]float32, builtAt time.Time) (*Index, error) {
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("got %d vectors for %d documents", len(vecs), len(docs))
	}
	ix := &Index{
		model:   model,
		hash:    dataset.HashDocuments(docs),
		builtAt: builtAt,
		vectors: make([][]float32, len(vecs)),
		docs:    append([]string(nil), docs...),
	}
	for i, v := range vecs {
		if i == 0 {
			ix.dim = len(v)
		} else if len(v) != ix.dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), ix.dim)
		}
		ix.vectors[i] = normalized(v)
	}
	return ix, nil
}

// Search embeds query and returns up to topK documents in non-increasing
// score order. topK < 0 is a *qaerr.ConfigError; topK == 0 returns nothing.
func (ix *Index) Search(ctx context.Context, emb QueryEmbedder, query string, topK int) ([]Hit, error) {
	if topK < 0 {
		return nil, &qaerr.ConfigError{Key: "retrieval.top_k", Msg: fmt.Sprintf("must be >= 0, got %d", topK)}
	}
	if topK == 0 || ix.Len() == 0 {
		return []Hit{}, nil
	}
	if emb.Model() != ix.model {
		return nil, &qaerr.ConfigError{Key: "ollama.embed_model",
			Msg: fmt.Sprintf("query model %q does not match index model %q", emb.Model(), ix.model)}
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return ix.SearchVector(vec, topK), nil
}

// SearchVector scores a raw query vector against the index.
func (ix *Index) SearchVector(query []float32, topK int) []Hit {
	if topK <= 0 {
		return []Hit{}
	}
	positions, scores := searchFlat(ix.vectors, normalized(query), topK)

	hits := make([]Hit, 0, len(positions))
	for i, pos := range positions {
		if pos < 0 || pos >= len(ix.docs) {
			continue
		}
		hits = append(hits, Hit{Position: pos, Document: ix.docs[pos], Score: scores[i]})
	}
	return hits
}

// searchFlat is an exhaustive inner-product scan. It always returns k slots;
// slots beyond the number of vectors hold position -1.
func searchFlat(vectors [][]float32, q []float32, k int) ([]int, []float32) {
	h := make(posScoreHeap, 0, k)
	for i, v := range vectors {
		s := dot(q, v)
		if h.Len() < k {
			heap.Push(&h, posScore{pos: i, score: s})
		} else if s > h[0].score {
			h[0] = posScore{pos: i, score: s}
			heap.Fix(&h, 0)
		}
	}

	sort.Slice(h, func(i, j int) bool {
		if h[i].score != h[j].score {
			return h[i].score > h[j].score
		}
		return h[i].pos < h[j].pos
	})

	positions := make([]int, k)
	scores := make([]float32, k)
	for i := range positions {
		if i < len(h) {
			positions[i], scores[i] = h[i].pos, h[i].score
		} else {
			positions[i] = -1
		}
	}
	return positions, scores
}

type posScore struct {
	pos   int
	score float32
}

// posScoreHeap is a min-heap whose root is the weakest candidate: the lowest
// score, and among equal scores the latest position.
type posScoreHeap []posScore

func (h posScoreHeap) Len() int { return len(h) }
func (h posScoreHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].pos > h[j].pos
}
func (h posScoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *posScoreHeap) Push(x any)   { *h = append(*h, x.(posScore)) }
func (h *posScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
