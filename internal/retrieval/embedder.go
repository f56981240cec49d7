package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cestlavie/harvestqa/internal/cache"
	"github.com/cestlavie/harvestqa/internal/engine"
	"github.com/cestlavie/harvestqa/internal/qaerr"
)

const defaultBatchSize = 32

// Embedder wraps an EmbedBackend and a model name, optionally caching
// vectors by (model, text).
type Embedder struct {
	backend   engine.EmbedBackend
	model     string
	batchSize int
	cache     cache.Client
	cacheTTL  time.Duration
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithCache stores vectors in c for ttl. A zero ttl never expires.
func WithCache(c cache.Client, ttl time.Duration) EmbedderOption {
	return func(e *Embedder) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithBatchSize sets how many texts go into one backend request.
func WithBatchSize(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// NewEmbedder creates an Embedder using the given backend and model name.
func NewEmbedder(b engine.EmbedBackend, model string, opts ...EmbedderOption) *Embedder {
	e := &Embedder{backend: b, model: model, batchSize: defaultBatchSize}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cached(ctx, text); ok {
		return vec, nil
	}
	vec, err := e.backend.Embed(ctx, e.model, text)
	if err != nil {
		return nil, &qaerr.BackendError{Op: "embed", Err: err}
	}
	e.store(ctx, text, vec)
	return vec, nil
}

// EmbedBatch returns embedding vectors for texts, parallel to the input.
// Uncached texts are sent in chunks of the batch size with at most four
// requests in flight. onProgress, when non-nil, receives the number of texts
// finished by each completed chunk. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, onProgress func(int)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if vec, ok := e.cached(ctx, text); ok {
			results[i] = vec
			continue
		}
		pending = append(pending, i)
	}

	var mu sync.Mutex
	report := func(n int) {
		if onProgress == nil || n == 0 {
			return
		}
		mu.Lock()
		onProgress(n)
		mu.Unlock()
	}
	report(len(texts) - len(pending))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(pending); start += e.batchSize {
		end := min(start+e.batchSize, len(pending))
		chunk := pending[start:end]
		g.Go(func() error {
			batch := make([]string, len(chunk))
			for j, idx := range chunk {
				batch[j] = texts[idx]
			}
			vecs, err := e.backend.EmbedBatch(gCtx, e.model, batch)
			if err != nil {
				return &qaerr.BackendError{Op: "embed batch", Err: err}
			}
			for j, idx := range chunk {
				results[idx] = vecs[j]
				e.store(gCtx, texts[idx], vecs[j])
			}
			report(len(chunk))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(e.model + "\x00" + text))
	return "emb:" + hex.EncodeToString(h[:])
}

func (e *Embedder) cached(ctx context.Context, text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	b, err := e.cache.Get(ctx, e.cacheKey(text))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			zap.L().Warn("embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}
	vec, err := decodeFloat32s(b)
	if err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (e *Embedder) store(ctx context.Context, text string, vec []float32) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, e.cacheKey(text), encodeFloat32s(vec), e.cacheTTL); err != nil {
		zap.L().Warn("embedding cache write failed", zap.Error(err))
	}
}
