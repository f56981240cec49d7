package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cestlavie/harvestqa/internal/cache"
	"github.com/cestlavie/harvestqa/internal/qaerr"
)

// fakeBackend embeds text as a bag of runes hashed into dim buckets, so
// identical texts get identical vectors and similar texts score high.
type fakeBackend struct {
	dim int

	mu         sync.Mutex
	embedCalls int
	batchCalls int
	batchSizes []int
	failOn     string
}

func (f *fakeBackend) vector(text string) []float32 {
	v := make([]float32, f.dim)
	for _, r := range text {
		v[int(r)%f.dim]++
	}
	return v
}

func (f *fakeBackend) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("embedding failed")
	}
	return f.vector(text), nil
}

func (f *fakeBackend) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.batchSizes = append(f.batchSizes, len(texts))
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn != "" && t == f.failOn {
			return nil, errors.New("embedding failed")
		}
		out[i] = f.vector(t)
	}
	return out, nil
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	e := NewEmbedder(&fakeBackend{dim: 384}, "nomic-embed-text")

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbed_BackendError(t *testing.T) {
	e := NewEmbedder(&fakeBackend{dim: 8, failOn: "hello"}, "nomic-embed-text")

	_, err := e.Embed(context.Background(), "hello")
	var be *qaerr.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
}

func TestEmbedBatch_ChunksAndProgress(t *testing.T) {
	fb := &fakeBackend{dim: 8}
	e := NewEmbedder(fb, "m", WithBatchSize(2))

	var done int
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"}, func(n int) { done += n })
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 5 {
		t.Fatalf("got %d vectors, want 5", len(vecs))
	}
	if fb.batchCalls != 3 {
		t.Errorf("batch calls = %d, want 3", fb.batchCalls)
	}
	if done != 5 {
		t.Errorf("progress total = %d, want 5", done)
	}
	// Order is preserved across concurrent chunks.
	if vecs[4][int('e')%8] != 1 {
		t.Errorf("vecs[4] = %v, not the vector for %q", vecs[4], "e")
	}
}

func TestEmbedBatch_Error(t *testing.T) {
	e := NewEmbedder(&fakeBackend{dim: 8, failOn: "b"}, "m", WithBatchSize(1))

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	fb := &fakeBackend{dim: 8}
	e := NewEmbedder(fb, "m")

	vecs, err := e.EmbedBatch(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
	if fb.batchCalls != 0 {
		t.Errorf("backend called %d times for empty input", fb.batchCalls)
	}
}

func TestEmbedder_Cache(t *testing.T) {
	fb := &fakeBackend{dim: 8}
	e := NewEmbedder(fb, "m", WithCache(cache.NewMemoryClient(100), time.Hour))
	ctx := context.Background()

	if _, err := e.EmbedBatch(ctx, []string{"a", "b"}, nil); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if _, err := e.Embed(ctx, "a"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if fb.embedCalls != 0 {
		t.Errorf("Embed hit backend %d times, want cached", fb.embedCalls)
	}

	if _, err := e.EmbedBatch(ctx, []string{"a", "b", "c"}, nil); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got := fb.batchSizes[len(fb.batchSizes)-1]; got != 1 {
		t.Errorf("second batch sent %d texts, want only the uncached one", got)
	}
}

func TestEmbedder_CacheKeyIncludesModel(t *testing.T) {
	c := cache.NewMemoryClient(100)
	fb := &fakeBackend{dim: 8}
	ctx := context.Background()

	if _, err := NewEmbedder(fb, "m1", WithCache(c, 0)).Embed(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEmbedder(fb, "m2", WithCache(c, 0)).Embed(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if fb.embedCalls != 2 {
		t.Errorf("embed calls = %d, want 2 (one per model)", fb.embedCalls)
	}
}
