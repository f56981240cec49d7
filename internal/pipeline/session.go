// Package pipeline wires the dataset, index, composer and generator into a
// Session that answers questions.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cestlavie/harvestqa/internal/composer"
	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/generator"
	"github.com/cestlavie/harvestqa/internal/loader"
	"github.com/cestlavie/harvestqa/internal/retrieval"
	"github.com/cestlavie/harvestqa/internal/storage"
)

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// InteractionStore records answered questions. *storage.Store satisfies it.
type InteractionStore interface {
	SaveInteraction(ctx context.Context, i storage.Interaction) error
}

// Options configures a Session.
type Options struct {
	DatasetPath string
	Schema      dataset.Schema
	IndexDir    string
	IndexMode   retrieval.Mode
	Embedder    *retrieval.Embedder
	Composer    *composer.Composer
	Generator   *generator.Generator
	// Interactions is optional.
	Interactions InteractionStore
	// OnProgress receives embedding progress while an index is built.
	OnProgress func(done, total int)
}

// Session owns the active dataset and index. Asks share a read lock; a
// reload swaps both under the write lock.
type Session struct {
	opts Options

	// swapMu serializes index builds so two reloads cannot race.
	swapMu sync.Mutex
	mu     sync.RWMutex
	ds     *dataset.Dataset
	ix     *retrieval.Index
	report dataset.Report
}

// Open loads and normalizes the dataset file, then provides its index.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Schema.RootKey == "" {
		opts.Schema = dataset.DefaultSchema()
	}
	s := &Session{opts: opts}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// New creates a Session over an already-normalized dataset.
func New(ctx context.Context, ds *dataset.Dataset, report dataset.Report, opts Options) (*Session, error) {
	s := &Session{opts: opts}
	if err := s.Swap(ctx, ds, report); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the dataset file and swaps it in. On failure the current
// dataset and index stay active.
func (s *Session) Reload(ctx context.Context) error {
	raw, err := loader.LoadFile(s.opts.DatasetPath)
	if err != nil {
		return err
	}
	ds, report, err := dataset.Normalize(raw, s.opts.Schema)
	if err != nil {
		return err
	}
	zap.L().Info("dataset loaded",
		zap.String("path", s.opts.DatasetPath),
		zap.Int("valid", report.Valid),
		zap.Int("excluded", report.Excluded),
		zap.Int("inverted", report.Inverted))
	return s.Swap(ctx, ds, report)
}

// Swap provides an index for ds and makes both active.
func (s *Session) Swap(ctx context.Context, ds *dataset.Dataset, report dataset.Report) error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	docs := ds.Documents()
	var progress func(int)
	if s.opts.OnProgress != nil {
		done := 0
		progress = func(n int) {
			done += n
			s.opts.OnProgress(done, len(docs))
		}
	}

	ix, res, err := retrieval.Provide(ctx, s.opts.IndexDir, s.opts.Embedder, docs, s.opts.IndexMode, progress)
	if err != nil {
		return eris.Wrap(err, "pipeline: provide index")
	}
	zap.L().Info("index ready",
		zap.Int("documents", ix.Len()),
		zap.Bool("rebuilt", res.Rebuilt),
		zap.String("reason", res.Reason))

	s.mu.Lock()
	s.ds, s.ix, s.report = ds, ix, report
	s.mu.Unlock()
	return nil
}

// Dataset returns the active dataset.
func (s *Session) Dataset() *dataset.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ds
}

// Index returns the active index.
func (s *Session) Index() *retrieval.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix
}

// Report returns the normalization counts of the active dataset.
func (s *Session) Report() dataset.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// indexSearcher binds an index snapshot to the query embedder.
type indexSearcher struct {
	ix  *retrieval.Index
	emb retrieval.QueryEmbedder
}

func (is indexSearcher) Search(ctx context.Context, query string, topK int) ([]retrieval.Hit, error) {
	return is.ix.Search(ctx, is.emb, query, topK)
}

// Search returns the documents most similar to query.
func (s *Session) Search(ctx context.Context, query string, topK int) ([]retrieval.Hit, error) {
	return indexSearcher{ix: s.Index(), emb: s.opts.Embedder}.Search(ctx, query, topK)
}

// Prompt composes the prompt for question against the active dataset.
func (s *Session) Prompt(ctx context.Context, question string) (composer.Prompt, error) {
	if strings.TrimSpace(question) == "" {
		return composer.Prompt{}, ErrEmptyQuestion
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Composer.Compose(ctx, question, s.ds, indexSearcher{ix: s.ix, emb: s.opts.Embedder})
}

// Generate answers a composed prompt.
func (s *Session) Generate(ctx context.Context, p composer.Prompt, onDelta func(string)) generator.Answer {
	return s.opts.Generator.Generate(ctx, p.System, p.User, onDelta)
}

// Result is one answered question.
type Result struct {
	ID       string           `json:"id"`
	Question string           `json:"question"`
	Prompt   composer.Prompt  `json:"prompt"`
	Answer   generator.Answer `json:"answer"`
	Duration time.Duration    `json:"duration"`
}

// Ask composes, generates and records one answer. Only composition errors
// are returned; backend failures are carried by the Answer.
func (s *Session) Ask(ctx context.Context, question string, onDelta func(string)) (Result, error) {
	p, err := s.Prompt(ctx, question)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	ans := s.Generate(ctx, p, onDelta)
	r := Result{
		ID:       uuid.NewString(),
		Question: question,
		Prompt:   p,
		Answer:   ans,
		Duration: time.Since(start),
	}
	s.record(ctx, r, start)
	return r, nil
}

func (s *Session) record(ctx context.Context, r Result, at time.Time) {
	if s.opts.Interactions == nil {
		return
	}
	positions := make([]int, len(r.Prompt.Snippets))
	for i, h := range r.Prompt.Snippets {
		positions[i] = h.Position
	}
	err := s.opts.Interactions.SaveInteraction(ctx, storage.Interaction{
		ID:               r.ID,
		CreatedAt:        at,
		Question:         r.Question,
		MatchedProduct:   r.Prompt.MatchedProduct,
		Topic:            r.Prompt.Topic,
		SnippetPositions: positions,
		Answer:           r.Answer.Text,
		Failed:           r.Answer.Failed(),
		Translated:       r.Answer.Translated,
		DurationMS:       r.Duration.Milliseconds(),
		ChatModel:        s.opts.Generator.Model(),
	})
	if err != nil {
		zap.L().Warn("saving interaction", zap.String("id", r.ID), zap.Error(err))
	}
}
