// Package evaluation scores generated answers against expected answers and
// records the results in the result log.
package evaluation

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cestlavie/harvestqa/internal/composer"
	"github.com/cestlavie/harvestqa/internal/generator"
	"github.com/cestlavie/harvestqa/internal/resultlog"
)

// Pipeline composes and answers questions. *pipeline.Session satisfies it.
type Pipeline interface {
	Prompt(ctx context.Context, question string) (composer.Prompt, error)
	Generate(ctx context.Context, p composer.Prompt, onDelta func(string)) generator.Answer
}

// Options configures a Harness.
type Options struct {
	// Threshold is the accuracy at which an answer passes. Zero passes
	// every answer.
	Threshold float64
	// RatePerMinute paces RunSuite. Zero means unlimited.
	RatePerMinute float64
}

// Harness runs questions through a Pipeline and logs the scores.
type Harness struct {
	pipe    Pipeline
	log     resultlog.Log
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold}
}

// New creates a Harness writing to log.
func New(pipe Pipeline, log resultlog.Log, opts Options) *Harness {
	limit := rate.Inf
	if opts.RatePerMinute > 0 {
		limit = rate.Limit(opts.RatePerMinute / 60)
	}
	return &Harness{
		pipe:    pipe,
		log:     log,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// Run answers one question, scores it and appends the result to the log.
// Duration covers generation only.
func (h *Harness) Run(ctx context.Context, question, expected string) (resultlog.Entry, error) {
	p, err := h.pipe.Prompt(ctx, question)
	if err != nil {
		return resultlog.Entry{}, eris.Wrapf(err, "evaluation: compose %q", question)
	}

	start := h.now()
	ans := h.pipe.Generate(ctx, p, nil)
	elapsed := h.now().Sub(start)

	acc := Similarity(ans.Text, expected)
	e := resultlog.Entry{
		Question:        question,
		ExpectedAnswer:  expected,
		GeneratedAnswer: ans.Text,
		Accuracy:        acc,
		Duration:        resultlog.Seconds(elapsed),
		Pass:            acc >= h.opts.Threshold,
		CreatedAt:       start,
	}
	if err := h.log.Append(ctx, e); err != nil {
		return e, eris.Wrap(err, "evaluation: append result")
	}

	zap.L().Info("evaluated",
		zap.String("question", question),
		zap.Float64("accuracy", acc),
		zap.Bool("pass", e.Pass),
		zap.Float64("duration_s", e.Duration),
		zap.Bool("backend_failed", ans.Failed()))
	return e, nil
}

// Summary aggregates a suite run.
type Summary struct {
	Entries      []resultlog.Entry `json:"entries"`
	Passed       int               `json:"passed"`
	Failed       int               `json:"failed"`
	MeanAccuracy float64           `json:"mean_accuracy"`
	// Duration is the sum of per-question generation durations in seconds.
	Duration float64 `json:"duration"`
}

// RunSuite runs cases in order, paced by the configured rate. onResult, if
// non-nil, is called after each case. It stops at the first error.
func (h *Harness) RunSuite(ctx context.Context, cases []Case, onResult func(int, resultlog.Entry)) (Summary, error) {
	var s Summary
	for i, c := range cases {
		if err := h.limiter.Wait(ctx); err != nil {
			return s, eris.Wrap(err, "evaluation: rate limit")
		}
		e, err := h.Run(ctx, c.Question, c.Expected)
		if err != nil {
			return s, err
		}
		s.add(e)
		if onResult != nil {
			onResult(i, e)
		}
	}
	return s, nil
}

func (s *Summary) add(e resultlog.Entry) {
	n := float64(len(s.Entries))
	s.Entries = append(s.Entries, e)
	if e.Pass {
		s.Passed++
	} else {
		s.Failed++
	}
	s.MeanAccuracy = (s.MeanAccuracy*n + e.Accuracy) / (n + 1)
	s.Duration = math.Round((s.Duration+e.Duration)*100) / 100
}

// Clear empties the result log.
func (h *Harness) Clear(ctx context.Context) error {
	return h.log.Clear(ctx)
}
