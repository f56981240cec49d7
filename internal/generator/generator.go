// Package generator turns a composed prompt into an answer using a chat
// backend, with streaming and post-processing.
package generator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cestlavie/harvestqa/internal/engine"
	"github.com/cestlavie/harvestqa/internal/postprocess"
	"github.com/cestlavie/harvestqa/internal/qaerr"
)

const (
	// DefaultTemperature keeps answers close to the data.
	DefaultTemperature = 0.2
	// DefaultTimeout bounds one generation.
	DefaultTimeout = 2 * time.Minute
	// FailurePrefix starts the visible text of a failed answer.
	FailurePrefix = "❌ 回應錯誤: "
)

// Answer is the outcome of one generation. Err is non-nil exactly when the
// backend failed; Text then holds the visible failure message.
type Answer struct {
	Text       string `json:"text"`
	Raw        string `json:"raw,omitempty"`
	Translated bool   `json:"translated"`
	Err        error  `json:"-"`
}

// Failed reports whether the backend call failed.
func (a Answer) Failed() bool { return a.Err != nil }

// Options configures a Generator.
type Options struct {
	Model       string
	Temperature *float64
	Timeout     time.Duration
	MaxTokens   int
	Post        *postprocess.Stage
}

// Generator sends prompts to a chat backend.
type Generator struct {
	backend engine.ChatBackend
	opts    Options
}

// New creates a Generator.
func New(backend engine.ChatBackend, opts Options) *Generator {
	if opts.Temperature == nil {
		opts.Temperature = engine.Temperature(DefaultTemperature)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Generator{backend: backend, opts: opts}
}

// Model returns the chat model answers are generated with.
func (g *Generator) Model() string { return g.opts.Model }

// Generate streams the answer to onDelta (which may be nil) as fragments
// arrive and returns the accumulated, post-processed answer. Backend errors
// are reported in the Answer, never returned.
func (g *Generator) Generate(ctx context.Context, system, user string, onDelta func(string)) Answer {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	msgs := []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	chatOpts := engine.ChatOptions{Temperature: g.opts.Temperature, MaxTokens: g.opts.MaxTokens}

	deltas := make(chan string)
	done := make(chan string, 1)
	go func() { done <- Accumulate(deltas) }()

	err := g.backend.ChatStream(ctx, g.opts.Model, msgs, chatOpts, func(d string) {
		deltas <- d
		if onDelta != nil {
			onDelta(d)
		}
	})
	close(deltas)
	raw := <-done

	if err != nil {
		zap.L().Warn("generation failed", zap.String("model", g.opts.Model), zap.Error(err))
		berr := &qaerr.BackendError{Op: "chat", Err: err}
		return Answer{Text: FailurePrefix + err.Error(), Raw: raw, Err: berr}
	}

	text, translated := g.opts.Post.Process(ctx, raw)
	return Answer{Text: text, Raw: raw, Translated: translated}
}

// Accumulate concatenates fragments in arrival order until deltas closes.
func Accumulate(deltas <-chan string) string {
	var b strings.Builder
	for d := range deltas {
		b.WriteString(d)
	}
	return b.String()
}
