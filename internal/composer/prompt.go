// Package composer assembles the system and user prompts for one question
// from the dataset, the retrieval index and the result log.
package composer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/keyword"
	"github.com/cestlavie/harvestqa/internal/lang"
	"github.com/cestlavie/harvestqa/internal/resultlog"
	"github.com/cestlavie/harvestqa/internal/retrieval"
)

const (
	// DefaultFallback is the phrase the model must answer with when the data
	// does not support an answer.
	DefaultFallback = "無相關資訊"
	// DefaultFewShotLimit caps the number of log entries shown as examples.
	DefaultFewShotLimit = 10
	// DefaultMaxTableRows caps the filtered table placed in the user prompt.
	DefaultMaxTableRows = 200
)

// Searcher retrieves the documents most similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.Hit, error)
}

// ExampleSource yields past evaluation entries used as few-shot examples.
// resultlog.Log satisfies it.
type ExampleSource interface {
	Entries(ctx context.Context, n int, order resultlog.Order) ([]resultlog.Entry, error)
}

// Options configures a Composer. Numeric fields are taken as given: a zero
// TopK retrieves nothing, a zero FewShotLimit renders no examples and a zero
// MaxTableRows leaves the table uncapped. Start from DefaultOptions.
type Options struct {
	TopK         int
	FewShotLimit int
	FewShotOrder resultlog.Order
	// FailuresOnly restricts examples to entries that did not pass.
	FailuresOnly bool
	Language     language.Tag
	Fallback     string
	MaxTableRows int
	Matcher      *keyword.Matcher
}

// Prompt is a composed prompt pair plus the metadata that produced it.
type Prompt struct {
	System         string            `json:"system"`
	User           string            `json:"user"`
	MatchedProduct string            `json:"matched_product,omitempty"`
	ProductMatched bool              `json:"product_matched"`
	Topic          string            `json:"topic,omitempty"`
	TopicMatched   bool              `json:"topic_matched"`
	FilteredRows   int               `json:"filtered_rows"`
	Snippets       []retrieval.Hit   `json:"snippets"`
	Examples       []resultlog.Entry `json:"-"`
}

// Composer builds prompts. It holds no per-question state.
type Composer struct {
	opts     Options
	matcher  keyword.Matcher
	examples ExampleSource
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		TopK:         retrieval.DefaultTopK,
		FewShotLimit: DefaultFewShotLimit,
		FewShotOrder: resultlog.Recent,
		Language:     lang.Default,
		Fallback:     DefaultFallback,
		MaxTableRows: DefaultMaxTableRows,
	}
}

// New creates a Composer. examples may be nil, in which case no few-shot
// section is rendered. Empty order, language and fallback take their
// defaults.
func New(opts Options, examples ExampleSource) *Composer {
	if opts.FewShotOrder == "" {
		opts.FewShotOrder = resultlog.Recent
	}
	if opts.Language == language.Und {
		opts.Language = lang.Default
	}
	if opts.Fallback == "" {
		opts.Fallback = DefaultFallback
	}
	m := keyword.Default()
	if opts.Matcher != nil {
		m = *opts.Matcher
	}
	return &Composer{opts: opts, matcher: m, examples: examples}
}

// Options returns the effective options.
func (c *Composer) Options() Options { return c.opts }

// Compose builds the prompt for question. Retrieval errors are returned;
// a failure to read examples only drops the few-shot section.
func (c *Composer) Compose(ctx context.Context, question string, ds *dataset.Dataset, search Searcher) (Prompt, error) {
	log := zap.L().With(zap.String("question", question))

	filtered, matched, ok := c.matcher.FilterByProduct(ds, question)
	p := Prompt{MatchedProduct: matched, ProductMatched: ok, FilteredRows: filtered.Len()}
	if ok {
		log.Debug("product matched", zap.String("product", matched), zap.Int("rows", filtered.Len()))
	}

	if topic, found := c.matcher.ExtractTopic(question); found {
		p.Topic, p.TopicMatched = topic, true
		log.Debug("topic matched", zap.String("topic", topic))
	}

	hits, err := search.Search(ctx, question, c.opts.TopK)
	if err != nil {
		return Prompt{}, err
	}
	p.Snippets = hits

	p.Examples = c.loadExamples(ctx)

	p.System = c.systemPrompt(p.Examples)
	var table string
	if ok {
		table = filtered.Table(c.opts.MaxTableRows)
	}
	p.User = userPrompt(question, ds.Summary().String(), table, hits)

	log.Debug("prompt composed",
		zap.Int("snippets", len(hits)),
		zap.Int("examples", len(p.Examples)),
		zap.Int("est_tokens", EstimateTokens(p.System)+EstimateTokens(p.User)))
	return p, nil
}

func (c *Composer) loadExamples(ctx context.Context) []resultlog.Entry {
	if c.examples == nil || c.opts.FewShotLimit <= 0 {
		return nil
	}
	n := c.opts.FewShotLimit
	if c.opts.FailuresOnly {
		n = 0
	}
	entries, err := c.examples.Entries(ctx, n, c.opts.FewShotOrder)
	if err != nil {
		zap.L().Warn("loading few-shot examples", zap.Error(err))
		return nil
	}
	if !c.opts.FailuresOnly {
		return entries
	}
	var out []resultlog.Entry
	for _, e := range entries {
		if e.Pass {
			continue
		}
		out = append(out, e)
		if len(out) == c.opts.FewShotLimit {
			break
		}
	}
	return out
}

func (c *Composer) systemPrompt(examples []resultlog.Entry) string {
	var b strings.Builder
	b.WriteString("你是一位資料統計助理，請根據表格中的資料回答使用者的問題。請嚴格遵守以下規則：\n\n")
	b.WriteString("- Follow the data, you are not allowed to predict or guess.\n")
	fmt.Fprintf(&b, "- Your answer must be in %s.\n", lang.Name(c.opts.Language))
	b.WriteString("- Every row in the data represents a product.\n")
	fmt.Fprintf(&b, "- If there isn't any relevant information in the data, answer: 「%s」.\n", c.opts.Fallback)
	b.WriteString("- It is forbidden to give an answer which is not in the data, and not to repeat the question.\n")
	if len(examples) > 0 {
		b.WriteString("- Here are some examples of questions, correct answers and wrong answers; avoid answering like the wrong answers:\n")
		b.WriteString(FormatExamples(examples))
	}
	return b.String()
}

// FormatExamples renders entries as numbered question / answer / wrong
// answer blocks.
func FormatExamples(entries []resultlog.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "\n【範例 %d】\n問題：%s\n答案：%s\n錯誤回答：%s\n", i+1, e.Question, e.ExpectedAnswer, e.GeneratedAnswer)
	}
	return b.String()
}

func userPrompt(question, summary, table string, hits []retrieval.Hit) string {
	var b strings.Builder
	b.WriteString("Please answer the question:\n")
	fmt.Fprintf(&b, "question：%s\n\n", question)
	b.WriteString("here is the data summary：\n")
	b.WriteString(summary)
	if !strings.HasSuffix(summary, "\n") {
		b.WriteString("\n")
	}
	if table != "" {
		b.WriteString("\nhere are the rows for the product in the question：\n")
		b.WriteString(table)
	}
	b.WriteString("\nhere is the data：\n")
	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Document
	}
	b.WriteString(strings.Join(docs, "\n"))
	b.WriteString("\n")
	return b.String()
}

// EstimateTokens provides a rough token count using 4 bytes per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
