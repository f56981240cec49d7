package engine

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const defaultMaxTokens = 1024

// AnthropicEngine is a ChatBackend backed by the Anthropic Messages API.
// It does not embed; embeddings stay on the local engine.
type AnthropicEngine struct {
	client    sdk.Client
	maxTokens int
}

// NewAnthropicEngine creates a chat backend. baseURL may be empty for the
// public API.
func NewAnthropicEngine(apiKey, baseURL string, maxTokens int) *AnthropicEngine {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return newAnthropicEngine(maxTokens, opts...)
}

func newAnthropicEngine(maxTokens int, opts ...option.RequestOption) *AnthropicEngine {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicEngine{client: sdk.NewClient(opts...), maxTokens: maxTokens}
}

// params splits system messages out of the conversation; the Messages API
// takes them as a separate field.
func (e *AnthropicEngine) params(model string, messages []Message, opts ChatOptions) sdk.MessageNewParams {
	maxTokens := e.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	p := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
	}
	for _, m := range messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "system":
			p.System = append(p.System, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			p.Messages = append(p.Messages, sdk.NewAssistantMessage(block))
		default:
			p.Messages = append(p.Messages, sdk.NewUserMessage(block))
		}
	}
	if opts.Temperature != nil {
		p.Temperature = sdk.Float(*opts.Temperature)
	}
	return p
}

func (e *AnthropicEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	msg, err := e.client.Messages.New(ctx, e.params(model, messages, opts))
	if err != nil {
		return "", eris.Wrap(err, "anthropic: create message")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (e *AnthropicEngine) ChatStream(ctx context.Context, model string, messages []Message, opts ChatOptions, onDelta func(string)) error {
	stream := e.client.Messages.NewStreaming(ctx, e.params(model, messages, opts))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		ev, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if d, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && d.Text != "" && onDelta != nil {
			onDelta(d.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return eris.Wrap(err, "anthropic: stream message")
	}
	return nil
}
