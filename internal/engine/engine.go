package engine

import "context"

// ChatBackend is the chat-completion service answers are generated with.
// Both Ollama and Anthropic satisfy it.
type ChatBackend interface {
	// Chat sends messages to the given model and returns the full response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// ChatStream sends messages and calls onDelta with each response fragment
	// as it arrives. It returns after the final fragment.
	ChatStream(ctx context.Context, model string, messages []Message, opts ChatOptions, onDelta func(string)) error
}

// EmbedBackend produces embedding vectors.
type EmbedBackend interface {
	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// EmbedBatch embeds several texts at once; the result is parallel to texts.
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Engine is a local inference server that can both chat and embed, and
// report which models it has.
type Engine interface {
	ChatBackend
	EmbedBackend

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool
}
