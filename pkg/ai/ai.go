// Package ai wraps the external completion and embedding providers behind
// small interfaces so the pipeline and retrieval components can be tested
// against fakes.
package ai

import "context"

// Message is one turn handed to the completion API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions bound a single completion call.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider for a JSON-constrained response.
	JSONMode bool
}

// Completer generates text from a message sequence.
// All providers (OpenAI-compatible, Ollama, Gemini) implement this.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}

// Embedder provides embeddings for text. The task type hint
// ("RETRIEVAL_QUERY" or "RETRIEVAL_DOCUMENT") is advisory; providers that
// do not distinguish ignore it.
type Embedder interface {
	EmbedText(ctx context.Context, text, taskType string) ([]float32, error)
	// Model identifies the embedding model; stored alongside each vector.
	Model() string
}

// BatchEmbedder optionally supports embedding multiple texts at once,
// order-preserving.
type BatchEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}
