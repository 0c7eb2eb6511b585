package embedder

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the embedding model used when none is configured
const DefaultModel = "text-embedding-3-small"

// Client is the part of the OpenAI API the embedder needs. Both
// *openai.Client and *provider.OpenAI satisfy it.
type Client interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder uses OpenAI API for embeddings
type OpenAIEmbedder struct {
	client Client
	model  string
	dim    int
}

// NewOpenAIEmbedder creates an OpenAI embedder on top of an existing client
func NewOpenAIEmbedder(client Client, model string) (*OpenAIEmbedder, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if model == "" {
		model = DefaultModel
	}

	// Set dimension based on model
	dim := 1536 // default for text-embedding-3-small
	if model == "text-embedding-3-large" {
		dim = 3072
	}

	return &OpenAIEmbedder{
		client: client,
		model:  model,
		dim:    dim,
	}, nil
}

// Embed generates an embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) == 0 {
		return nil, errors.New("cannot embed empty text")
	}

	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vecs[0], nil
}

// EmbedBatch embeds all texts with a single API request
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	// The API reports the input position of every vector
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || embeddings[d.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		embeddings[d.Index] = v
	}

	return embeddings, nil
}

// Dimension returns the embedding dimension
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// ModelInfo returns model information
func (e *OpenAIEmbedder) ModelInfo() string {
	return "openai-" + e.model
}
