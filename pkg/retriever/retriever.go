package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/perbu/voicerag/pkg/embedder"
	"github.com/perbu/voicerag/pkg/knowledge"
)

// DefaultK is the number of passages retrieved per question
const DefaultK = 2

// Retriever turns questions into prompt context from the knowledge index.
type Retriever struct {
	embedder embedder.Embedder
	index    *knowledge.FlatIndex
	corpus   knowledge.Corpus
}

func New(emb embedder.Embedder, index *knowledge.FlatIndex, corpus knowledge.Corpus) *Retriever {
	return &Retriever{
		embedder: emb,
		index:    index,
		corpus:   corpus,
	}
}

// Matches embeds the question and returns up to k scored passages, best first.
func (r *Retriever) Matches(ctx context.Context, question string, k int) ([]knowledge.Match, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	return knowledge.Search(r.index, r.corpus, embedder.Normalize(vec), k), nil
}

// Retrieve returns the k best passages joined by blank lines. No matches
// yields an empty context.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) (string, error) {
	matches, err := r.Matches(ctx, question, k)
	if err != nil {
		return "", err
	}

	docs := make([]string, len(matches))
	for i, m := range matches {
		docs[i] = m.Document
	}

	return strings.Join(docs, "\n\n"), nil
}

// Size returns the number of documents available for retrieval
func (r *Retriever) Size() int {
	return len(r.corpus)
}
