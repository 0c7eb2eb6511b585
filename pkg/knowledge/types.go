package knowledge

import "errors"

var (
	// ErrEmptyCorpus is returned when an index build finds no documents.
	ErrEmptyCorpus = errors.New("knowledge: no documents found")

	// ErrCorruptIndex is returned when the persisted index and corpus no
	// longer describe the same documents in the same order.
	ErrCorruptIndex = errors.New("knowledge: index and corpus do not match")
)

// Corpus is the ordered list of documents backing the index.
// Corpus[i] is the text whose embedding was inserted at position i.
type Corpus []string

// Match is a single search result
type Match struct {
	ID       int     // Position in the corpus
	Score    float32 // Inner product with the query (cosine for normalized vectors)
	Document string
}
