package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/perbu/voicerag/pkg/embedder"
	"github.com/perbu/voicerag/pkg/loader"
)

type Option func(*Options)

type Options struct {
	Dir       string // Corpus directory of *.txt files
	IndexPath string
	MetaPath  string
	MaxChars  int
	Logger    *slog.Logger
}

func WithDir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

func WithIndexPath(path string) Option {
	return func(o *Options) {
		o.IndexPath = path
	}
}

func WithMetaPath(path string) Option {
	return func(o *Options) {
		o.MetaPath = path
	}
}

func WithMaxChars(n int) Option {
	return func(o *Options) {
		o.MaxChars = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Dir:       "kb",
		IndexPath: "kb.index",
		MetaPath:  "kb_texts.json",
		MaxChars:  loader.DefaultMaxChars,
		Logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Store materializes the knowledge base index and keeps it on disk as two
// order-matched artifacts: the index file and the corpus JSON file.
type Store struct {
	options  Options
	embedder embedder.Embedder
}

func NewStore(emb embedder.Embedder, opts ...Option) *Store {
	return &Store{
		options:  NewOptions(opts...),
		embedder: emb,
	}
}

// BuildOrLoad returns the persisted index and corpus when both artifacts
// exist. Otherwise it builds them from the corpus directory and persists
// them before returning.
func (s *Store) BuildOrLoad(ctx context.Context) (*FlatIndex, Corpus, error) {
	if exists(s.options.IndexPath) && exists(s.options.MetaPath) {
		return s.Load()
	}
	return s.Rebuild(ctx)
}

// Load reads both artifacts and checks that they still belong together.
func (s *Store) Load() (*FlatIndex, Corpus, error) {
	index, err := ReadIndex(s.options.IndexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading index %s: %w", s.options.IndexPath, err)
	}

	corpus, err := ReadCorpus(s.options.MetaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading corpus %s: %w", s.options.MetaPath, err)
	}

	if err := Verify(index, corpus); err != nil {
		return nil, nil, err
	}

	s.options.Logger.Info("loaded knowledge index",
		"documents", len(corpus),
		"dimension", index.Dimension(),
		"index", s.options.IndexPath)

	return index, corpus, nil
}

// Rebuild always builds the index from the corpus directory, embedding all
// documents with a single batch call, and overwrites the artifacts.
func (s *Store) Rebuild(ctx context.Context) (*FlatIndex, Corpus, error) {
	docs, err := loader.LoadAndChunkAll(os.DirFS(s.options.Dir), ".", s.options.MaxChars)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("loading documents from %s: %w", s.options.Dir, err)
	}
	if len(docs) == 0 {
		return nil, nil, fmt.Errorf("%w in %s", ErrEmptyCorpus, s.options.Dir)
	}

	s.options.Logger.Info("embedding knowledge base",
		"documents", len(docs),
		"model", s.embedder.ModelInfo())

	vectors, err := s.embedder.EmbedBatch(ctx, docs)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, nil, fmt.Errorf("embedding documents: got %d vectors for %d documents", len(vectors), len(docs))
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		normalized[i] = embedder.Normalize(v)
	}

	corpus := Corpus(docs)
	index := NewFlatIndex(len(normalized[0]))
	if err := index.Add(normalized, Labels(corpus)); err != nil {
		return nil, nil, err
	}

	if err := WriteIndex(index, s.options.IndexPath); err != nil {
		return nil, nil, fmt.Errorf("writing index %s: %w", s.options.IndexPath, err)
	}
	if err := WriteCorpus(corpus, s.options.MetaPath); err != nil {
		return nil, nil, fmt.Errorf("writing corpus %s: %w", s.options.MetaPath, err)
	}

	s.options.Logger.Info("built knowledge index",
		"documents", len(corpus),
		"dimension", index.Dimension(),
		"index", s.options.IndexPath)

	return index, corpus, nil
}

// Label fingerprints a document for order checks
func Label(doc string) uint64 {
	return xxhash.Sum64String(doc)
}

// Labels fingerprints every document of the corpus
func Labels(corpus Corpus) []uint64 {
	labels := make([]uint64, len(corpus))
	for i, doc := range corpus {
		labels[i] = Label(doc)
	}
	return labels
}

// Verify checks that corpus[i] is the document indexed at position i.
func Verify(index *FlatIndex, corpus Corpus) error {
	if index.Size() != len(corpus) {
		return fmt.Errorf("%w: index holds %d vectors, corpus %d documents", ErrCorruptIndex, index.Size(), len(corpus))
	}
	for i, doc := range corpus {
		if index.Label(i) != Label(doc) {
			return fmt.Errorf("%w: document %d differs from the indexed one", ErrCorruptIndex, i)
		}
	}
	return nil
}

// WriteCorpus stores the corpus as a JSON array of strings
func WriteCorpus(corpus Corpus, path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]string(corpus)); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

// ReadCorpus loads a corpus written by WriteCorpus
func ReadCorpus(path string) (Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var docs []string
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decoding corpus: %w", err)
	}
	return Corpus(docs), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
