package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/perbu/voicerag/pkg/embedder"
	"github.com/perbu/voicerag/pkg/knowledge"
	"github.com/perbu/voicerag/pkg/provider"
)

var cfg struct {
	KBDir     string `name:"kb-dir" help:"Directory of *.txt knowledge files" default:"kb" env:"VOICERAG_KB_DIR"`
	IndexPath string `help:"Vector index artifact" default:"kb.index" env:"VOICERAG_INDEX_PATH"`
	MetaPath  string `help:"Document text artifact" default:"kb_texts.json" env:"VOICERAG_META_PATH"`
	MaxChars  int    `help:"Maximum characters per document" default:"300" env:"VOICERAG_MAX_CHARS"`

	Embedder       string `help:"Embedding backend" enum:"openai,hash" default:"openai" env:"VOICERAG_EMBEDDER"`
	EmbeddingModel string `help:"OpenAI embedding model" default:"text-embedding-3-small" env:"VOICERAG_EMBEDDING_MODEL"`
	APIKey         string `name:"api-key" help:"OpenAI API key" env:"OPENAI_API_KEY"`
	BaseURL        string `name:"base-url" help:"OpenAI-compatible API base URL" env:"VOICERAG_BASE_URL"`

	Force   bool `help:"Rebuild even if both artifacts already exist"`
	Verbose bool `short:"v" help:"Log index construction details"`
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()
	_ = kong.Parse(&cfg,
		kong.Name("build-index"),
		kong.Description("Embed the knowledge base and write the index artifacts."),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("VoiceRAG Index Builder")
	fmt.Println("======================")
	fmt.Println()

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Step 1: Initialize embedder
	fmt.Println("Step 1: Initializing embedder...")
	var emb embedder.Embedder
	if cfg.Embedder == "hash" {
		emb = embedder.NewHashEmbedder(0)
	} else {
		llm, err := provider.NewOpenAI(
			provider.WithApiKey(cfg.APIKey),
			provider.WithBaseURL(cfg.BaseURL),
			provider.WithLogger(logger),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Please set it in .env file or environment\n")
			os.Exit(1)
		}
		emb, err = embedder.NewOpenAIEmbedder(llm, cfg.EmbeddingModel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing embedder: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("  ✓ Embedder initialized (model=%s, dim=%d)\n\n", emb.ModelInfo(), emb.Dimension())

	store := knowledge.NewStore(emb,
		knowledge.WithDir(cfg.KBDir),
		knowledge.WithIndexPath(cfg.IndexPath),
		knowledge.WithMetaPath(cfg.MetaPath),
		knowledge.WithMaxChars(cfg.MaxChars),
		knowledge.WithLogger(logger),
	)

	// Step 2: Build or verify the artifacts
	var (
		index  *knowledge.FlatIndex
		corpus knowledge.Corpus
		err    error
	)
	if cfg.Force {
		fmt.Printf("Step 2: Rebuilding index from %s/*.txt...\n", cfg.KBDir)
		index, corpus, err = store.Rebuild(ctx)
	} else {
		fmt.Printf("Step 2: Loading or building index from %s/*.txt...\n", cfg.KBDir)
		index, corpus, err = store.BuildOrLoad(ctx)
	}

	switch {
	case errors.Is(err, knowledge.ErrEmptyCorpus):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Add some .txt files with paragraphs separated by blank lines.\n")
		os.Exit(1)
	case errors.Is(err, knowledge.ErrCorruptIndex):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run again with --force to rebuild the artifacts.\n")
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error building index: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  ✓ %d documents indexed (dim=%d)\n\n", len(corpus), index.Dimension())

	if index.Dimension() != emb.Dimension() {
		fmt.Fprintf(os.Stderr, "Warning: index dimension %d does not match %s (%d), run with --force\n",
			index.Dimension(), emb.ModelInfo(), emb.Dimension())
	}

	// Step 3: Report artifacts
	fmt.Println("Step 3: Artifacts")
	for _, path := range []string{cfg.IndexPath, cfg.MetaPath} {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  ✓ %s (%.2f KB)\n", path, float64(info.Size())/1024)
	}

	fmt.Println()
	fmt.Println("Done! Run 'voicerag serve' to start the assistant.")
}
