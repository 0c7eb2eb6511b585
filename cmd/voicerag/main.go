package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/perbu/voicerag/pkg/assistant"
	"github.com/perbu/voicerag/pkg/embedder"
	"github.com/perbu/voicerag/pkg/knowledge"
	"github.com/perbu/voicerag/pkg/provider"
	"github.com/perbu/voicerag/pkg/retriever"
	"github.com/perbu/voicerag/pkg/server"
	"github.com/perbu/voicerag/pkg/speech"
)

type Globals struct {
	// Knowledge base
	KBDir     string `name:"kb-dir" help:"Directory of *.txt knowledge files" default:"kb" env:"VOICERAG_KB_DIR"`
	IndexPath string `help:"Vector index artifact" default:"kb.index" env:"VOICERAG_INDEX_PATH"`
	MetaPath  string `help:"Document text artifact" default:"kb_texts.json" env:"VOICERAG_META_PATH"`
	MaxChars  int    `help:"Maximum characters per document" default:"300" env:"VOICERAG_MAX_CHARS"`

	// Embeddings
	Embedder       string `help:"Embedding backend" enum:"openai,hash" default:"openai" env:"VOICERAG_EMBEDDER"`
	EmbeddingModel string `help:"OpenAI embedding model" default:"text-embedding-3-small" env:"VOICERAG_EMBEDDING_MODEL"`

	// OpenAI
	APIKey             string        `name:"api-key" help:"OpenAI API key" env:"OPENAI_API_KEY"`
	BaseURL            string        `name:"base-url" help:"OpenAI-compatible API base URL" env:"VOICERAG_BASE_URL"`
	ChatModel          string        `help:"Answer generation model" default:"gpt-4o-mini" env:"VOICERAG_CHAT_MODEL"`
	TranscriptionModel string        `help:"Speech-to-text model" default:"gpt-4o-transcribe" env:"VOICERAG_TRANSCRIPTION_MODEL"`
	SpeechModel        string        `help:"Text-to-speech model" default:"gpt-4o-mini-tts" env:"VOICERAG_SPEECH_MODEL"`
	Voice              string        `help:"Text-to-speech voice" default:"alloy" env:"VOICERAG_VOICE"`
	SpeechFormat       string        `help:"Audio format of synthesized speech" enum:"mp3,wav,opus,aac,flac,pcm" default:"mp3" env:"VOICERAG_SPEECH_FORMAT"`
	RPS                float64       `name:"rps" help:"Maximum OpenAI requests per second, 0 for no limit" default:"5" env:"VOICERAG_RPS"`
	Timeout            time.Duration `help:"Timeout for a single OpenAI request" default:"60s" env:"VOICERAG_TIMEOUT"`

	Verbose bool `short:"v" help:"Enable debug logging" env:"VOICERAG_VERBOSE"`
}

var cli struct {
	Globals

	Serve  ServeCmd  `cmd:"" help:"Run the voice assistant HTTP server"`
	Search SearchCmd `cmd:"" help:"Search the knowledge base"`
	Ask    AskCmd    `cmd:"" help:"Answer a text question from the knowledge base"`
}

func main() {
	// Load .env file if it exists (for API key)
	_ = godotenv.Load()

	kctx := kong.Parse(&cli,
		kong.Name("voicerag"),
		kong.Description("Voice assistant answering questions from a small text knowledge base."),
		kong.UsageOnError(),
	)

	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (g *Globals) logger() *slog.Logger {
	level := slog.LevelInfo
	if g.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (g *Globals) provider(logger *slog.Logger) (*provider.OpenAI, error) {
	return provider.NewOpenAI(
		provider.WithApiKey(g.APIKey),
		provider.WithBaseURL(g.BaseURL),
		provider.WithChatModel(g.ChatModel),
		provider.WithTranscriptionModel(g.TranscriptionModel),
		provider.WithSpeechModel(g.SpeechModel),
		provider.WithVoice(g.Voice),
		provider.WithSpeechFormat(g.SpeechFormat),
		provider.WithRequestsPerSecond(g.RPS),
		provider.WithTimeout(g.Timeout),
		provider.WithLogger(logger),
	)
}

// embedder picks the embedding backend. llm may be nil for the hash backend.
func (g *Globals) embedder(llm *provider.OpenAI) (embedder.Embedder, error) {
	if g.Embedder == "hash" {
		return embedder.NewHashEmbedder(0), nil
	}
	if llm == nil {
		return nil, errors.New("the openai embedder needs OPENAI_API_KEY")
	}
	return embedder.NewOpenAIEmbedder(llm, g.EmbeddingModel)
}

// knowledge builds or loads the index and returns a retriever over it
func (g *Globals) knowledge(ctx context.Context, emb embedder.Embedder, logger *slog.Logger) (*retriever.Retriever, error) {
	store := knowledge.NewStore(emb,
		knowledge.WithDir(g.KBDir),
		knowledge.WithIndexPath(g.IndexPath),
		knowledge.WithMetaPath(g.MetaPath),
		knowledge.WithMaxChars(g.MaxChars),
		knowledge.WithLogger(logger),
	)

	index, corpus, err := store.BuildOrLoad(ctx)
	if err != nil {
		return nil, err
	}
	if index.Dimension() != emb.Dimension() {
		return nil, fmt.Errorf("index %s has dimension %d but %s embeds to %d, rebuild with build-index --force",
			g.IndexPath, index.Dimension(), emb.ModelInfo(), emb.Dimension())
	}

	return retriever.New(emb, index, corpus), nil
}

type ServeCmd struct {
	Addr     string `help:"Listen address" default:":8000" env:"VOICERAG_ADDR"`
	K        int    `help:"Passages retrieved per question" default:"2" env:"VOICERAG_K"`
	MinChars int    `help:"Minimum characters per synthesized chunk" default:"20" env:"VOICERAG_MIN_CHARS"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := g.logger()

	llm, err := g.provider(logger)
	if err != nil {
		return err
	}

	emb, err := g.embedder(llm)
	if err != nil {
		return err
	}

	ret, err := g.knowledge(ctx, emb, logger)
	if err != nil {
		return err
	}

	pipeline := speech.NewPipeline(llm,
		speech.WithMinChars(c.MinChars),
		speech.WithLogger(logger),
	)
	asst := assistant.New(llm, ret, llm, pipeline,
		assistant.WithK(c.K),
		assistant.WithLogger(logger),
	)
	srv := server.New(asst,
		server.WithAddr(c.Addr),
		server.WithContentType(llm.ContentType()),
		server.WithDocuments(ret.Size()),
		server.WithLogger(logger),
	)

	return srv.Run(ctx)
}

type SearchCmd struct {
	Query     []string `arg:"" help:"Search query"`
	Top       int      `help:"Number of results to return" default:"5"`
	Threshold float64  `help:"Minimum similarity score" default:"0"`
	Full      bool     `help:"Show full documents instead of a preview"`
}

func (c *SearchCmd) Run(g *Globals) error {
	ctx := context.Background()
	logger := g.logger()

	// The hash embedder works offline, so a missing key is only fatal for openai
	llm, err := g.provider(logger)
	if err != nil && g.Embedder != "hash" {
		return err
	}

	emb, err := g.embedder(llm)
	if err != nil {
		return err
	}

	ret, err := g.knowledge(ctx, emb, logger)
	if err != nil {
		return err
	}

	query := strings.Join(c.Query, " ")
	matches, err := ret.Matches(ctx, query, c.Top)
	if err != nil {
		return err
	}

	var results []knowledge.Match
	for _, m := range matches {
		if float64(m.Score) >= c.Threshold {
			results = append(results, m)
		}
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	score := color.New(color.FgYellow).SprintfFunc()

	fmt.Printf("Found %d results:\n\n", len(results))
	for i, m := range results {
		text := m.Document
		if !c.Full {
			text = preview(text, 80)
		}
		fmt.Printf("%s | #%d | %s\n", score("Score: %.2f", m.Score), m.ID, text)
		if c.Full && i < len(results)-1 {
			fmt.Println("\n" + strings.Repeat("-", 80) + "\n")
		}
	}
	return nil
}

type AskCmd struct {
	Question []string `arg:"" optional:"" help:"Question to answer, omit for an interactive session"`
	K        int      `help:"Passages retrieved per question" default:"2"`
	Show     bool     `help:"Print the retrieved passages before each answer"`
}

func (c *AskCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := g.logger()

	llm, err := g.provider(logger)
	if err != nil {
		return err
	}

	emb, err := g.embedder(llm)
	if err != nil {
		return err
	}

	ret, err := g.knowledge(ctx, emb, logger)
	if err != nil {
		return err
	}

	asst := assistant.New(llm, ret, llm, speech.NewPipeline(llm),
		assistant.WithK(c.K),
		assistant.WithLogger(logger),
	)

	if len(c.Question) > 0 {
		return c.answer(ctx, asst, strings.Join(c.Question, " "))
	}

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Printf("%d documents loaded. Type a question and press Enter, 'exit' or Ctrl+D to quit.\n\n", ret.Size())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.ToLower(question) == "exit" {
			return nil
		}

		if err := c.answer(ctx, asst, question); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		fmt.Println()
	}
}

func (c *AskCmd) answer(ctx context.Context, asst *assistant.Assistant, question string) error {
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	turn, err := asst.Ask(ctx, question)
	if err != nil {
		return err
	}

	if c.Show {
		fmt.Printf("%s\n%s\n", faint(turn.Context), strings.Repeat("-", 80))
	}
	fmt.Println(boldCyan("Assistant: ") + turn.Answer())
	return nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
