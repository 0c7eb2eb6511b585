package assistant

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/perbu/voicerag/pkg/provider"
	"github.com/perbu/voicerag/pkg/retriever"
	"github.com/perbu/voicerag/pkg/speech"
)

// Retriever supplies grounding passages for a question
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) (string, error)
}

type Option func(*Options)

type Options struct {
	K      int // Passages retrieved per question
	Logger *slog.Logger
}

func WithK(k int) Option {
	return func(o *Options) {
		o.K = k
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		K:      retriever.DefaultK,
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Assistant runs one spoken question through transcription, retrieval,
// answer generation and chunked speech synthesis, in that order.
type Assistant struct {
	options     Options
	transcriber provider.Transcriber
	retriever   Retriever
	generator   provider.Generator
	pipeline    *speech.Pipeline
}

func New(
	transcriber provider.Transcriber,
	retriever Retriever,
	generator provider.Generator,
	pipeline *speech.Pipeline,
	opts ...Option,
) *Assistant {
	return &Assistant{
		options:     NewOptions(opts...),
		transcriber: transcriber,
		retriever:   retriever,
		generator:   generator,
		pipeline:    pipeline,
	}
}

// Turn is the result of one chat request. Audio is lazy: the answer is
// generated and spoken while it is consumed.
type Turn struct {
	Question string
	Context  string

	answer strings.Builder
	audio  iter.Seq2[[]byte, error]
}

// Audio yields the spoken answer segment by segment
func (t *Turn) Audio() iter.Seq2[[]byte, error] {
	if t.audio == nil {
		return func(yield func([]byte, error) bool) {}
	}
	return t.audio
}

// Answer returns the answer text generated so far
func (t *Turn) Answer() string {
	return strings.TrimSpace(t.answer.String())
}

// Chat transcribes a WAV recording and prepares the spoken answer. An empty
// transcription gives a Turn with no question and no audio.
func (a *Assistant) Chat(ctx context.Context, audio []byte) (*Turn, error) {
	turn, err := a.listen(ctx, audio)
	if err != nil || turn.Question == "" {
		return turn, err
	}

	tokens := a.generator.AnswerStream(ctx, turn.Question, turn.Context)
	turn.audio = a.pipeline.Stream(ctx, func(yield func(string, error) bool) {
		for tok, err := range tokens {
			if err == nil {
				turn.answer.WriteString(tok)
			}
			if !yield(tok, err) {
				return
			}
		}
		a.options.Logger.InfoContext(ctx, "generated answer", "answer", turn.Answer())
	})

	return turn, nil
}

// ChatBuffered is Chat with the whole answer generated before any audio,
// so Answer is complete when ChatBuffered returns. The answer is then
// spoken chunk by chunk.
func (a *Assistant) ChatBuffered(ctx context.Context, audio []byte) (*Turn, error) {
	turn, err := a.listen(ctx, audio)
	if err != nil || turn.Question == "" {
		return turn, err
	}

	answer, err := a.generator.Answer(ctx, turn.Question, turn.Context)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	turn.answer.WriteString(answer)
	a.options.Logger.InfoContext(ctx, "generated answer", "answer", turn.Answer())

	turn.audio = a.pipeline.Stream(ctx, speech.Runes(turn.Answer()))
	return turn, nil
}

// listen validates and transcribes the recording, then retrieves context
// for a non-empty question.
func (a *Assistant) listen(ctx context.Context, audio []byte) (*Turn, error) {
	if err := speech.ValidateWAV(audio); err != nil {
		return nil, err
	}

	question, err := a.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("transcribing question: %w", err)
	}
	a.options.Logger.InfoContext(ctx, "transcribed question", "question", question)

	turn := &Turn{Question: question}
	if question == "" {
		return turn, nil
	}

	passages, err := a.retriever.Retrieve(ctx, question, a.options.K)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	turn.Context = passages

	return turn, nil
}

// Ask answers a text question without speech. The returned Turn carries
// the passages the answer was grounded on.
func (a *Assistant) Ask(ctx context.Context, question string) (*Turn, error) {
	passages, err := a.retriever.Retrieve(ctx, question, a.options.K)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	answer, err := a.generator.Answer(ctx, question, passages)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	turn := &Turn{Question: question, Context: passages}
	turn.answer.WriteString(answer)
	return turn, nil
}

// Say speaks arbitrary text, feeding the chunker one character at a time
func (a *Assistant) Say(ctx context.Context, text string) iter.Seq2[[]byte, error] {
	return a.pipeline.Stream(ctx, speech.Runes(text))
}
