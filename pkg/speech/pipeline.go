package speech

import (
	"context"
	"iter"
	"log/slog"
	"strings"
)

// Speaker synthesizes one piece of text into encoded audio.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

type Option func(*Options)

type Options struct {
	MinChars int
	Logger   *slog.Logger
}

func WithMinChars(n int) Option {
	return func(o *Options) {
		o.MinChars = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		MinChars: DefaultMinChars,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Pipeline turns answer text into a lazy sequence of audio segments.
type Pipeline struct {
	options Options
	speaker Speaker
}

func NewPipeline(speaker Speaker, opts ...Option) *Pipeline {
	return &Pipeline{
		options: NewOptions(opts...),
		speaker: speaker,
	}
}

// Stream consumes text fragments and yields one audio segment per chunk.
// Each chunk is synthesized as soon as the chunker emits it, before more
// input is read. Nothing happens until the sequence is ranged over, and
// synthesis stops as soon as the consumer stops. The first error ends the
// sequence.
func (p *Pipeline) Stream(ctx context.Context, fragments iter.Seq2[string, error]) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		chunker := NewChunker(p.options.MinChars)
		seq := 0

		speak := func(chunk string) bool {
			audio, err := p.speaker.Speak(ctx, chunk)
			if err != nil {
				p.options.Logger.ErrorContext(ctx, "speech synthesis failed", "chunk", seq, "error", err)
				yield(nil, err)
				return false
			}
			p.options.Logger.DebugContext(ctx, "synthesized chunk", "chunk", seq, "chars", len([]rune(chunk)), "bytes", len(audio))
			seq++
			return yield(audio, nil)
		}

		for fragment, err := range fragments {
			if err != nil {
				yield(nil, err)
				return
			}
			if chunk, ok := chunker.Push(fragment); ok {
				if !speak(chunk) {
					return
				}
			}
		}

		if chunk, ok := chunker.Flush(); ok && strings.TrimSpace(chunk) != "" {
			speak(chunk)
		}
	}
}

// Synthesize streams audio for a complete answer pushed as a single fragment.
func (p *Pipeline) Synthesize(ctx context.Context, answer string) iter.Seq2[[]byte, error] {
	return p.Stream(ctx, Text(answer))
}

// Text yields s as one fragment
func Text(s string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield(s, nil)
	}
}

// Runes yields s one character at a time
func Runes(s string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, r := range s {
			if !yield(string(r), nil) {
				return
			}
		}
	}
}
