package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// OpenAI implements Transcriber, Speaker and Generator on the OpenAI API.
// Calls are paced by a rate limiter and pass through a circuit breaker.
// Nothing is retried here.
type OpenAI struct {
	options Options
	client  *openai.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewOpenAI creates the client shared by all OpenAI-backed collaborators
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	options := NewOptions(opts...)
	if options.ApiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	cfg := openai.DefaultConfig(options.ApiKey)
	if options.BaseURL != "" {
		cfg.BaseURL = options.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: options.Timeout}

	limit := rate.Inf
	burst := 1
	if options.RequestsPerSecond > 0 {
		limit = rate.Limit(options.RequestsPerSecond)
		burst = max(1, int(options.RequestsPerSecond))
	}

	logger := options.Logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A caller hanging up says nothing about the health of the API
		IsSuccessful: func(err error) bool {
			var abandoned abandonedError
			return err == nil || errors.As(err, &abandoned)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &OpenAI{
		options: options,
		client:  openai.NewClientWithConfig(cfg),
		breaker: breaker,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// ContentType returns the MIME type of the audio produced by Speak
func (o *OpenAI) ContentType() string {
	return ContentType(o.options.SpeechFormat)
}

func (o *OpenAI) call(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return o.breaker.Execute(func() (any, error) {
		res, err := fn()
		if err != nil && ctx.Err() != nil {
			return res, abandonedError{err}
		}
		return res, err
	})
}

// abandonedError marks a call that failed because its caller's context
// ended. The breaker does not count it as a failure.
type abandonedError struct {
	err error
}

func (e abandonedError) Error() string {
	return e.err.Error()
}

func (e abandonedError) Unwrap() error {
	return e.err
}

// CreateEmbeddings runs an embeddings request under the same pacing and
// breaker as the other calls.
func (o *OpenAI) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	res, err := o.call(ctx, func() (any, error) {
		return o.client.CreateEmbeddings(ctx, conv)
	})
	if err != nil {
		return openai.EmbeddingResponse{}, err
	}
	return res.(openai.EmbeddingResponse), nil
}

// Transcribe sends WAV audio to the transcription model
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte) (string, error) {
	res, err := o.call(ctx, func() (any, error) {
		return o.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    o.options.TranscriptionModel,
			FilePath: "speech.wav",
			Reader:   bytes.NewReader(audio),
			Format:   openai.AudioResponseFormatJSON,
		})
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}

	return strings.TrimSpace(res.(openai.AudioResponse).Text), nil
}

// Speak synthesizes text with the configured voice and format
func (o *OpenAI) Speak(ctx context.Context, text string) ([]byte, error) {
	res, err := o.call(ctx, func() (any, error) {
		rsp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(o.options.SpeechModel),
			Input:          text,
			Voice:          openai.SpeechVoice(o.options.Voice),
			ResponseFormat: openai.SpeechResponseFormat(o.options.SpeechFormat),
		})
		if err != nil {
			return nil, err
		}
		defer rsp.Close()
		return io.ReadAll(rsp)
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}

	audio := res.([]byte)
	if len(audio) == 0 {
		return nil, fmt.Errorf("openai speech: %w", ErrEmptyResponse)
	}
	return audio, nil
}

// Answer generates a complete answer for question grounded on context
func (o *OpenAI) Answer(ctx context.Context, question string, passages string) (string, error) {
	res, err := o.call(ctx, func() (any, error) {
		return o.client.CreateChatCompletion(ctx, o.chatRequest(question, passages))
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}

	rsp := res.(openai.ChatCompletionResponse)
	if len(rsp.Choices) == 0 || len(rsp.Choices[0].Message.Content) == 0 {
		return "", fmt.Errorf("openai chat: %w", ErrEmptyResponse)
	}

	return strings.TrimSpace(rsp.Choices[0].Message.Content), nil
}

// AnswerStream generates an answer and yields it token by token as the
// model produces it.
func (o *OpenAI) AnswerStream(ctx context.Context, question string, passages string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		res, err := o.call(ctx, func() (any, error) {
			return o.client.CreateChatCompletionStream(ctx, o.chatRequest(question, passages))
		})
		if err != nil {
			yield("", fmt.Errorf("openai chat stream: %w", err))
			return
		}

		stream := res.(*openai.ChatCompletionStream)
		defer stream.Close()

		for {
			rsp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("openai chat stream: %w", err))
				return
			}
			if len(rsp.Choices) == 0 || rsp.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(rsp.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

func (o *OpenAI) chatRequest(question string, passages string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: o.options.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: o.options.SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: question + "\n\n" + passages,
			},
		},
	}
}
