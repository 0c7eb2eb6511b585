package provider

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"
)

// ErrEmptyResponse is returned when the API answers without content.
var ErrEmptyResponse = errors.New("provider: empty response")

// DefaultSystemPrompt frames the assistant for spoken answers.
const DefaultSystemPrompt = "You are a voice assistant for a wine cabinet, introducing the wines in the collection. " +
	"Answer in Traditional Chinese but keep wine names in English. " +
	"Be professional and friendly, and keep sentences short so they read well aloud."

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Speaker converts text to encoded audio.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Generator answers a question given retrieved context.
type Generator interface {
	Answer(ctx context.Context, question string, passages string) (string, error)
	AnswerStream(ctx context.Context, question string, passages string) iter.Seq2[string, error]
}

type Option func(*Options)

type Options struct {
	ApiKey             string
	BaseURL            string
	ChatModel          string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	SpeechFormat       string
	SystemPrompt       string
	RequestsPerSecond  float64
	Timeout            time.Duration
	Logger             *slog.Logger
}

func WithApiKey(apiKey string) Option {
	return func(o *Options) {
		o.ApiKey = apiKey
	}
}

func WithBaseURL(url string) Option {
	return func(o *Options) {
		o.BaseURL = url
	}
}

func WithChatModel(model string) Option {
	return func(o *Options) {
		o.ChatModel = model
	}
}

func WithTranscriptionModel(model string) Option {
	return func(o *Options) {
		o.TranscriptionModel = model
	}
}

func WithSpeechModel(model string) Option {
	return func(o *Options) {
		o.SpeechModel = model
	}
}

func WithVoice(voice string) Option {
	return func(o *Options) {
		o.Voice = voice
	}
}

func WithSpeechFormat(format string) Option {
	return func(o *Options) {
		o.SpeechFormat = format
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(o *Options) {
		o.SystemPrompt = prompt
	}
}

func WithRequestsPerSecond(rps float64) Option {
	return func(o *Options) {
		o.RequestsPerSecond = rps
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		ChatModel:          "gpt-4o-mini",
		TranscriptionModel: "gpt-4o-transcribe",
		SpeechModel:        "gpt-4o-mini-tts",
		Voice:              "alloy",
		SpeechFormat:       "mp3",
		SystemPrompt:       DefaultSystemPrompt,
		RequestsPerSecond:  5,
		Timeout:            60 * time.Second,
		Logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// ContentType maps a speech response format to its MIME type
func ContentType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "audio/L16"
	default:
		return "audio/mpeg"
	}
}
