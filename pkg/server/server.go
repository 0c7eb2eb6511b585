package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/perbu/voicerag/pkg/assistant"
	"github.com/perbu/voicerag/pkg/speech"
)

// Assistant is the part of the assistant the HTTP layer needs
type Assistant interface {
	Chat(ctx context.Context, audio []byte) (*assistant.Turn, error)
	ChatBuffered(ctx context.Context, audio []byte) (*assistant.Turn, error)
	Say(ctx context.Context, text string) iter.Seq2[[]byte, error]
}

type Option func(*Options)

type Options struct {
	Addr           string
	ContentType    string // MIME type of the synthesized audio
	Documents      int    // Knowledge base size reported by /healthz
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *slog.Logger
}

func WithAddr(addr string) Option {
	return func(o *Options) {
		o.Addr = addr
	}
}

func WithContentType(ct string) Option {
	return func(o *Options) {
		o.ContentType = ct
	}
}

func WithDocuments(n int) Option {
	return func(o *Options) {
		o.Documents = n
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(o *Options) {
		o.MaxUploadBytes = n
	}
}

func WithTimeouts(read, write time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = read
		o.WriteTimeout = write
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Addr:           ":8000",
		ContentType:    "audio/mpeg",
		MaxUploadBytes: 25 << 20,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type Server struct {
	options   Options
	assistant Assistant
	router    *mux.Router
}

func New(a Assistant, opts ...Option) *Server {
	s := &Server{
		options:   NewOptions(opts...),
		assistant: a,
		router:    mux.NewRouter(),
	}

	s.router.Use(requestID, s.accessLog)
	s.router.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	s.router.HandleFunc("/tts", s.handleTTS).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.options.Addr,
		Handler:      s,
		ReadTimeout:  s.options.ReadTimeout,
		WriteTimeout: s.options.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.options.Logger.Info("http server listening", "addr", s.options.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.options.MaxUploadBytes)
	file, _, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "audio file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "reading audio upload failed", http.StatusBadRequest)
		return
	}

	// ?text=1 trades latency for the answer text as a plain header, which
	// browsers can read while trailers stay hidden from fetch
	chat := s.assistant.Chat
	buffered := r.URL.Query().Get("text") == "1"
	if buffered {
		chat = s.assistant.ChatBuffered
	}

	turn, err := chat(ctx, data)
	if errors.Is(err, speech.ErrInvalidAudio) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.options.Logger.ErrorContext(ctx, "chat failed", "request_id", RequestID(ctx), "error", err)
		http.Error(w, "chat failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", s.options.ContentType)
	if turn.Question == "" {
		s.options.Logger.InfoContext(ctx, "empty transcription", "request_id", RequestID(ctx))
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("X-User-Text", url.PathEscape(turn.Question))
	if buffered {
		w.Header().Set("X-AI-Text", url.PathEscape(turn.Answer()))
		s.stream(w, r, turn.Audio())
		return
	}

	w.Header().Set("Trailer", "X-AI-Text")
	s.stream(w, r, turn.Audio())
	w.Header().Set("X-AI-Text", url.PathEscape(turn.Answer()))
}

type ttsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", s.options.ContentType)
	s.stream(w, r, s.assistant.Say(r.Context(), text))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"documents": s.options.Documents,
	})
}

// stream writes audio segments as they are produced, flushing after each.
// Once the first segment is out the status is fixed, so later errors only
// end the response.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, audio iter.Seq2[[]byte, error]) {
	ctx := r.Context()
	rc := http.NewResponseController(w)
	segments := 0

	for seg, err := range audio {
		if err != nil {
			s.options.Logger.ErrorContext(ctx, "audio stream failed",
				"request_id", RequestID(ctx), "segments", segments, "error", err)
			if segments == 0 {
				w.Header().Del("Trailer")
				http.Error(w, "speech synthesis failed", http.StatusBadGateway)
			}
			return
		}

		if _, err := w.Write(seg); err != nil {
			s.options.Logger.WarnContext(ctx, "client went away", "request_id", RequestID(ctx), "error", err)
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
		segments++
	}

	s.options.Logger.DebugContext(ctx, "audio stream done", "request_id", RequestID(ctx), "segments", segments)
}
