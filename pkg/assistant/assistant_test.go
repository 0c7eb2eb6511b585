package assistant

import (
	"context"
	"encoding/binary"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/perbu/voicerag/pkg/speech"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f.text, f.err
}

type fakeRetriever struct {
	context  string
	question string
	k        int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, question string, k int) (string, error) {
	f.question, f.k = question, k
	return f.context, nil
}

type fakeGenerator struct {
	tokens   []string
	passages string
}

func (f *fakeGenerator) Answer(ctx context.Context, question string, passages string) (string, error) {
	f.passages = passages
	return strings.Join(f.tokens, ""), nil
}

func (f *fakeGenerator) AnswerStream(ctx context.Context, question string, passages string) iter.Seq2[string, error] {
	f.passages = passages
	return func(yield func(string, error) bool) {
		for _, tok := range f.tokens {
			if !yield(tok, nil) {
				return
			}
		}
	}
}

type echoSpeaker struct {
	calls int
}

func (s *echoSpeaker) Speak(ctx context.Context, text string) ([]byte, error) {
	s.calls++
	return []byte(text), nil
}

// wav builds a 16 kHz mono 16-bit PCM file holding two samples
func wav() []byte {
	b := make([]byte, 48)
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], 40)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], 1)
	binary.LittleEndian.PutUint16(b[22:24], 1)
	binary.LittleEndian.PutUint32(b[24:28], 16000)
	binary.LittleEndian.PutUint32(b[28:32], 32000)
	binary.LittleEndian.PutUint16(b[32:34], 2)
	binary.LittleEndian.PutUint16(b[34:36], 16)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], 4)
	return b
}

func newTestAssistant(question string) (*Assistant, *fakeRetriever, *fakeGenerator, *echoSpeaker) {
	r := &fakeRetriever{context: "Syrah is spicy."}
	g := &fakeGenerator{tokens: []string{"Try the ", "Syrah, ", "it is spicy ", "and bold."}}
	s := &echoSpeaker{}
	a := New(&fakeTranscriber{text: question}, r, g, speech.NewPipeline(s, speech.WithMinChars(10)))
	return a, r, g, s
}

func TestChat_StreamsAnswer(t *testing.T) {
	a, r, g, s := newTestAssistant("Something spicy?")

	turn, err := a.Chat(context.Background(), wav())
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if turn.Question != "Something spicy?" {
		t.Errorf("Question = %q", turn.Question)
	}
	if r.k != 2 || r.question != "Something spicy?" {
		t.Errorf("retriever called with %q, k=%d", r.question, r.k)
	}
	if s.calls != 0 {
		t.Fatal("speech synthesized before audio was consumed")
	}

	var audio strings.Builder
	for seg, err := range turn.Audio() {
		if err != nil {
			t.Fatalf("audio error: %v", err)
		}
		audio.Write(seg)
	}

	if audio.String() != "Try the Syrah, it is spicy and bold." {
		t.Errorf("audio = %q", audio.String())
	}
	if turn.Answer() != "Try the Syrah, it is spicy and bold." {
		t.Errorf("Answer = %q", turn.Answer())
	}
	if g.passages != "Syrah is spicy." {
		t.Errorf("generator got passages %q", g.passages)
	}
	if s.calls < 2 {
		t.Errorf("Expected several synthesis calls, got %d", s.calls)
	}
}

func TestChat_EmptyTranscription(t *testing.T) {
	a, r, _, s := newTestAssistant("")

	turn, err := a.Chat(context.Background(), wav())
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	for range turn.Audio() {
		t.Fatal("Expected no audio")
	}
	if r.question != "" || s.calls != 0 {
		t.Error("Expected no retrieval or synthesis")
	}
}

func TestChat_InvalidAudio(t *testing.T) {
	a, _, _, _ := newTestAssistant("q")

	if _, err := a.Chat(context.Background(), []byte("garbage")); !errors.Is(err, speech.ErrInvalidAudio) {
		t.Fatalf("Expected ErrInvalidAudio, got %v", err)
	}
}

func TestChat_TranscriptionError(t *testing.T) {
	boom := errors.New("stt down")
	a := New(&fakeTranscriber{err: boom}, &fakeRetriever{}, &fakeGenerator{}, speech.NewPipeline(&echoSpeaker{}))

	if _, err := a.Chat(context.Background(), wav()); !errors.Is(err, boom) {
		t.Fatalf("Expected transcription error, got %v", err)
	}
}

func TestChatBuffered(t *testing.T) {
	a, r, g, s := newTestAssistant("Something spicy?")

	turn, err := a.ChatBuffered(context.Background(), wav())
	if err != nil {
		t.Fatalf("ChatBuffered failed: %v", err)
	}
	if turn.Answer() != "Try the Syrah, it is spicy and bold." {
		t.Errorf("Answer before audio = %q", turn.Answer())
	}
	if turn.Context != "Syrah is spicy." || r.k != 2 || g.passages != "Syrah is spicy." {
		t.Errorf("context %q (k=%d), generator got %q", turn.Context, r.k, g.passages)
	}
	if s.calls != 0 {
		t.Fatal("speech synthesized before audio was consumed")
	}

	var audio strings.Builder
	for seg, err := range turn.Audio() {
		if err != nil {
			t.Fatalf("audio error: %v", err)
		}
		audio.Write(seg)
	}
	if audio.String() != turn.Answer() {
		t.Errorf("audio = %q", audio.String())
	}
	if s.calls < 2 {
		t.Errorf("Expected several synthesis calls, got %d", s.calls)
	}
}

func TestChatBuffered_EmptyTranscription(t *testing.T) {
	a, r, g, _ := newTestAssistant("")

	turn, err := a.ChatBuffered(context.Background(), wav())
	if err != nil {
		t.Fatal(err)
	}
	if turn.Answer() != "" || r.question != "" || g.passages != "" {
		t.Error("Expected no retrieval or generation")
	}
}

func TestAsk(t *testing.T) {
	a, r, g, _ := newTestAssistant("")
	a.options.K = 3

	turn, err := a.Ask(context.Background(), "spicy?")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Answer() != "Try the Syrah, it is spicy and bold." || r.k != 3 || g.passages != "Syrah is spicy." {
		t.Errorf("Ask = %q (k=%d, passages=%q)", turn.Answer(), r.k, g.passages)
	}
	if turn.Question != "spicy?" || turn.Context != "Syrah is spicy." {
		t.Errorf("turn = %q / %q", turn.Question, turn.Context)
	}
	for range turn.Audio() {
		t.Fatal("Expected no audio from Ask")
	}
}

func TestSay(t *testing.T) {
	a, _, _, s := newTestAssistant("")

	var out strings.Builder
	for seg, err := range a.Say(context.Background(), "Welcome to the wine cabinet, ask me anything") {
		if err != nil {
			t.Fatal(err)
		}
		out.Write(seg)
	}
	if out.String() != "Welcome to the wine cabinet, ask me anything" {
		t.Errorf("Say = %q", out.String())
	}
	if s.calls < 2 {
		t.Errorf("Expected chunked synthesis, got %d calls", s.calls)
	}
}
