package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

var ErrReleased = errors.New("speech backend released")

// Sink stores synthesised audio and returns where it went.
type Sink interface {
	Write(ctx context.Context, seq int, audio io.Reader) (string, error)
}

// DirSink writes each utterance to <Dir>/<seq>.mp3.
type DirSink struct {
	Dir string
}

func (s DirSink) Write(_ context.Context, seq int, audio io.Reader) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("%d.mp3", seq))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	_, err = io.Copy(f, audio)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// A partial file would be mistaken for a finished utterance.
		if rerr := os.Remove(path); rerr != nil {
			slog.Warn("remove partial audio file", "component", "tts", "path", path, "error", rerr)
		}
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return path, nil
}

type speechClient interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// OpenAIConfig selects the speech model and voice.
type OpenAIConfig struct {
	Model string
	Voice string
	Speed float64
}

// OpenAIBackend synthesises speech through an OpenAI-compatible /audio/speech endpoint.
type OpenAIBackend struct {
	client speechClient
	cfg    OpenAIConfig
	sink   Sink

	mu       sync.Mutex
	events   chan Event
	seq      int
	inflight context.CancelFunc
	closed   bool
}

// NewOpenAIBackend returns a backend that is immediately ready.
func NewOpenAIBackend(client *openai.Client, cfg OpenAIConfig, sink Sink) *OpenAIBackend {
	return newOpenAIBackend(client, cfg, sink)
}

func newOpenAIBackend(client speechClient, cfg OpenAIConfig, sink Sink) *OpenAIBackend {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	b := &OpenAIBackend{
		client: client,
		cfg:    cfg,
		sink:   sink,
		events: make(chan Event, 32),
	}
	b.emit(Event{Kind: EventReady})
	return b
}

func (b *OpenAIBackend) Events() <-chan Event { return b.events }

// emit never blocks; an event that does not fit is dropped and logged.
func (b *OpenAIBackend) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		slog.Warn("dropping speech event", "component", "tts", "kind", ev.Kind.String())
	}
}

// Speak synthesises text and hands the audio to the sink. Failures are
// reported as EventError; an utterance cut short by Stop reports nothing.
func (b *OpenAIBackend) Speak(ctx context.Context, text string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrReleased
	}
	if b.inflight != nil {
		b.inflight()
	}
	ctx, cancel := context.WithCancel(ctx)
	b.inflight = cancel
	b.seq++
	seq := b.seq
	b.mu.Unlock()
	defer cancel()

	resp, err := b.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(b.cfg.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(b.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          b.cfg.Speed,
	})
	if err != nil {
		if ctx.Err() == nil {
			b.emit(Event{Kind: EventError, Message: err.Error()})
		}
		return nil
	}
	defer resp.Close()

	location, err := b.sink.Write(ctx, seq, resp)
	if err != nil {
		if ctx.Err() == nil {
			b.emit(Event{Kind: EventError, Message: err.Error()})
		}
		return nil
	}
	slog.Debug("speech synthesised", "component", "tts", "seq", seq, "location", location)
	b.emit(Event{Kind: EventSpeechComplete})
	return nil
}

// Stop cancels the utterance in progress, if any.
func (b *OpenAIBackend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight != nil {
		b.inflight()
		b.inflight = nil
	}
}

// Release stops synthesis and closes the event stream.
func (b *OpenAIBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.inflight != nil {
		b.inflight()
	}
	b.closed = true
	close(b.events)
}
