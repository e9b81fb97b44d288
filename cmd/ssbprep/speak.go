package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pavelanni/ssbprep/internal/llm"
	"github.com/pavelanni/ssbprep/internal/tts"
)

func runSpeak(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if p := v.GetString("llm-provider"); p != "" && p != llm.ProviderOpenAI {
		return fmt.Errorf("speech needs an OpenAI-compatible endpoint, got provider %q", p)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	questions, err := db.ListQuestions(ctx)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}

	client := llm.NewOpenAI(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	backend := tts.NewOpenAIBackend(client.API(), tts.OpenAIConfig{
		Model: v.GetString("tts-model"),
		Voice: v.GetString("tts-voice"),
		Speed: v.GetFloat64("tts-speed"),
	}, tts.DirSink{Dir: v.GetString("output")})

	m := tts.NewManager(backend)
	defer func() {
		m.Release()
		m.Wait()
	}()
	m.Initialize(ctx)

	// The backend numbers files in the order it is asked to speak, so
	// questions are spoken one at a time.
	for i, q := range questions {
		m.Speak(q.Text)
		if !waitUntilSilent(ctx, m) {
			return ctx.Err()
		}
		slog.Info("question rendered", "seq", i+1, "question_id", q.ID)
	}
	slog.Info("speech rendering finished", "questions", len(questions), "dir", v.GetString("output"))
	return nil
}

// waitUntilSilent blocks until the manager stops speaking. It returns false
// if ctx ends first.
func waitUntilSilent(ctx context.Context, m *tts.Manager) bool {
	ch, cancel := m.Speaking().Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return false
		case speaking, ok := <-ch:
			if !ok || !speaking {
				return true
			}
		}
	}
}
