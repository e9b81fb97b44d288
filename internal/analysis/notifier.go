package analysis

import (
	"context"
	"log/slog"

	"github.com/pavelanni/ssbprep/internal/i18n"
	"github.com/pavelanni/ssbprep/internal/model"
)

// LogNotifier writes the candidate-facing notification text to the log in
// Lang, or in the bundle default when Lang is empty.
type LogNotifier struct {
	Lang string
}

func (n LogNotifier) ctx(ctx context.Context) context.Context {
	if n.Lang == "" {
		return ctx
	}
	return i18n.WithLocalizer(ctx, i18n.NewLocalizer(n.Lang))
}

func (n LogNotifier) ResultsReady(ctx context.Context, result model.InterviewResult) {
	msg := i18n.Td(n.ctx(ctx), "ResultsReady", map[string]any{"Rating": result.Rating()})
	slog.Info("notification", "kind", "results_ready", "user_id", result.UserID, "session_id", result.SessionID, "message", msg)
}

func (n LogNotifier) AnalysisFailed(ctx context.Context, sess model.InterviewSession, err error) {
	msg := i18n.T(n.ctx(ctx), "AnalysisFailed")
	slog.Warn("notification", "kind", "analysis_failed", "user_id", sess.UserID, "session_id", sess.ID, "message", msg, "error", err)
}
