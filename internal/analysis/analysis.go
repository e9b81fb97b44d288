// Package analysis scores a completed interview in the background and
// produces its InterviewResult.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pavelanni/ssbprep/internal/i18n"
	"github.com/pavelanni/ssbprep/internal/jobs"
	"github.com/pavelanni/ssbprep/internal/llm"
	"github.com/pavelanni/ssbprep/internal/llm/prompts"
	"github.com/pavelanni/ssbprep/internal/model"
)

// ErrNoResponses means the session was completed without any stored answers.
var ErrNoResponses = errors.New("no responses to analyse")

// Fallback values written when a response cannot be scored at all.
const (
	FallbackOLQCount   = 5
	FallbackScore      = 6
	FallbackConfidence = 30
)

// Store is the persistence the analyzer needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*model.InterviewSession, error)
	UpdateSession(ctx context.Context, sess model.InterviewSession) error
	GetQuestion(ctx context.Context, id string) (*model.InterviewQuestion, error)
	ListResponses(ctx context.Context, sessionID string) ([]model.InterviewResponse, error)
	UpdateResponseScores(ctx context.Context, responseID string, scores map[model.OLQ]model.OLQScore, confidence int) error
	UpsertResult(ctx context.Context, r model.InterviewResult) error
}

// Scorer produces per-response scores and overall feedback.
type Scorer interface {
	ScoreResponse(ctx context.Context, q model.InterviewQuestion, r model.InterviewResponse) (*llm.Analysis, error)
	GenerateFeedback(ctx context.Context, exchanges []prompts.QA, scores map[model.OLQ]model.OLQScore) (string, error)
}

// Notifier tells the candidate how the analysis ended.
type Notifier interface {
	ResultsReady(ctx context.Context, result model.InterviewResult)
	AnalysisFailed(ctx context.Context, sess model.InterviewSession, err error)
}

// Config tunes scoring retries and pacing. Zero values get defaults.
type Config struct {
	// MaxAttempts is the number of scoring calls per response before falling back.
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between scoring calls.
	RetryDelay time.Duration
	// CallsPerSecond paces scoring calls across responses.
	CallsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.CallsPerSecond <= 0 {
		c.CallsPerSecond = 1
	}
	return c
}

// Analyzer handles interview_analysis jobs.
type Analyzer struct {
	store    Store
	scorer   Scorer
	notifier Notifier
	cfg      Config
	limiter  *rate.Limiter
	now      func() time.Time
	newID    func() string
}

// New returns an analyzer. A nil notifier only logs.
func New(store Store, scorer Scorer, notifier Notifier, cfg Config) *Analyzer {
	cfg = cfg.withDefaults()
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Analyzer{
		store:    store,
		scorer:   scorer,
		notifier: notifier,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), 1),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Handle runs the analysis for the session id in job.Payload.
func (a *Analyzer) Handle(ctx context.Context, job jobs.Job) error {
	_, err := a.Analyze(ctx, job.Payload)
	return err
}

// OnFailure marks the session failed once the job has given up.
func (a *Analyzer) OnFailure(ctx context.Context, job jobs.Job, cause error) {
	logger := slog.With("component", "analysis", "session_id", job.Payload)
	sess, err := a.store.GetSession(ctx, job.Payload)
	if err != nil {
		logger.Error("cannot load session to mark failed", "error", err, "cause", cause)
		return
	}
	a.markFailed(ctx, logger, sess, cause)
}

func (a *Analyzer) markFailed(ctx context.Context, logger *slog.Logger, sess *model.InterviewSession, cause error) {
	if sess.IsTerminal() {
		return
	}
	sess.Status = model.StatusFailed
	if err := a.store.UpdateSession(ctx, *sess); err != nil {
		logger.Error("failed to mark session failed", "error", err)
		return
	}
	logger.Warn("interview analysis failed", "error", cause)
	a.notifier.AnalysisFailed(ctx, *sess, cause)
}

// Analyze scores every response of the session, then stores the result and
// marks the session completed. A session that is no longer pending analysis
// is left alone and (nil, nil) is returned.
func (a *Analyzer) Analyze(ctx context.Context, sessionID string) (*model.InterviewResult, error) {
	logger := slog.With("component", "analysis", "session_id", sessionID)

	sess, err := a.store.GetSession(ctx, sessionID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, jobs.Permanent(fmt.Errorf("load session %s: %w", sessionID, err))
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess.Status != model.StatusPendingAnalysis {
		logger.Info("session not pending analysis, skipping", "status", sess.Status)
		return nil, nil
	}

	responses, err := a.store.ListResponses(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	if len(responses) == 0 {
		err := fmt.Errorf("session %s: %w", sessionID, ErrNoResponses)
		a.markFailed(ctx, logger, sess, err)
		return nil, jobs.Permanent(err)
	}
	logger.Info("analysing interview", "responses", len(responses))

	questions := make(map[string]*model.InterviewQuestion)
	for i, r := range responses {
		q, err := a.question(ctx, questions, r.QuestionID)
		if err != nil {
			return nil, err
		}
		if r.IsScored() {
			logger.Debug("response already scored", "response_id", r.ID)
			continue
		}
		scores, confidence := a.scoreResponse(ctx, logger, q, r)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.store.UpdateResponseScores(ctx, r.ID, scores, confidence); err != nil {
			return nil, fmt.Errorf("save scores for response %d: %w", i, err)
		}
	}

	responses, err = a.store.ListResponses(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reload responses: %w", err)
	}
	result, err := model.BuildResult(a.newID(), sess, responses, a.now())
	if err != nil {
		return nil, jobs.Permanent(fmt.Errorf("build result: %w", err))
	}
	result.Feedback = a.feedback(ctx, logger, questions, responses, result.OverallOLQScores)

	if err := a.store.UpsertResult(ctx, result); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	completedAt := result.CompletedAt
	sess.Status = model.StatusCompleted
	sess.CompletedAt = &completedAt
	if err := a.store.UpdateSession(ctx, *sess); err != nil {
		return nil, fmt.Errorf("mark session completed: %w", err)
	}

	logger.Info("interview analysed", "overall_rating", result.OverallRating, "confidence", result.OverallConfidence)
	a.notifier.ResultsReady(ctx, result)
	return &result, nil
}

// question returns a cached question. A question missing from the store is
// replaced by a placeholder with no target OLQs so its response gets fallback scores.
func (a *Analyzer) question(ctx context.Context, cache map[string]*model.InterviewQuestion, id string) (*model.InterviewQuestion, error) {
	if q, ok := cache[id]; ok {
		return q, nil
	}
	q, err := a.store.GetQuestion(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		slog.Warn("question missing, scoring with fallback", "component", "analysis", "question_id", id)
		q = &model.InterviewQuestion{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("load question %s: %w", id, err)
	}
	cache[id] = q
	return q, nil
}

func (a *Analyzer) scoreResponse(ctx context.Context, logger *slog.Logger, q *model.InterviewQuestion, r model.InterviewResponse) (map[model.OLQ]model.OLQScore, int) {
	if len(q.ExpectedOLQs) == 0 {
		return FallbackScores(), FallbackConfidence
	}
	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return FallbackScores(), FallbackConfidence
		}
		analysis, err := a.scorer.ScoreResponse(ctx, *q, r)
		if err == nil {
			return analysis.Scores, analysis.Confidence
		}
		lastErr = err
		logger.Warn("scoring attempt failed", "response_id", r.ID, "attempt", attempt+1, "error", err)
		if attempt+1 < a.cfg.MaxAttempts && !sleep(ctx, a.cfg.RetryDelay*time.Duration(attempt+1)) {
			break
		}
	}
	logger.Error("scoring failed, using fallback scores", "response_id", r.ID, "error", lastErr)
	return FallbackScores(), FallbackConfidence
}

func (a *Analyzer) feedback(ctx context.Context, logger *slog.Logger, questions map[string]*model.InterviewQuestion, responses []model.InterviewResponse, scores map[model.OLQ]model.OLQScore) string {
	exchanges := make([]prompts.QA, 0, len(responses))
	for _, r := range responses {
		text := r.QuestionID
		if q, ok := questions[r.QuestionID]; ok && q.Text != "" {
			text = q.Text
		}
		exchanges = append(exchanges, prompts.QA{Question: text, Answer: r.ResponseText})
	}
	if err := a.limiter.Wait(ctx); err == nil {
		fb, err := a.scorer.GenerateFeedback(ctx, exchanges, scores)
		if err == nil {
			return fb
		}
		logger.Warn("feedback generation failed", "error", err)
	}
	return i18n.T(ctx, "FeedbackUnavailable")
}

// FallbackScores is the neutral assessment used when scoring is impossible.
func FallbackScores() map[model.OLQ]model.OLQScore {
	scores := make(map[model.OLQ]model.OLQScore, FallbackOLQCount)
	for _, o := range model.AllOLQs()[:FallbackOLQCount] {
		scores[o] = model.MustOLQScore(FallbackScore, FallbackConfidence, "Automatic scoring unavailable")
	}
	return scores
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
