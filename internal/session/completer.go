package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/ssbprep/internal/jobs"
	"github.com/pavelanni/ssbprep/internal/model"
)

// Enqueuer schedules background work.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobs.Request, policy jobs.Policy) (jobs.Job, bool, error)
}

// FlushOutcome records what happened to one buffered response.
type FlushOutcome struct {
	Index      int
	QuestionID string
	ResponseID string
	Err        error
}

// Completion summarises a completed interview.
type Completion struct {
	SessionID string
	Outcomes  []FlushOutcome
	// JobEnqueued is false when an analysis job for the session was already queued.
	JobEnqueued bool
}

// Failed returns the outcomes whose submission failed.
func (c Completion) Failed() []FlushOutcome {
	var out []FlushOutcome
	for _, o := range c.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

var responseNamespace = uuid.MustParse("b3c0f1d2-8a4e-4f6b-9c7d-5e2a1f0b3c4d")

// ResponseID returns the stable ID of a session's answer to a question.
func ResponseID(sessionID, questionID string) string {
	return uuid.NewSHA1(responseNamespace, []byte(sessionID+"/"+questionID)).String()
}

// Completer finalises an interview from the responses the client buffered.
// A repeated flush of the same session writes the same response rows.
type Completer struct {
	store      Store
	enqueuer   Enqueuer
	now        func() time.Time
	responseID func(sessionID, questionID string) string
}

// NewCompleter returns a completer writing to store and scheduling analysis on enqueuer.
func NewCompleter(store Store, enqueuer Enqueuer) *Completer {
	return &Completer{
		store:      store,
		enqueuer:   enqueuer,
		now:        func() time.Time { return time.Now().UTC() },
		responseID: ResponseID,
	}
}

// Complete flushes pending responses, marks the session pending analysis and
// enqueues one analysis job keyed by session.
//
// Responses are submitted strictly in order, one attempt each. A failed
// submission is logged and recorded in Completion.Outcomes; it never fails
// the call. Complete returns an error only when sess is nil, ctx is done,
// the status update fails, or the job cannot be enqueued.
func (c *Completer) Complete(ctx context.Context, sessionID string, sess *model.InterviewSession, pending []model.PendingResponse, mode model.InterviewMode) (Completion, error) {
	if sess == nil {
		return Completion{}, ErrNoSessionLoaded
	}
	logger := slog.With("component", "completer", "session_id", sessionID)

	outcomes := make([]FlushOutcome, 0, len(pending))
	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			return Completion{SessionID: sessionID, Outcomes: outcomes}, fmt.Errorf("complete session %s: %w", sessionID, err)
		}
		r := c.buildResponse(sessionID, p, mode)
		if err := r.Validate(); err != nil {
			logger.Warn("submitting response that fails validation", "index", i, "error", err)
		}
		err := c.store.SubmitResponse(ctx, r)
		if err != nil {
			logger.Error("failed to save response", "index", i, "question_id", p.QuestionID, "error", err)
		}
		outcomes = append(outcomes, FlushOutcome{Index: i, QuestionID: p.QuestionID, ResponseID: r.ID, Err: err})
	}

	updated := sess.Clone()
	updated.ID = sessionID
	updated.Status = model.StatusPendingAnalysis
	if err := c.store.UpdateSession(ctx, *updated); err != nil {
		return Completion{SessionID: sessionID, Outcomes: outcomes}, fmt.Errorf("mark session %s pending analysis: %w", sessionID, err)
	}

	_, created, err := c.enqueuer.Enqueue(ctx, jobs.Request{
		Key:         model.AnalysisJobKey(sessionID),
		Kind:        model.AnalysisJobKind,
		Payload:     sessionID,
		Constraints: jobs.Constraints{RequiresNetwork: true},
	}, jobs.KeepExisting)
	if err != nil {
		return Completion{SessionID: sessionID, Outcomes: outcomes}, fmt.Errorf("schedule analysis for session %s: %w", sessionID, err)
	}

	res := Completion{SessionID: sessionID, Outcomes: outcomes, JobEnqueued: created}
	logger.Info("interview completed", "responses", len(pending), "failed", len(res.Failed()), "job_enqueued", created)
	return res, nil
}

func (c *Completer) buildResponse(sessionID string, p model.PendingResponse, mode model.InterviewMode) model.InterviewResponse {
	respondedAt := p.RespondedAt.UTC()
	if respondedAt.IsZero() {
		respondedAt = c.now()
	}
	return model.InterviewResponse{
		ID:              c.responseID(sessionID, p.QuestionID),
		SessionID:       sessionID,
		QuestionID:      p.QuestionID,
		ResponseText:    p.ResponseText,
		ResponseMode:    mode,
		RespondedAt:     respondedAt,
		ThinkingTimeSec: p.ThinkingTimeSec,
		AudioURL:        p.AudioURL,
		OLQScores:       map[model.OLQ]model.OLQScore{},
		ConfidenceScore: 0,
	}
}
