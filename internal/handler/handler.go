package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/ssbprep/internal/i18n"
	"github.com/pavelanni/ssbprep/internal/model"
	"github.com/pavelanni/ssbprep/internal/session"
)

// Store is everything the API reads and writes.
type Store interface {
	session.Store
	ListQuestions(ctx context.Context) ([]model.InterviewQuestion, error)
	CreateSession(ctx context.Context, sess model.InterviewSession) error
	GetResult(ctx context.Context, sessionID string) (*model.InterviewResult, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     Store
	completer *session.Completer
	config    model.InterviewConfig
	validate  *validator.Validate
	now       func() time.Time
	newID     func() string
	shuffle   func(n int, swap func(i, j int))
}

// New creates a new Handler.
func New(s Store, enqueuer session.Enqueuer, cfg model.InterviewConfig) *Handler {
	return &Handler{
		store:     s,
		completer: session.NewCompleter(s, enqueuer),
		config:    cfg,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		shuffle:   rand.Shuffle,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.handleStartSession)
		r.Get("/sessions/{sessionID}", h.handleLoadSession)
		r.Post("/sessions/{sessionID}/next", h.handleNextQuestion)
		r.Post("/sessions/{sessionID}/complete", h.handleComplete)
		r.Post("/sessions/{sessionID}/abandon", h.handleAbandon)
		r.Get("/sessions/{sessionID}/result", h.handleResult)
		r.Get("/ratings/{score}", h.handleRating)
	})
}

type startRequest struct {
	UserID        string              `json:"user_id" validate:"required"`
	Mode          model.InterviewMode `json:"mode" validate:"omitempty,oneof=text voice"`
	ConsentGiven  bool                `json:"consent_given"`
	PIQSnapshotID string              `json:"piq_snapshot_id"`
	NumQuestions  int                 `json:"num_questions" validate:"gte=0"`
}

type sessionView struct {
	Session  *model.InterviewSession  `json:"session"`
	Question *model.InterviewQuestion `json:"question,omitempty"`
	Index    int                      `json:"index"`
	Total    int                      `json:"total"`
	HasMore  bool                     `json:"has_more"`
	Finished bool                     `json:"finished,omitempty"`
	Message  string                   `json:"message,omitempty"`
}

type completeRequest struct {
	Mode      model.InterviewMode     `json:"mode"`
	Responses []model.PendingResponse `json:"responses"`
}

type flushFailure struct {
	Index      int    `json:"index"`
	QuestionID string `json:"question_id"`
	Error      string `json:"error"`
}

type completeView struct {
	SessionID   string         `json:"session_id"`
	Submitted   int            `json:"submitted"`
	Failed      []flushFailure `json:"failed,omitempty"`
	JobEnqueued bool           `json:"job_enqueued"`
	Message     string         `json:"message"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if req.Mode == "" {
		req.Mode = model.ModeText
	}

	questions, err := h.store.ListQuestions(r.Context())
	if err != nil {
		h.internalError(w, r, "list questions", err)
		return
	}
	if len(questions) == 0 {
		writeError(w, r, http.StatusConflict, "NoQuestions", nil)
		return
	}
	if h.config.Shuffle {
		h.shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}

	n := req.NumQuestions
	if n == 0 {
		n = h.config.NumQuestions
	}
	if n > 0 && n < len(questions) {
		questions = questions[:n]
	}
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}

	now := h.now()
	sess := model.InterviewSession{
		ID:                h.newID(),
		UserID:            req.UserID,
		Mode:              req.Mode,
		Status:            model.StatusInProgress,
		StartedAt:         now,
		PIQSnapshotID:     req.PIQSnapshotID,
		ConsentGiven:      req.ConsentGiven,
		QuestionIDs:       ids,
		EstimatedDuration: h.config.EstimatedMinutes(len(ids)),
		UpdatedAt:         now,
	}
	if err := sess.Validate(); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.store.CreateSession(r.Context(), sess); err != nil {
		h.internalError(w, r, "create session", err)
		return
	}
	slog.Info("interview started", "session_id", sess.ID, "user_id", sess.UserID, "questions", len(ids), "mode", sess.Mode)

	writeJSON(w, http.StatusCreated, sess)
}

// load returns a manager with the session loaded, or writes the error response.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*session.Manager, bool) {
	m := session.NewManager(h.store)
	if _, err := m.LoadSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.sessionError(w, r, err)
		return nil, false
	}
	return m, true
}

func view(m *session.Manager) sessionView {
	return sessionView{
		Session:  m.Session().Get(),
		Question: m.CurrentQuestion().Get(),
		Index:    m.CurrentIndex().Get(),
		Total:    m.TotalQuestions(),
		HasMore:  m.HasMoreQuestions(),
	}
}

func (h *Handler) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view(m))
}

func (h *Handler) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	// Answers are already submitted once the interview leaves in_progress.
	if sess := m.Session().Get(); sess.Status != model.StatusInProgress {
		writeError(w, r, http.StatusConflict, "InvalidRequest", map[string]any{"Reason": "interview is " + string(sess.Status)})
		return
	}
	q, err := m.LoadNextQuestion(r.Context())
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	v := view(m)
	if q == nil {
		v.Finished = true
		v.Message = i18n.T(r.Context(), "InterviewFinished")
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	if sess.IsTerminal() {
		writeError(w, r, http.StatusConflict, "InvalidRequest", map[string]any{"Reason": "interview is " + string(sess.Status)})
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = sess.Mode
	}
	if mode != model.ModeText && mode != model.ModeVoice {
		writeError(w, r, http.StatusBadRequest, "InvalidRequest", map[string]any{"Reason": "unknown mode " + string(mode)})
		return
	}

	res, err := h.completer.Complete(r.Context(), sessionID, sess, req.Responses, mode)
	if err != nil {
		h.internalError(w, r, "complete interview", err)
		return
	}

	out := completeView{
		SessionID:   res.SessionID,
		Submitted:   len(res.Outcomes) - len(res.Failed()),
		JobEnqueued: res.JobEnqueued,
		Message:     i18n.T(r.Context(), "ResultPending"),
	}
	for _, f := range res.Failed() {
		out.Failed = append(out.Failed, flushFailure{Index: f.Index, QuestionID: f.QuestionID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	if sess.Status != model.StatusInProgress {
		writeError(w, r, http.StatusConflict, "InvalidRequest", map[string]any{"Reason": "interview is " + string(sess.Status)})
		return
	}
	sess.Status = model.StatusAbandoned
	if err := h.store.UpdateSession(r.Context(), *sess); err != nil {
		h.internalError(w, r, "abandon session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	res, err := h.store.GetResult(r.Context(), sessionID)
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if !errors.Is(err, model.ErrNotFound) {
		h.internalError(w, r, "get result", err)
		return
	}

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	switch sess.Status {
	case model.StatusFailed, model.StatusAbandoned:
		writeError(w, r, http.StatusConflict, "ResultFailed", nil)
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  sess.Status,
			"message": i18n.T(r.Context(), "ResultPending"),
		})
	}
}

func (h *Handler) handleRating(w http.ResponseWriter, r *http.Request) {
	score, err := strconv.Atoi(chi.URLParam(r, "score"))
	if err != nil || score < model.MinScore || score > model.MaxScore {
		writeError(w, r, http.StatusBadRequest, "InvalidScore", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"score":      score,
		"rating":     model.RatingFor(score),
		"limitation": score >= model.LimitationThreshold,
	})
}

func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "SessionNotFound", nil)
	case errors.Is(err, session.ErrNoQuestions):
		writeError(w, r, http.StatusConflict, "NoQuestions", nil)
	case errors.Is(err, session.ErrNoSessionLoaded):
		writeError(w, r, http.StatusConflict, "NoSessionLoaded", nil)
	default:
		h.internalError(w, r, "session operation", err)
	}
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "InvalidRequest", map[string]any{"Reason": err.Error()})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.Error(op, "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "InternalError", nil)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	msg := i18n.Td(r.Context(), msgID, data)
	writeJSON(w, status, map[string]string{"error": msg, "code": msgID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
