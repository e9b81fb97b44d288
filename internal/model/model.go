package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrNotFound is returned (wrapped) by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

var validate = validator.New()

// InterviewMode is how the candidate answers: typed text or recorded voice.
type InterviewMode string

const (
	ModeText  InterviewMode = "text"
	ModeVoice InterviewMode = "voice"
)

// SessionStatus represents the lifecycle state of an interview session.
type SessionStatus string

const (
	StatusInProgress      SessionStatus = "in_progress"
	StatusPendingAnalysis SessionStatus = "pending_analysis"
	StatusCompleted       SessionStatus = "completed"
	StatusAbandoned       SessionStatus = "abandoned"
	StatusFailed          SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusFailed:
		return true
	}
	return false
}

// QuestionSource records where a question came from.
type QuestionSource string

const (
	SourceFromPIQ     QuestionSource = "from_piq"
	SourceGenericPool QuestionSource = "generic_pool"
	SourceAIGenerated QuestionSource = "ai_generated"
)

// InterviewSession is one attempt by a candidate at the personal interview.
type InterviewSession struct {
	ID                   string        `json:"id" validate:"required"`
	UserID               string        `json:"user_id" validate:"required"`
	Mode                 InterviewMode `json:"mode" validate:"oneof=text voice"`
	Status               SessionStatus `json:"status" validate:"oneof=in_progress pending_analysis completed abandoned failed"`
	StartedAt            time.Time     `json:"started_at"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty" validate:"required_if=Status completed"`
	PIQSnapshotID        string        `json:"piq_snapshot_id,omitempty"`
	ConsentGiven         bool          `json:"consent_given"`
	QuestionIDs          []string      `json:"question_ids"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	EstimatedDuration    int           `json:"estimated_duration_minutes"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Validate checks struct constraints and that the index is within
// [0, len(QuestionIDs)]; one past the end marks a finished interview.
func (s *InterviewSession) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("validate session %s: %w", s.ID, err)
	}
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex > len(s.QuestionIDs) {
		return fmt.Errorf("validate session %s: question index %d out of range [0,%d]",
			s.ID, s.CurrentQuestionIndex, len(s.QuestionIDs))
	}
	return nil
}

// IsTerminal reports whether the session reached completed, abandoned or failed.
func (s *InterviewSession) IsTerminal() bool { return s.Status.IsTerminal() }

// Clone returns a deep copy so that published snapshots cannot be mutated through a shared slice.
func (s *InterviewSession) Clone() *InterviewSession {
	if s == nil {
		return nil
	}
	c := *s
	c.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// InterviewQuestion is immutable once created.
type InterviewQuestion struct {
	ID           string         `json:"id" validate:"required"`
	Text         string         `json:"text" validate:"required"`
	ExpectedOLQs []OLQ          `json:"expected_olqs" validate:"min=1"`
	Context      string         `json:"context,omitempty"`
	Source       QuestionSource `json:"source" validate:"oneof=from_piq generic_pool ai_generated"`
}

// Validate checks the question and that every targeted OLQ is known.
func (q *InterviewQuestion) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("validate question %s: %w", q.ID, err)
	}
	for _, o := range q.ExpectedOLQs {
		if !o.Valid() {
			return fmt.Errorf("validate question %s: unknown OLQ %q", q.ID, o)
		}
	}
	return nil
}

// InterviewResponse is a candidate's answer. Scores are attached later by the analysis job.
type InterviewResponse struct {
	ID              string           `json:"id" validate:"required"`
	SessionID       string           `json:"session_id" validate:"required"`
	QuestionID      string           `json:"question_id" validate:"required"`
	ResponseText    string           `json:"response_text"`
	ResponseMode    InterviewMode    `json:"response_mode" validate:"oneof=text voice"`
	RespondedAt     time.Time        `json:"responded_at"`
	ThinkingTimeSec int              `json:"thinking_time_sec" validate:"min=0"`
	AudioURL        string           `json:"audio_url,omitempty" validate:"required_if=ResponseMode voice"`
	OLQScores       map[OLQ]OLQScore `json:"olq_scores"`
	ConfidenceScore int              `json:"confidence_score" validate:"min=0,max=100"`
}

// Validate enforces that voice responses carry audio and that attached scores are in domain.
func (r *InterviewResponse) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("validate response %s: %w", r.ID, err)
	}
	for olq, s := range r.OLQScores {
		if !olq.Valid() {
			return fmt.Errorf("validate response %s: unknown OLQ %q", r.ID, olq)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("validate response %s: %s: %w", r.ID, olq, err)
		}
	}
	return nil
}

// IsScored reports whether the analysis job has attached scores.
func (r *InterviewResponse) IsScored() bool { return len(r.OLQScores) > 0 }

// PendingResponse is an answer buffered by the client until the interview is completed.
type PendingResponse struct {
	QuestionID      string    `json:"question_id"`
	QuestionText    string    `json:"question_text"`
	ResponseText    string    `json:"response_text"`
	ThinkingTimeSec int       `json:"thinking_time_sec"`
	RespondedAt     time.Time `json:"responded_at"`
	AudioURL        string    `json:"audio_url,omitempty"`
}

// InterviewConfig holds runtime interview parameters set via CLI flags.
type InterviewConfig struct {
	NumQuestions       int // 0 means all available
	Shuffle            bool
	MinutesPerQuestion int
	PromptVariant      string // scoring prompt variant (strict, standard, lenient)
}

// EstimatedMinutes returns the expected duration for n questions.
func (c InterviewConfig) EstimatedMinutes(n int) int {
	per := c.MinutesPerQuestion
	if per <= 0 {
		per = 2
	}
	return n * per
}

// QuestionImport is used for loading the question pool from JSON.
type QuestionImport struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	ExpectedOLQs []string       `json:"expected_olqs"`
	Context      string         `json:"context,omitempty"`
	Source       QuestionSource `json:"source,omitempty"`
}
