package model

import "time"

// ResultsExport is the top-level JSON structure for interview result export.
type ResultsExport struct {
	ExportID      string          `json:"export_id"`
	Date          string          `json:"date"`
	PromptVariant string          `json:"prompt_variant"`
	Sessions      []SessionExport `json:"sessions"`
}

// SessionExport holds one interview session with its answers and result.
type SessionExport struct {
	SessionID   string           `json:"session_id"`
	UserID      string           `json:"user_id"`
	Mode        InterviewMode    `json:"mode"`
	Status      SessionStatus    `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Answers     []AnswerExport   `json:"answers"`
	Result      *InterviewResult `json:"result,omitempty"`
}

// AnswerExport holds per-question data for export.
type AnswerExport struct {
	QuestionID   string           `json:"question_id"`
	QuestionText string           `json:"question_text"`
	ExpectedOLQs []OLQ            `json:"expected_olqs"`
	ResponseText string           `json:"response_text"`
	RespondedAt  time.Time        `json:"responded_at"`
	Confidence   int              `json:"confidence"`
	Scores       map[OLQ]OLQScore `json:"scores"`
}
