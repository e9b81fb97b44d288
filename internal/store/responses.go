package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/ssbprep/internal/model"
)

// SubmitResponse stores a response. A session holds one response per
// question: a second submission for the same ID or question keeps the first
// copy so that retried flushes do not clobber scores.
func (s *Store) SubmitResponse(ctx context.Context, r model.InterviewResponse) error {
	scores, err := marshalScores(r.OLQScores)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interview_responses (id, session_id, question_id, response_text, response_mode,
			responded_at, thinking_time_sec, audio_url, olq_scores, confidence_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		r.ID, r.SessionID, r.QuestionID, r.ResponseText, r.ResponseMode,
		r.RespondedAt, r.ThinkingTimeSec, r.AudioURL, scores, r.ConfidenceScore,
	)
	if err != nil {
		return fmt.Errorf("submit response %s: %w", r.ID, err)
	}
	return nil
}

// ListResponses returns a session's responses in answer order.
func (s *Store) ListResponses(ctx context.Context, sessionID string) ([]model.InterviewResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, question_id, response_text, response_mode, responded_at,
			thinking_time_sec, audio_url, olq_scores, confidence_score
		 FROM interview_responses WHERE session_id = ? ORDER BY responded_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list responses of session %s: %w", sessionID, err)
	}
	defer rows.Close()
	var responses []model.InterviewResponse
	for rows.Next() {
		var r model.InterviewResponse
		var scores string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.QuestionID, &r.ResponseText, &r.ResponseMode, &r.RespondedAt,
			&r.ThinkingTimeSec, &r.AudioURL, &scores, &r.ConfidenceScore); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scores), &r.OLQScores); err != nil {
			return nil, fmt.Errorf("decode scores of response %s: %w", r.ID, err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// UpdateResponseScores attaches scores to a response, replacing any earlier
// set wholesale. Writing the same scores twice leaves the row unchanged.
func (s *Store) UpdateResponseScores(ctx context.Context, responseID string, scores map[model.OLQ]model.OLQScore, confidence int) error {
	data, err := marshalScores(scores)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE interview_responses SET olq_scores = ?, confidence_score = ? WHERE id = ?`,
		data, confidence, responseID,
	)
	if err != nil {
		return fmt.Errorf("update scores of response %s: %w", responseID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("response %s: %w", responseID, model.ErrNotFound)
	}
	return nil
}

func marshalScores(scores map[model.OLQ]model.OLQScore) (string, error) {
	if scores == nil {
		return "{}", nil
	}
	data, err := json.Marshal(scores)
	if err != nil {
		return "", fmt.Errorf("marshal OLQ scores: %w", err)
	}
	return string(data), nil
}

// UpsertResult inserts or replaces the result for a session.
func (s *Store) UpsertResult(ctx context.Context, r model.InterviewResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interview_results (id, session_id, user_id, data, overall_rating, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET data = excluded.data,
			overall_rating = excluded.overall_rating, completed_at = excluded.completed_at`,
		r.ID, r.SessionID, r.UserID, string(data), r.OverallRating, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert result for session %s: %w", r.SessionID, err)
	}
	return nil
}

// GetResult returns the result for a session, or an error wrapping model.ErrNotFound.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*model.InterviewResult, error) {
	var id, data string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, data FROM interview_results WHERE session_id = ?`, sessionID).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result for session %s: %w", sessionID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get result for session %s: %w", sessionID, err)
	}
	var r model.InterviewResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode result for session %s: %w", sessionID, err)
	}
	// The row id survives upserts; the JSON copy may carry a newer one.
	r.ID = id
	return &r, nil
}
