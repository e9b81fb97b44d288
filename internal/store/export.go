package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/ssbprep/internal/model"
)

// ExportAllSessions builds export-ready records for every session with its
// answers and, when analysis has finished, its result.
func (s *Store) ExportAllSessions(ctx context.Context) ([]model.SessionExport, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	questions := make(map[string]*model.InterviewQuestion)
	question := func(id string) (*model.InterviewQuestion, error) {
		if q, ok := questions[id]; ok {
			return q, nil
		}
		q, err := s.GetQuestion(ctx, id)
		if err != nil {
			return nil, err
		}
		questions[id] = q
		return q, nil
	}

	var out []model.SessionExport
	for _, sess := range sessions {
		responses, err := s.ListResponses(ctx, sess.ID)
		if err != nil {
			return nil, err
		}

		answers := make([]model.AnswerExport, 0, len(responses))
		for _, r := range responses {
			a := model.AnswerExport{
				QuestionID:   r.QuestionID,
				ResponseText: r.ResponseText,
				RespondedAt:  r.RespondedAt,
				Confidence:   r.ConfidenceScore,
				Scores:       r.OLQScores,
			}
			q, err := question(r.QuestionID)
			switch {
			case err == nil:
				a.QuestionText = q.Text
				a.ExpectedOLQs = q.ExpectedOLQs
			case !errors.Is(err, model.ErrNotFound):
				return nil, err
			}
			answers = append(answers, a)
		}

		result, err := s.GetResult(ctx, sess.ID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}

		out = append(out, model.SessionExport{
			SessionID:   sess.ID,
			UserID:      sess.UserID,
			Mode:        sess.Mode,
			Status:      sess.Status,
			StartedAt:   sess.StartedAt,
			CompletedAt: sess.CompletedAt,
			Answers:     answers,
			Result:      result,
		})
	}
	return out, nil
}
