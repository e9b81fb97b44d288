package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	// MaxHighlights caps both strengths and weaknesses.
	MaxHighlights = 3

	// AnalysisJobKind is the work-queue kind handled by the interview analyzer.
	AnalysisJobKind = "interview_analysis"
)

// ErrNoScores is returned by BuildResult when none of the responses carries a score.
var ErrNoScores = errors.New("no scored responses to aggregate")

// AnalysisJobKey returns the dedup key for a session's analysis job.
func AnalysisJobKey(sessionID string) string {
	return AnalysisJobKind + "_" + sessionID
}

// InterviewResult is the aggregated assessment of a completed interview.
type InterviewResult struct {
	ID                string                  `json:"id"`
	SessionID         string                  `json:"session_id"`
	UserID            string                  `json:"user_id"`
	Mode              InterviewMode           `json:"mode"`
	CompletedAt       time.Time               `json:"completed_at"`
	DurationSec       int64                   `json:"duration_sec"`
	TotalQuestions    int                     `json:"total_questions"`
	TotalResponses    int                     `json:"total_responses"`
	OverallOLQScores  map[OLQ]OLQScore        `json:"overall_olq_scores"`
	CategoryScores    map[OLQCategory]float64 `json:"category_scores"`
	OverallConfidence int                     `json:"overall_confidence"`
	Strengths         []OLQ                   `json:"strengths"`
	Weaknesses        []OLQ                   `json:"weaknesses"`
	Feedback          string                  `json:"feedback"`
	OverallRating     int                     `json:"overall_rating"`
}

// Rating returns the label for the overall rating.
func (r *InterviewResult) Rating() string { return RatingFor(r.OverallRating) }

// Limitations returns the OLQs scored at or above the limitation threshold, critical ones first.
func (r *InterviewResult) Limitations() []OLQ {
	var out []OLQ
	for _, o := range allOLQs {
		if s, ok := r.OverallOLQScores[o]; ok && s.IsLimitation() {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsCritical() && !out[j].IsCritical()
	})
	return out
}

// Validate checks the result's cross-field invariants.
func (r *InterviewResult) Validate() error {
	if r.TotalResponses > r.TotalQuestions {
		return fmt.Errorf("validate result %s: %d responses for %d questions", r.ID, r.TotalResponses, r.TotalQuestions)
	}
	if len(r.Strengths) > MaxHighlights || len(r.Weaknesses) > MaxHighlights {
		return fmt.Errorf("validate result %s: more than %d strengths or weaknesses", r.ID, MaxHighlights)
	}
	if r.OverallRating < MinScore || r.OverallRating > MaxScore {
		return fmt.Errorf("validate result %s: %w: overall rating %d", r.ID, ErrInvalidScore, r.OverallRating)
	}
	return nil
}

// BuildResult aggregates scored responses into a result. Only the latest
// response per question counts. Each OLQ score is the truncated mean of its
// per-response scores; strengths are the three lowest (best) scores, best
// first, and weaknesses the three highest, worst first.
func BuildResult(id string, session *InterviewSession, responses []InterviewResponse, now time.Time) (InterviewResult, error) {
	latest := make(map[string]InterviewResponse, len(responses))
	for _, r := range responses {
		if prev, ok := latest[r.QuestionID]; ok && prev.RespondedAt.After(r.RespondedAt) {
			continue
		}
		latest[r.QuestionID] = r
	}

	type acc struct{ score, conf, n int }
	sums := make(map[OLQ]*acc)
	var confSum int
	for _, r := range latest {
		confSum += r.ConfidenceScore
		for olq, s := range r.OLQScores {
			a, ok := sums[olq]
			if !ok {
				a = &acc{}
				sums[olq] = a
			}
			a.score += s.Score
			a.conf += s.Confidence
			a.n++
		}
	}
	if len(sums) == 0 {
		return InterviewResult{}, fmt.Errorf("build result for session %s: %w", session.ID, ErrNoScores)
	}

	scores := make(map[OLQ]OLQScore, len(sums))
	var ranked []OLQ
	var ratingSum int
	for _, o := range allOLQs {
		a, ok := sums[o]
		if !ok {
			continue
		}
		s := OLQScore{
			Score:      clampInt(a.score/a.n, MinScore, MaxScore),
			Confidence: clampInt(a.conf/a.n, MinConfidence, MaxConfidence),
			Reasoning:  fmt.Sprintf("Averaged over %d responses", a.n),
		}
		scores[o] = s
		ranked = append(ranked, o)
		ratingSum += s.Score
	}

	categories := make(map[OLQCategory]float64, 4)
	for _, c := range AllCategories() {
		var sum, n int
		for _, o := range OLQsByCategory(c) {
			if s, ok := scores[o]; ok {
				sum += s.Score
				n++
			}
		}
		if n > 0 {
			categories[c] = float64(sum) / float64(n)
		} else {
			categories[c] = 0
		}
	}

	// ranked is in catalogue order, so the stable sort breaks ties by catalogue position.
	sort.SliceStable(ranked, func(i, j int) bool { return scores[ranked[i]].Score < scores[ranked[j]].Score })
	strengths := append([]OLQ(nil), ranked[:min(MaxHighlights, len(ranked))]...)
	worst := append([]OLQ(nil), ranked...)
	sort.SliceStable(worst, func(i, j int) bool { return scores[worst[i]].Score > scores[worst[j]].Score })
	weaknesses := worst[:min(MaxHighlights, len(worst))]

	var duration int64
	if !session.StartedAt.IsZero() && now.After(session.StartedAt) {
		duration = int64(now.Sub(session.StartedAt) / time.Second)
	}

	res := InterviewResult{
		ID:                id,
		SessionID:         session.ID,
		UserID:            session.UserID,
		Mode:              session.Mode,
		CompletedAt:       now,
		DurationSec:       duration,
		TotalQuestions:    len(session.QuestionIDs),
		TotalResponses:    min(len(latest), len(session.QuestionIDs)),
		OverallOLQScores:  scores,
		CategoryScores:    categories,
		OverallConfidence: clampInt(confSum/len(latest), MinConfidence, MaxConfidence),
		Strengths:         strengths,
		Weaknesses:        weaknesses,
		OverallRating:     clampInt(ratingSum/len(scores), MinScore, MaxScore),
	}
	return res, nil
}
