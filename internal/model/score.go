package model

import (
	"errors"
	"fmt"
	"math"
)

const (
	MinScore      = 1
	MaxScore      = 10
	MinConfidence = 0
	MaxConfidence = 100

	// LimitationThreshold is the SSB score from which a quality counts as a limitation.
	LimitationThreshold = 8
)

var (
	ErrInvalidScore      = errors.New("OLQ score must be between 1 and 10")
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 100")
)

// OLQScore is a single quality assessment on the SSB scale: 1 is the best
// possible score and 10 the worst.
type OLQScore struct {
	Score      int    `json:"score"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// NewOLQScore builds a score and rejects values outside the SSB domain.
func NewOLQScore(score, confidence int, reasoning string) (OLQScore, error) {
	if score < MinScore || score > MaxScore {
		return OLQScore{}, fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}
	if confidence < MinConfidence || confidence > MaxConfidence {
		return OLQScore{}, fmt.Errorf("%w: got %d", ErrInvalidConfidence, confidence)
	}
	return OLQScore{Score: score, Confidence: confidence, Reasoning: reasoning}, nil
}

// MustOLQScore is NewOLQScore for constants known to be in range.
func MustOLQScore(score, confidence int, reasoning string) OLQScore {
	s, err := NewOLQScore(score, confidence, reasoning)
	if err != nil {
		panic(err)
	}
	return s
}

// IngestOLQScore converts a score reported by the scoring endpoint. Fractional
// scores are truncated and both values are clamped into range instead of
// rejected. NaN is treated as the worst score.
func IngestOLQScore(rawScore float64, rawConfidence int, reasoning string) OLQScore {
	score := MaxScore
	if !math.IsNaN(rawScore) {
		score = clampInt(truncate(rawScore), MinScore, MaxScore)
	}
	return OLQScore{
		Score:      score,
		Confidence: clampInt(rawConfidence, MinConfidence, MaxConfidence),
		Reasoning:  reasoning,
	}
}

// Validate checks a score that was not built through NewOLQScore, e.g. one read back from storage.
func (s OLQScore) Validate() error {
	_, err := NewOLQScore(s.Score, s.Confidence, s.Reasoning)
	return err
}

// Rating returns the SSB label for the score.
func (s OLQScore) Rating() string {
	return RatingFor(s.Score)
}

// IsLimitation reports whether the score counts as a limitation.
func (s OLQScore) IsLimitation() bool {
	return s.Score >= LimitationThreshold
}

// RatingFor maps an SSB score to its label. It is the only place the mapping lives.
func RatingFor(score int) string {
	switch {
	case score >= 1 && score <= 3:
		return "Exceptional"
	case score == 4:
		return "Excellent"
	case score == 5:
		return "Very Good"
	case score == 6:
		return "Good"
	case score == 7:
		return "Average"
	case score == 8:
		return "Below Average"
	case score == 9 || score == 10:
		return "Poor"
	default:
		return "Unknown"
	}
}

func truncate(f float64) int {
	switch {
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
