package llm

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pavelanni/ssbprep/internal/llm/prompts"
	"github.com/pavelanni/ssbprep/internal/model"
)

// ErrMalformedAnalysis means the model answered but the answer could not be
// turned into scores for the question's target OLQs.
var ErrMalformedAnalysis = errors.New("malformed analysis")

// ErrEmptyFeedback means the model returned no feedback text.
var ErrEmptyFeedback = errors.New("empty feedback")

// DefaultConfidence is used when the model omits overallConfidence.
const DefaultConfidence = 50

const systemPrompt = "You are an experienced SSB psychologist assessing Officer-Like Qualities. Respond only with valid JSON."

//go:embed analysis.schema.json
var analysisSchema []byte

// Analysis is the scored assessment of one response.
type Analysis struct {
	Scores            map[model.OLQ]model.OLQScore
	Evidence          map[model.OLQ][]string
	Confidence        int
	KeyInsights       []string
	SuggestedFollowUp string
	// Skipped lists OLQ names the model returned that were unknown or not targeted.
	Skipped []string
}

type rawAnalysis struct {
	OLQScores []struct {
		OLQ       string   `json:"olq"`
		Score     float64  `json:"score"`
		Reasoning string   `json:"reasoning"`
		Evidence  []string `json:"evidence"`
	} `json:"olqScores"`
	OverallConfidence *float64 `json:"overallConfidence"`
	KeyInsights       []string `json:"keyInsights"`
	SuggestedFollowUp *string  `json:"suggestedFollowUp"`
}

// Scorer turns interview responses into OLQ scores and feedback.
type Scorer struct {
	completer Completer
	variant   prompts.PromptVariant
	schema    *gojsonschema.Schema
}

// NewScorer loads the prompt templates and the analysis schema.
func NewScorer(c Completer, variant string) (*Scorer, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(prompts.FS); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(analysisSchema))
	if err != nil {
		return nil, fmt.Errorf("load analysis schema: %w", err)
	}
	return &Scorer{completer: c, variant: prompts.PromptVariant(variant), schema: schema}, nil
}

// ScoreResponse asks the model to score r against q's target OLQs.
// Out-of-range values are clamped; unknown or untargeted OLQs are skipped.
// Errors from the completion call are returned as is; anything wrong with
// the answer itself wraps ErrMalformedAnalysis.
func (s *Scorer) ScoreResponse(ctx context.Context, q model.InterviewQuestion, r model.InterviewResponse) (*Analysis, error) {
	prompt, err := prompts.BuildAnalysisPrompt(s.variant, q, r)
	if err != nil {
		return nil, fmt.Errorf("build analysis prompt: %w", err)
	}
	raw, err := s.completer.CompleteJSON(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("score response %s: %w", r.ID, err)
	}
	return s.parseAnalysis(cleanJSONBlock(raw), q.ExpectedOLQs)
}

func (s *Scorer) parseAnalysis(raw string, targets []model.OLQ) (*Analysis, error) {
	result, err := s.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedAnalysis, strings.Join(msgs, "; "))
	}

	var parsed rawAnalysis
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}

	confidence := DefaultConfidence
	if parsed.OverallConfidence != nil {
		confidence = int(max(min(*parsed.OverallConfidence, model.MaxConfidence), model.MinConfidence))
	}

	targeted := make(map[model.OLQ]bool, len(targets))
	for _, o := range targets {
		targeted[o] = true
	}

	a := &Analysis{
		Scores:      make(map[model.OLQ]model.OLQScore),
		Evidence:    make(map[model.OLQ][]string),
		Confidence:  confidence,
		KeyInsights: parsed.KeyInsights,
	}
	if parsed.SuggestedFollowUp != nil {
		a.SuggestedFollowUp = *parsed.SuggestedFollowUp
	}
	for _, item := range parsed.OLQScores {
		olq, ok := model.ParseOLQ(item.OLQ)
		if !ok || !targeted[olq] {
			a.Skipped = append(a.Skipped, item.OLQ)
			continue
		}
		score := model.IngestOLQScore(item.Score, confidence, item.Reasoning)
		a.Scores[olq] = score
		if len(item.Evidence) > 0 {
			a.Evidence[olq] = item.Evidence
		}
	}
	if len(a.Skipped) > 0 {
		slog.Warn("skipped OLQs in analysis", "component", "scorer", "olqs", a.Skipped)
	}
	if len(a.Scores) == 0 {
		return nil, fmt.Errorf("%w: no scores for target OLQs", ErrMalformedAnalysis)
	}
	return a, nil
}

// GenerateFeedback asks for narrative feedback on the whole interview.
func (s *Scorer) GenerateFeedback(ctx context.Context, exchanges []prompts.QA, scores map[model.OLQ]model.OLQScore) (string, error) {
	prompt, err := prompts.BuildFeedbackPrompt(exchanges, scores)
	if err != nil {
		return "", fmt.Errorf("build feedback prompt: %w", err)
	}
	raw, err := s.completer.CompleteJSON(ctx, systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("generate feedback: %w", err)
	}

	var out struct {
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(cleanJSONBlock(raw)), &out); err != nil {
		return "", fmt.Errorf("parse feedback response: %w (raw: %s)", err, raw)
	}
	feedback := strings.TrimSpace(out.Feedback)
	if feedback == "" {
		return "", ErrEmptyFeedback
	}
	return feedback, nil
}
