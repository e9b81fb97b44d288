package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/ssbprep/internal/model"
)

// FS holds the built-in prompt templates.
//
//go:embed templates/*.txt
var FS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant selects how harshly responses are scored.
type PromptVariant string

const (
	PromptStrict   PromptVariant = "strict"
	PromptStandard PromptVariant = "standard"
	PromptLenient  PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var funcs = template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"join": strings.Join,
}

var (
	loadOnce          sync.Once
	loadErr           error
	analysisTemplates map[PromptVariant]*template.Template
	feedbackTemplate  *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// OLQRef describes one target quality in the analysis prompt.
type OLQRef struct {
	Name        string
	DisplayName string
	Category    string
}

// AnalysisData holds template data for response analysis prompts.
type AnalysisData struct {
	QuestionText string
	Context      string
	TargetOLQs   []OLQRef
	ResponseMode string
	Answer       string
}

// QA is one question and the candidate's answer.
type QA struct {
	Question string
	Answer   string
}

// ScoreLine is one aggregated OLQ score in the feedback prompt.
type ScoreLine struct {
	DisplayName string
	Score       int
	Rating      string
}

// FeedbackData holds template data for the feedback prompt.
type FeedbackData struct {
	Exchanges  []QA
	Scores     []ScoreLine
	Strengths  []string
	Weaknesses []string
}

// Load parses the prompt templates from fsys. Only the first call does any work.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		parsed := make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			tmpl, err := parseFile(fsys, "templates/analysis_"+string(v)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			parsed[v] = tmpl
		}
		fb, err := parseFile(fsys, "templates/feedback.txt")
		if err != nil {
			loadErr = err
			return
		}
		analysisTemplates = parsed
		feedbackTemplate = fb
	})
	return loadErr
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildAnalysisPrompt renders the scoring prompt for one response.
func BuildAnalysisPrompt(variant PromptVariant, q model.InterviewQuestion, r model.InterviewResponse) (string, error) {
	if analysisTemplates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := analysisTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	refs := make([]OLQRef, 0, len(q.ExpectedOLQs))
	for _, o := range q.ExpectedOLQs {
		refs = append(refs, OLQRef{
			Name:        string(o),
			DisplayName: o.DisplayName(),
			Category:    o.Category().DisplayName(),
		})
	}
	return execute(tmpl, AnalysisData{
		QuestionText: q.Text,
		Context:      q.Context,
		TargetOLQs:   refs,
		ResponseMode: string(r.ResponseMode),
		Answer:       sanitizeAnswer(r.ResponseText),
	})
}

// BuildFeedbackPrompt renders the end-of-interview feedback prompt.
// Scores are listed best first.
func BuildFeedbackPrompt(exchanges []QA, scores map[model.OLQ]model.OLQScore) (string, error) {
	if feedbackTemplate == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}

	data := FeedbackData{Exchanges: make([]QA, 0, len(exchanges))}
	for _, qa := range exchanges {
		data.Exchanges = append(data.Exchanges, QA{Question: qa.Question, Answer: sanitizeAnswer(qa.Answer)})
	}

	olqs := make([]model.OLQ, 0, len(scores))
	for _, o := range model.AllOLQs() {
		if _, ok := scores[o]; ok {
			olqs = append(olqs, o)
		}
	}
	sort.SliceStable(olqs, func(i, j int) bool { return scores[olqs[i]].Score < scores[olqs[j]].Score })
	for _, o := range olqs {
		s := scores[o]
		data.Scores = append(data.Scores, ScoreLine{DisplayName: o.DisplayName(), Score: s.Score, Rating: s.Rating()})
		if s.Score <= 5 && len(data.Strengths) < model.MaxHighlights {
			data.Strengths = append(data.Strengths, o.DisplayName())
		}
	}
	for i := len(olqs) - 1; i >= 0 && len(data.Weaknesses) < model.MaxHighlights; i-- {
		if s := scores[olqs[i]]; s.Score > 6 {
			data.Weaknesses = append(data.Weaknesses, olqs[i].DisplayName())
		}
	}
	return execute(feedbackTemplate, data)
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
