// Package export writes interview results for offline review.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/ssbprep/internal/model"
)

// Formats accepted by Write.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

const (
	sessionsSheet = "Sessions"
	scoresSheet   = "Scores"
	answersSheet  = "Answers"
	dateLayout    = "2006-01-02 15:04"
)

var sessionHeaders = []string{
	"Session", "User", "Mode", "Status", "Started", "Completed",
	"Answers", "Overall rating", "Rating", "Confidence", "Strengths", "Weaknesses", "Limitations",
}

var answerHeaders = []string{"Session", "Question", "Question text", "Target OLQs", "Response", "Responded", "Confidence"}

// Write encodes e in the given format.
func Write(w io.Writer, format string, e model.ResultsExport) error {
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, e)
	case FormatXLSX:
		return WriteXLSX(w, e)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes e as indented JSON followed by a newline.
func WriteJSON(w io.Writer, e model.ResultsExport) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// WriteXLSX writes a workbook with one row per session, one row of OLQ
// scores per analysed session and one row per answer.
func WriteXLSX(w io.Writer, e model.ResultsExport) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("close workbook", "error", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", sessionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{scoresSheet, answersSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	if err := writeSessions(f, e.Sessions); err != nil {
		return fmt.Errorf("write sessions sheet: %w", err)
	}
	if err := writeScores(f, e.Sessions); err != nil {
		return fmt.Errorf("write scores sheet: %w", err)
	}
	if err := writeAnswers(f, e.Sessions); err != nil {
		return fmt.Errorf("write answers sheet: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:       "SSB interview results " + e.ExportID,
		Description: "Prompt variant: " + e.PromptVariant,
	}); err != nil {
		return fmt.Errorf("set document properties: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSessions(f *excelize.File, sessions []model.SessionExport) error {
	row, err := writeHeader(f, sessionsSheet, 0, sessionHeaders)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		row++
		values := []any{
			s.SessionID, s.UserID, string(s.Mode), string(s.Status),
			formatTime(&s.StartedAt), formatTime(s.CompletedAt), len(s.Answers),
		}
		if r := s.Result; r != nil {
			values = append(values,
				r.OverallRating, r.Rating(), r.OverallConfidence,
				olqNames(r.Strengths), olqNames(r.Weaknesses), olqNames(r.Limitations()))
		}
		if err := writeRow(f, sessionsSheet, row, values); err != nil {
			return err
		}
	}
	return nil
}

func writeScores(f *excelize.File, sessions []model.SessionExport) error {
	olqs := model.AllOLQs()
	categories := model.AllCategories()
	headers := []string{"Session"}
	for _, o := range olqs {
		headers = append(headers, o.DisplayName())
	}
	for _, c := range categories {
		headers = append(headers, c.DisplayName())
	}

	row, err := writeHeader(f, scoresSheet, 0, headers)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.Result == nil {
			continue
		}
		row++
		values := []any{s.SessionID}
		for _, o := range olqs {
			if sc, ok := s.Result.OverallOLQScores[o]; ok {
				values = append(values, sc.Score)
			} else {
				values = append(values, "")
			}
		}
		for _, c := range categories {
			values = append(values, s.Result.CategoryScores[c])
		}
		if err := writeRow(f, scoresSheet, row, values); err != nil {
			return err
		}
	}
	return nil
}

func writeAnswers(f *excelize.File, sessions []model.SessionExport) error {
	row, err := writeHeader(f, answersSheet, 0, answerHeaders)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		for _, a := range s.Answers {
			row++
			values := []any{
				s.SessionID, a.QuestionID, a.QuestionText, olqNames(a.ExpectedOLQs),
				a.ResponseText, formatTime(&a.RespondedAt), a.Confidence,
			}
			if err := writeRow(f, answersSheet, row, values); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func writeHeader(f *excelize.File, sheet string, row int, headers []string) (int, error) {
	row++
	style, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Font:      &excelize.Font{Bold: true, Size: 11},
	})
	if err != nil {
		return row, err
	}
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return row, err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), row)
	if err != nil {
		return row, err
	}
	if err := f.SetCellStyle(sheet, first, last, style); err != nil {
		return row, err
	}
	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return row, err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 22); err != nil {
		return row, err
	}
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	return row, writeRow(f, sheet, row, values)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func olqNames(olqs []model.OLQ) string {
	names := make([]string, len(olqs))
	for i, o := range olqs {
		names[i] = o.DisplayName()
	}
	return strings.Join(names, ", ")
}
