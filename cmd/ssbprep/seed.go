package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	appI18n "github.com/pavelanni/ssbprep/internal/i18n"
	"github.com/pavelanni/ssbprep/internal/model"
	"github.com/pavelanni/ssbprep/internal/store"
)

// questionNamespace derives stable IDs for imported questions that carry none.
var questionNamespace = uuid.MustParse("6f0c1a52-3f7e-4d7b-9a51-2b8e2f1c9d40")

func loadQuestions(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, adding new questions only", "path", path)
		}

		var imports []model.QuestionImport
		if err := json.Unmarshal(data, &imports); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for i, qi := range imports {
			q, err := questionFromImport(qi)
			if err != nil {
				return fmt.Errorf("question %d in %s: %w", i+1, path, err)
			}
			if err := db.InsertQuestion(ctx, q); err != nil {
				return fmt.Errorf("insert question from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", len(imports))
	}

	count, err := db.QuestionCount(ctx)
	if err != nil {
		return fmt.Errorf("count questions: %w", err)
	}
	slog.Info(appI18n.Tp(ctx, "QuestionsAvailable", count))
	return nil
}

func questionFromImport(qi model.QuestionImport) (model.InterviewQuestion, error) {
	q := model.InterviewQuestion{
		ID:      qi.ID,
		Text:    qi.Text,
		Context: qi.Context,
		Source:  qi.Source,
	}
	if q.ID == "" {
		q.ID = uuid.NewSHA1(questionNamespace, []byte(qi.Text)).String()
	}
	if q.Source == "" {
		q.Source = model.SourceGenericPool
	}
	for _, name := range qi.ExpectedOLQs {
		olq, ok := model.ParseOLQ(name)
		if !ok {
			return q, fmt.Errorf("unknown OLQ %q", name)
		}
		q.ExpectedOLQs = append(q.ExpectedOLQs, olq)
	}
	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
