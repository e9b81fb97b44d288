package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/ssbprep/internal/jobs"
	"github.com/pavelanni/ssbprep/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, id, text string, olqs ...model.OLQ) {
	t.Helper()
	err := s.InsertQuestion(context.Background(), model.InterviewQuestion{
		ID:           id,
		Text:         text,
		ExpectedOLQs: olqs,
		Source:       model.SourceGenericPool,
	})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
}

func createTestSession(t *testing.T, s *Store, id string, questionIDs ...string) {
	t.Helper()
	err := s.CreateSession(context.Background(), model.InterviewSession{
		ID:          id,
		UserID:      "user-1",
		Mode:        model.ModeText,
		Status:      model.StatusInProgress,
		StartedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		QuestionIDs: questionIDs,
	})
	if err != nil {
		t.Fatalf("createTestSession: %v", err)
	}
}

func TestQuestionCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	count, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}

	insertTestQuestion(t, s, "q1", "Why do you want to join?", model.Determination, model.SelfConfidence)
	q, err := s.GetQuestion(ctx, "q1")
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Text != "Why do you want to join?" {
		t.Errorf("expected question text, got %q", q.Text)
	}
	if len(q.ExpectedOLQs) != 2 || q.ExpectedOLQs[0] != model.Determination {
		t.Errorf("expected OLQs round-trip, got %v", q.ExpectedOLQs)
	}

	// Re-inserting the same ID keeps the original.
	insertTestQuestion(t, s, "q1", "changed", model.Courage)
	q, _ = s.GetQuestion(ctx, "q1")
	if q.Text != "Why do you want to join?" {
		t.Errorf("duplicate insert overwrote question: %q", q.Text)
	}

	_, err = s.GetQuestion(ctx, "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	insertTestQuestion(t, s, "q2", "Describe a time you led a team.", model.InfluenceGroup)
	list, err := s.ListQuestions(ctx)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 questions, got %d", len(list))
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createTestSession(t, s, "s1", "q1", "q2", "q3")

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != model.StatusInProgress {
		t.Errorf("expected in_progress, got %q", sess.Status)
	}
	if len(sess.QuestionIDs) != 3 || sess.QuestionIDs[2] != "q3" {
		t.Errorf("question ids = %v", sess.QuestionIDs)
	}
	if sess.CompletedAt != nil {
		t.Error("new session should have no completion time")
	}

	sess.CurrentQuestionIndex = 2
	sess.Status = model.StatusCompleted
	done := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	sess.CompletedAt = &done
	if err := s.UpdateSession(ctx, *sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession after update: %v", err)
	}
	if got.CurrentQuestionIndex != 2 || got.Status != model.StatusCompleted {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, done)
	}

	if err := s.UpdateSession(ctx, model.InterviewSession{ID: "nope"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating missing session, got %v", err)
	}
	if _, err := s.GetSession(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("expected 1 session, got %d", len(sessions))
	}
}

func TestResponsesAndScores(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createTestSession(t, s, "s1", "q1", "q2")

	r := model.InterviewResponse{
		ID:           "r1",
		SessionID:    "s1",
		QuestionID:   "q1",
		ResponseText: "I organised the college fest.",
		ResponseMode: model.ModeText,
		RespondedAt:  time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC),
		OLQScores:    map[model.OLQ]model.OLQScore{},
	}
	if err := s.SubmitResponse(ctx, r); err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	// Duplicate submit is ignored.
	r.ResponseText = "changed"
	if err := s.SubmitResponse(ctx, r); err != nil {
		t.Fatalf("SubmitResponse duplicate: %v", err)
	}
	// So is a second answer to the same question under another ID.
	other := r
	other.ID = "r2"
	other.ResponseText = "a later copy"
	if err := s.SubmitResponse(ctx, other); err != nil {
		t.Fatalf("SubmitResponse same question: %v", err)
	}

	list, err := s.ListResponses(ctx, "s1")
	if err != nil {
		t.Fatalf("ListResponses: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 response, got %d", len(list))
	}
	if list[0].ResponseText != "I organised the college fest." {
		t.Errorf("duplicate submit overwrote text: %q", list[0].ResponseText)
	}
	if list[0].IsScored() {
		t.Error("fresh response should be unscored")
	}

	scores := map[model.OLQ]model.OLQScore{
		model.OrganizingAbility: model.MustOLQScore(4, 80, "planned well"),
	}
	for i := 0; i < 2; i++ {
		if err := s.UpdateResponseScores(ctx, "r1", scores, 80); err != nil {
			t.Fatalf("UpdateResponseScores #%d: %v", i, err)
		}
	}
	list, _ = s.ListResponses(ctx, "s1")
	got := list[0].OLQScores[model.OrganizingAbility]
	if got.Score != 4 || got.Confidence != 80 || list[0].ConfidenceScore != 80 {
		t.Errorf("scores after update = %+v, confidence %d", got, list[0].ConfidenceScore)
	}
	if len(list[0].OLQScores) != 1 {
		t.Errorf("expected idempotent overwrite, got %d scores", len(list[0].OLQScores))
	}

	if err := s.UpdateResponseScores(ctx, "missing", scores, 1); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createTestSession(t, s, "s1", "q1")

	if _, err := s.GetResult(ctx, "s1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before analysis, got %v", err)
	}

	res := model.InterviewResult{
		ID:            "res-1",
		SessionID:     "s1",
		UserID:        "user-1",
		OverallRating: 5,
		Strengths:     []model.OLQ{model.Courage},
		CompletedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertResult(ctx, res); err != nil {
		t.Fatalf("UpsertResult: %v", err)
	}
	res.ID = "res-2"
	res.OverallRating = 4
	if err := s.UpsertResult(ctx, res); err != nil {
		t.Fatalf("UpsertResult again: %v", err)
	}

	got, err := s.GetResult(ctx, "s1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.ID != "res-1" {
		t.Errorf("result id = %q, want the first row id", got.ID)
	}
	if got.OverallRating != 4 {
		t.Errorf("overall rating = %d, want 4", got.OverallRating)
	}
}

func TestImportedFileHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash(ctx, "/some/path.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "/some/path.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "/some/path.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "/some/path.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

func TestExportAllSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertTestQuestion(t, s, "q1", "Tell me about your family.", model.SocialAdjustment)
	createTestSession(t, s, "s1", "q1")
	err := s.SubmitResponse(ctx, model.InterviewResponse{
		ID: "r1", SessionID: "s1", QuestionID: "q1", ResponseText: "We are five.",
		ResponseMode: model.ModeText, RespondedAt: time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}

	out, err := s.ExportAllSessions(ctx)
	if err != nil {
		t.Fatalf("ExportAllSessions: %v", err)
	}
	if len(out) != 1 || len(out[0].Answers) != 1 {
		t.Fatalf("unexpected export shape: %+v", out)
	}
	if out[0].Answers[0].QuestionText != "Tell me about your family." {
		t.Errorf("question text = %q", out[0].Answers[0].QuestionText)
	}
	if out[0].Result != nil {
		t.Error("expected no result before analysis")
	}
}

func newTestJob(id, key string, now time.Time, network bool) jobs.Job {
	return jobs.Job{
		ID: id, Key: key, Kind: "test", Payload: "p-" + id,
		Constraints: jobs.Constraints{RequiresNetwork: network},
		Status:      jobs.StatusPending,
		RunAfter:    now, CreatedAt: now, UpdatedAt: now,
	}
}

func TestInsertJobPolicies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, created, err := s.InsertJob(ctx, newTestJob("j1", "k", now, true), jobs.KeepExisting)
	if err != nil || !created {
		t.Fatalf("InsertJob first: created=%v err=%v", created, err)
	}

	kept, created, err := s.InsertJob(ctx, newTestJob("j2", "k", now, true), jobs.KeepExisting)
	if err != nil {
		t.Fatalf("InsertJob keep: %v", err)
	}
	if created || kept.ID != first.ID {
		t.Errorf("KeepExisting should keep %s, got %s created=%v", first.ID, kept.ID, created)
	}

	replaced, created, err := s.InsertJob(ctx, newTestJob("j3", "k", now, false), jobs.ReplaceExisting)
	if err != nil {
		t.Fatalf("InsertJob replace: %v", err)
	}
	if !created || replaced.ID != first.ID || replaced.Payload != "p-j3" {
		t.Errorf("ReplaceExisting = %+v created=%v", replaced, created)
	}

	list, err := s.ListJobs(ctx, "k")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 job under key, got %d", len(list))
	}

	// A finished job no longer blocks the key.
	if err := s.CompleteJob(ctx, first.ID, now); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	_, created, err = s.InsertJob(ctx, newTestJob("j4", "k", now, true), jobs.KeepExisting)
	if err != nil || !created {
		t.Fatalf("InsertJob after completion: created=%v err=%v", created, err)
	}
}

func TestClaimNextJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, _, err := s.InsertJob(ctx, newTestJob("net", "k-net", now, true), jobs.KeepExisting); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	later := newTestJob("later", "k-later", now.Add(time.Hour), false)
	if _, _, err := s.InsertJob(ctx, later, jobs.KeepExisting); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	// Offline: the network job is skipped and the other is not due yet.
	j, err := s.ClaimNextJob(ctx, now, false)
	if err != nil {
		t.Fatalf("ClaimNextJob offline: %v", err)
	}
	if j != nil {
		t.Fatalf("expected nothing runnable offline, got %s", j.ID)
	}

	j, err = s.ClaimNextJob(ctx, now, true)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j == nil || j.ID != "net" || j.Status != jobs.StatusRunning || j.Attempts != 1 {
		t.Fatalf("claimed %+v", j)
	}

	// Running job cannot be claimed twice; retry makes it claimable again.
	if j2, _ := s.ClaimNextJob(ctx, now, true); j2 != nil {
		t.Fatalf("claimed running job again: %s", j2.ID)
	}
	if err := s.RetryJob(ctx, "net", now.Add(time.Minute), "boom"); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if j2, _ := s.ClaimNextJob(ctx, now, true); j2 != nil {
		t.Fatalf("claimed job before its retry time: %s", j2.ID)
	}
	j, _ = s.ClaimNextJob(ctx, now.Add(2*time.Minute), true)
	if j == nil || j.Attempts != 2 || j.LastError != "boom" {
		t.Fatalf("retry claim = %+v", j)
	}

	if err := s.FailJob(ctx, j.ID, "gave up"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	list, _ := s.ListJobs(ctx, "k-net")
	if list[0].Status != jobs.StatusFailed {
		t.Errorf("status = %s, want failed", list[0].Status)
	}
}

func TestResetRunningJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if _, _, err := s.InsertJob(ctx, newTestJob("j1", "k", now, false), jobs.KeepExisting); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, now, true); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	n, err := s.ResetRunningJobs(ctx)
	if err != nil {
		t.Fatalf("ResetRunningJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d jobs, want 1", n)
	}
	if j, _ := s.ClaimNextJob(ctx, now, true); j == nil {
		t.Error("reset job should be claimable")
	}
}
