package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/ssbprep/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serialises writers anyway; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		expected_olqs TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'generic_pool',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interview_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		piq_snapshot_id TEXT NOT NULL DEFAULT '',
		consent_given INTEGER NOT NULL DEFAULT 0,
		question_ids TEXT NOT NULL,
		current_question_index INTEGER NOT NULL DEFAULT 0,
		estimated_duration INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interview_responses (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		response_text TEXT NOT NULL,
		response_mode TEXT NOT NULL,
		responded_at DATETIME NOT NULL,
		thinking_time_sec INTEGER NOT NULL DEFAULT 0,
		audio_url TEXT NOT NULL DEFAULT '',
		olq_scores TEXT NOT NULL DEFAULT '{}',
		confidence_score INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (session_id) REFERENCES interview_sessions(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS interview_responses_question ON interview_responses(session_id, question_id);

	CREATE TABLE IF NOT EXISTS interview_results (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		data TEXT NOT NULL,
		overall_rating INTEGER NOT NULL,
		completed_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES interview_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		requires_network INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		run_after INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS jobs_active_key ON jobs(key) WHERE status IN ('pending', 'running');

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertQuestion stores a question. Re-inserting an existing ID is a no-op.
func (s *Store) InsertQuestion(ctx context.Context, q model.InterviewQuestion) error {
	olqs, err := json.Marshal(q.ExpectedOLQs)
	if err != nil {
		return fmt.Errorf("marshal expected OLQs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (id, text, expected_olqs, context, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		q.ID, q.Text, string(olqs), q.Context, q.Source, s.now(),
	)
	return err
}

// GetQuestion returns a question by ID, or an error wrapping model.ErrNotFound.
func (s *Store) GetQuestion(ctx context.Context, id string) (*model.InterviewQuestion, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT id, text, expected_olqs, context, source FROM questions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("question %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get question %s: %w", id, err)
	}
	return q, nil
}

// ListQuestions returns the whole question pool in insertion order.
func (s *Store) ListQuestions(ctx context.Context) ([]model.InterviewQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, expected_olqs, context, source FROM questions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.InterviewQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the pool.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(sc scanner) (*model.InterviewQuestion, error) {
	var q model.InterviewQuestion
	var olqs string
	if err := sc.Scan(&q.ID, &q.Text, &olqs, &q.Context, &q.Source); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(olqs), &q.ExpectedOLQs); err != nil {
		return nil, fmt.Errorf("decode expected OLQs of question %s: %w", q.ID, err)
	}
	return &q, nil
}

// CreateSession inserts a new interview session.
func (s *Store) CreateSession(ctx context.Context, sess model.InterviewSession) error {
	ids, err := json.Marshal(sess.QuestionIDs)
	if err != nil {
		return fmt.Errorf("marshal question ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interview_sessions (id, user_id, mode, status, started_at, completed_at, piq_snapshot_id,
			consent_given, question_ids, current_question_index, estimated_duration, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Mode, sess.Status, sess.StartedAt, sess.CompletedAt, sess.PIQSnapshotID,
		sess.ConsentGiven, string(ids), sess.CurrentQuestionIndex, sess.EstimatedDuration, s.now(),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

const sessionColumns = `id, user_id, mode, status, started_at, completed_at, piq_snapshot_id,
	consent_given, question_ids, current_question_index, estimated_duration, updated_at`

// GetSession returns a session by ID, or an error wrapping model.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*model.InterviewSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM interview_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// UpdateSession overwrites the mutable fields of a session (read-modify-write)
// and stamps updated_at with the store's clock.
func (s *Store) UpdateSession(ctx context.Context, sess model.InterviewSession) error {
	ids, err := json.Marshal(sess.QuestionIDs)
	if err != nil {
		return fmt.Errorf("marshal question ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE interview_sessions SET mode = ?, status = ?, completed_at = ?, consent_given = ?,
			question_ids = ?, current_question_index = ?, estimated_duration = ?, updated_at = ?
		 WHERE id = ?`,
		sess.Mode, sess.Status, sess.CompletedAt, sess.ConsentGiven,
		string(ids), sess.CurrentQuestionIndex, sess.EstimatedDuration, s.now(), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update session %s: %w", sess.ID, model.ErrNotFound)
	}
	return nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]model.InterviewSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM interview_sessions ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.InterviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func scanSession(sc scanner) (*model.InterviewSession, error) {
	var sess model.InterviewSession
	var ids string
	err := sc.Scan(&sess.ID, &sess.UserID, &sess.Mode, &sess.Status, &sess.StartedAt, &sess.CompletedAt,
		&sess.PIQSnapshotID, &sess.ConsentGiven, &ids, &sess.CurrentQuestionIndex, &sess.EstimatedDuration,
		&sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &sess.QuestionIDs); err != nil {
		return nil, fmt.Errorf("decode question ids of session %s: %w", sess.ID, err)
	}
	return &sess, nil
}
