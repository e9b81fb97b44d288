// Package session drives a candidate through an interview: loading a
// session, advancing question by question, and completing it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pavelanni/ssbprep/internal/model"
	"github.com/pavelanni/ssbprep/internal/observable"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoQuestions     = errors.New("no questions available")
	ErrNoSessionLoaded = errors.New("no session loaded")
)

// Store is the persistence the session core needs. Missing records are
// reported with errors wrapping model.ErrNotFound.
type Store interface {
	GetSession(ctx context.Context, id string) (*model.InterviewSession, error)
	UpdateSession(ctx context.Context, sess model.InterviewSession) error
	GetQuestion(ctx context.Context, id string) (*model.InterviewQuestion, error)
	SubmitResponse(ctx context.Context, r model.InterviewResponse) error
}

// Manager tracks where a candidate is in their interview. One Manager serves
// one session owner; its state holders have a single writer, the Manager.
type Manager struct {
	store Store

	mu       sync.Mutex
	session  *observable.Value[*model.InterviewSession]
	question *observable.Value[*model.InterviewQuestion]
	index    *observable.Value[int]
}

// NewManager returns a manager with nothing loaded.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		session:  observable.NewValueWithClone[*model.InterviewSession](nil, (*model.InterviewSession).Clone),
		question: observable.NewValueWithClone[*model.InterviewQuestion](nil, cloneQuestion),
		index:    observable.NewValue(0),
	}
}

func cloneQuestion(q *model.InterviewQuestion) *model.InterviewQuestion {
	if q == nil {
		return nil
	}
	c := *q
	c.ExpectedOLQs = append([]model.OLQ(nil), q.ExpectedOLQs...)
	return &c
}

// Session is the currently loaded session, nil before LoadSession.
func (m *Manager) Session() observable.Reader[*model.InterviewSession] { return m.session }

// CurrentQuestion is the question the candidate is answering.
func (m *Manager) CurrentQuestion() observable.Reader[*model.InterviewQuestion] { return m.question }

// CurrentIndex is the zero-based position in the question list.
func (m *Manager) CurrentIndex() observable.Reader[int] { return m.index }

// LoadSession fetches the session and the question at its current index and
// publishes all three. It returns ErrSessionNotFound or ErrNoQuestions for
// the two domain failures; store errors are returned wrapped.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) (*model.InterviewQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, model.ErrNotFound) || (err == nil && sess == nil) {
		return nil, fmt.Errorf("load session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	idx := sess.CurrentQuestionIndex
	if idx < 0 || idx >= len(sess.QuestionIDs) {
		return nil, fmt.Errorf("load session %s: index %d of %d: %w", sessionID, idx, len(sess.QuestionIDs), ErrNoQuestions)
	}
	q, err := m.store.GetQuestion(ctx, sess.QuestionIDs[idx])
	if err != nil {
		return nil, fmt.Errorf("load question %s: %w", sess.QuestionIDs[idx], err)
	}

	m.session.Set(sess)
	m.question.Set(q)
	m.index.Set(idx)
	return cloneQuestion(q), nil
}

// LoadNextQuestion advances to the next question. Past the last question it
// returns (nil, nil): the interview is finished and nothing is written.
// Otherwise the incremented index is persisted before the question is
// fetched and published; if that write fails nothing is published.
func (m *Manager) LoadNextQuestion(ctx context.Context) (*model.InterviewQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.session.Get()
	if sess == nil {
		return nil, ErrNoSessionLoaded
	}

	next := m.index.Get() + 1
	if next >= len(sess.QuestionIDs) {
		return nil, nil
	}

	updated := sess.Clone()
	updated.CurrentQuestionIndex = next
	if err := m.store.UpdateSession(ctx, *updated); err != nil {
		return nil, fmt.Errorf("persist question index %d: %w", next, err)
	}

	q, err := m.store.GetQuestion(ctx, updated.QuestionIDs[next])
	if err != nil {
		// The index is already durable. A retry persists the same value again.
		return nil, fmt.Errorf("load question %s: %w", updated.QuestionIDs[next], err)
	}

	m.session.Set(updated)
	m.question.Set(q)
	m.index.Set(next)
	return cloneQuestion(q), nil
}

// HasMoreQuestions reports whether a question follows the current one.
func (m *Manager) HasMoreQuestions() bool {
	sess := m.session.Get()
	if sess == nil {
		return false
	}
	return m.index.Get() < len(sess.QuestionIDs)-1
}

// TotalQuestions returns the length of the loaded session's question list.
func (m *Manager) TotalQuestions() int {
	sess := m.session.Get()
	if sess == nil {
		return 0
	}
	return len(sess.QuestionIDs)
}
