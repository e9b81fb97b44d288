// Package jobs is a small persistent work queue. Work is enqueued under a
// dedup key with constraints and a duplicate policy, and a Runner executes it
// outside any request scope.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Policy decides what Enqueue does when an active job with the same key exists.
type Policy int

const (
	// KeepExisting leaves the active job untouched and drops the new request.
	KeepExisting Policy = iota
	// ReplaceExisting overwrites a pending job. A running job is never replaced.
	ReplaceExisting
)

func (p Policy) String() string {
	switch p {
	case KeepExisting:
		return "keep"
	case ReplaceExisting:
		return "replace"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Constraints restrict when a job may run.
type Constraints struct {
	RequiresNetwork bool
}

// Request describes work to enqueue. Payload is a single opaque string.
type Request struct {
	Key         string
	Kind        string
	Payload     string
	Constraints Constraints
}

// Job is a persisted unit of work.
type Job struct {
	ID          string
	Key         string
	Kind        string
	Payload     string
	Constraints Constraints
	Status      Status
	Attempts    int
	LastError   string
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the job still blocks a duplicate key.
func (j Job) Active() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}

// Repository persists jobs. InsertJob must apply the policy atomically with
// respect to other inserts of the same key.
type Repository interface {
	InsertJob(ctx context.Context, job Job, policy Policy) (Job, bool, error)
	ClaimNextJob(ctx context.Context, now time.Time, online bool) (*Job, error)
	CompleteJob(ctx context.Context, id string, now time.Time) error
	RetryJob(ctx context.Context, id string, runAfter time.Time, errMsg string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

var ErrEmptyKey = errors.New("job key must not be empty")

// Queue is the enqueue side of the work queue.
type Queue struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewQueue returns a queue backed by repo.
func NewQueue(repo Repository) *Queue {
	return &Queue{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Enqueue schedules req. The returned bool is false when the policy kept an
// existing job; the returned Job is then the one already queued.
func (q *Queue) Enqueue(ctx context.Context, req Request, policy Policy) (Job, bool, error) {
	if req.Key == "" {
		return Job{}, false, ErrEmptyKey
	}
	now := q.now()
	job := Job{
		ID:          q.newID(),
		Key:         req.Key,
		Kind:        req.Kind,
		Payload:     req.Payload,
		Constraints: req.Constraints,
		Status:      StatusPending,
		RunAfter:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	stored, created, err := q.repo.InsertJob(ctx, job, policy)
	if err != nil {
		return Job{}, false, fmt.Errorf("enqueue %s: %w", req.Key, err)
	}
	return stored, created, nil
}
