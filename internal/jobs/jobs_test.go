package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory RunnerRepository.
type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemRepo() *memRepo { return &memRepo{jobs: make(map[string]*Job)} }

func (m *memRepo) InsertJob(_ context.Context, job Job, policy Policy) (Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Key != job.Key || !j.Active() {
			continue
		}
		if policy == KeepExisting || j.Status == StatusRunning {
			return *j, false, nil
		}
		j.Kind, j.Payload, j.Constraints, j.Attempts, j.RunAfter = job.Kind, job.Payload, job.Constraints, 0, job.RunAfter
		return *j, true, nil
	}
	c := job
	m.jobs[job.ID] = &c
	return job, true, nil
}

func (m *memRepo) ClaimNextJob(_ context.Context, now time.Time, online bool) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*Job
	for _, j := range m.jobs {
		if j.Status == StatusPending && !j.RunAfter.After(now) && (online || !j.Constraints.RequiresNetwork) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(a, b int) bool { return due[a].CreatedAt.Before(due[b].CreatedAt) })
	j := due[0]
	j.Status = StatusRunning
	j.Attempts++
	c := *j
	return &c, nil
}

func (m *memRepo) set(id string, fn func(j *Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return errors.New("no such job")
	}
	fn(j)
	return nil
}

func (m *memRepo) CompleteJob(_ context.Context, id string, _ time.Time) error {
	return m.set(id, func(j *Job) { j.Status = StatusSucceeded })
}

func (m *memRepo) RetryJob(_ context.Context, id string, runAfter time.Time, msg string) error {
	return m.set(id, func(j *Job) { j.Status, j.RunAfter, j.LastError = StatusPending, runAfter, msg })
}

func (m *memRepo) FailJob(_ context.Context, id string, msg string) error {
	return m.set(id, func(j *Job) { j.Status, j.LastError = StatusFailed, msg })
}

func (m *memRepo) ResetRunningJobs(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == StatusRunning {
			j.Status = StatusPending
			n++
		}
	}
	return n, nil
}

func (m *memRepo) get(id string) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

type probeFunc func() bool

func (p probeFunc) Online(context.Context) bool { return p() }

type failingHandler struct {
	err      error
	calls    int
	failures []error
}

func (h *failingHandler) Handle(context.Context, Job) error {
	h.calls++
	return h.err
}

func (h *failingHandler) OnFailure(_ context.Context, _ Job, err error) {
	h.failures = append(h.failures, err)
}

func TestEnqueueKeepExisting(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newMemRepo())
	req := Request{Key: "interview_analysis_s1", Kind: "interview_analysis", Payload: "s1",
		Constraints: Constraints{RequiresNetwork: true}}

	first, created, err := q.Enqueue(ctx, req, KeepExisting)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPending, first.Status)

	again, created, err := q.Enqueue(ctx, req, KeepExisting)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestEnqueueReplaceExisting(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(newMemRepo())
	first, _, err := q.Enqueue(ctx, Request{Key: "k", Kind: "a", Payload: "1"}, KeepExisting)
	require.NoError(t, err)

	replaced, created, err := q.Enqueue(ctx, Request{Key: "k", Kind: "a", Payload: "2"}, ReplaceExisting)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, replaced.ID)
	assert.Equal(t, "2", replaced.Payload)
}

func TestEnqueueRejectsEmptyKey(t *testing.T) {
	_, _, err := NewQueue(newMemRepo()).Enqueue(context.Background(), Request{Kind: "a"}, KeepExisting)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestRunOnceSuccess(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	job, _, err := NewQueue(repo).Enqueue(ctx, Request{Key: "k", Kind: "echo", Payload: "hello"}, KeepExisting)
	require.NoError(t, err)

	var got string
	r := NewRunner(repo, nil, RunnerConfig{})
	r.Register("echo", HandlerFunc(func(_ context.Context, j Job) error {
		got = j.Payload
		return nil
	}))

	processed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, "hello", got)
	assert.Equal(t, StatusSucceeded, repo.get(job.ID).Status)

	processed, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunOnceRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	job, _, err := NewQueue(repo).Enqueue(ctx, Request{Key: "k", Kind: "flaky"}, KeepExisting)
	require.NoError(t, err)

	h := &failingHandler{err: errors.New("upstream 503")}
	r := NewRunner(repo, nil, RunnerConfig{MaxAttempts: 2, Backoff: time.Minute})
	clock := time.Now().UTC()
	r.now = func() time.Time { return clock }
	r.Register("flaky", h)

	processed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	j := repo.get(job.ID)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, "upstream 503", j.LastError)
	assert.Empty(t, h.failures)

	// Not due until the backoff has passed.
	processed, _ = r.RunOnce(ctx)
	assert.False(t, processed)

	clock = clock.Add(2 * time.Minute)
	processed, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, StatusFailed, repo.get(job.ID).Status)
	assert.Equal(t, 2, h.calls)
	require.Len(t, h.failures, 1)
}

func TestRunOncePermanentError(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	job, _, err := NewQueue(repo).Enqueue(ctx, Request{Key: "k", Kind: "bad"}, KeepExisting)
	require.NoError(t, err)

	h := &failingHandler{err: Permanent(errors.New("session missing"))}
	r := NewRunner(repo, nil, RunnerConfig{MaxAttempts: 5})
	r.Register("bad", h)

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, repo.get(job.ID).Status)
	assert.Equal(t, 1, h.calls)
	require.Len(t, h.failures, 1)
	assert.True(t, IsPermanent(h.failures[0]))
}

func TestRunOnceRecoversPanic(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	job, _, err := NewQueue(repo).Enqueue(ctx, Request{Key: "k", Kind: "boom"}, KeepExisting)
	require.NoError(t, err)

	r := NewRunner(repo, nil, RunnerConfig{MaxAttempts: 1})
	r.Register("boom", HandlerFunc(func(context.Context, Job) error { panic("nil map") }))

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, repo.get(job.ID).Status)
	assert.Contains(t, repo.get(job.ID).LastError, "nil map")
}

func TestRunOnceUnknownKind(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	job, _, err := NewQueue(repo).Enqueue(ctx, Request{Key: "k", Kind: "nobody"}, KeepExisting)
	require.NoError(t, err)

	_, err = NewRunner(repo, nil, RunnerConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, repo.get(job.ID).Status)
}

func TestRunOnceWaitsForNetwork(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	_, _, err := NewQueue(repo).Enqueue(ctx, Request{Key: "k", Kind: "net",
		Constraints: Constraints{RequiresNetwork: true}}, KeepExisting)
	require.NoError(t, err)

	online := false
	calls := 0
	r := NewRunner(repo, probeFunc(func() bool { return online }), RunnerConfig{})
	r.Register("net", HandlerFunc(func(context.Context, Job) error { calls++; return nil }))

	processed, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	online = true
	processed, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, calls)
}

func TestClaimedJobIgnoresCallerCancellation(t *testing.T) {
	repo := newMemRepo()
	job, _, err := NewQueue(repo).Enqueue(context.Background(), Request{Key: "k", Kind: "slow"}, KeepExisting)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(repo, nil, RunnerConfig{})
	r.Register("slow", HandlerFunc(func(jobCtx context.Context, _ Job) error {
		cancel()
		return jobCtx.Err()
	}))

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, repo.get(job.ID).Status)
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	repo := newMemRepo()
	q := NewQueue(repo)
	for _, key := range []string{"a", "b", "c"} {
		_, _, err := q.Enqueue(context.Background(), Request{Key: key, Kind: "count"}, KeepExisting)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	done := make(chan struct{})
	seen := 0
	r := NewRunner(repo, AlwaysOnline{}, RunnerConfig{Workers: 2, FirstRunDelay: time.Millisecond, PollInterval: time.Millisecond})
	r.Register("count", HandlerFunc(func(context.Context, Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == 3 {
			close(done)
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not process jobs in time")
	}
	cancel()
	require.NoError(t, <-errc)
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "keep", KeepExisting.String())
	assert.Equal(t, "replace", ReplaceExisting.String())
}
