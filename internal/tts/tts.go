// Package tts coordinates a speech-synthesis backend with observable
// ready, speaking and muted state.
package tts

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pavelanni/ssbprep/internal/observable"
)

// EventKind identifies a backend event.
type EventKind int

const (
	EventReady EventKind = iota
	EventSpeechComplete
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventSpeechComplete:
		return "speech_complete"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is emitted by a backend. Message is set for EventError.
type Event struct {
	Kind    EventKind
	Message string
}

// Backend synthesises speech. Speak blocks until synthesis has been handed
// off or failed; completion is reported through Events.
type Backend interface {
	Events() <-chan Event
	Speak(ctx context.Context, text string) error
	Stop()
	Release()
}

type lifecycle int32

const (
	active lifecycle = iota
	released
)

// Manager wraps a Backend. All methods are safe for concurrent use.
type Manager struct {
	backend Backend
	state   atomic.Int32

	ready    *observable.Value[bool]
	speaking *observable.Value[bool]
	muted    *observable.Value[bool]

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	stopEvents context.CancelFunc
	// cancelUtterance aborts the most recent Speak, including one whose
	// goroutine has not reached the backend yet.
	cancelUtterance context.CancelFunc
	wg              sync.WaitGroup
}

// NewManager returns a manager that is not ready, not speaking and not muted.
func NewManager(backend Backend) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend:  backend,
		ready:    observable.NewValue(false),
		speaking: observable.NewValue(false),
		muted:    observable.NewValue(false),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *Manager) Ready() observable.Reader[bool]    { return m.ready }
func (m *Manager) Speaking() observable.Reader[bool] { return m.speaking }
func (m *Manager) Muted() observable.Reader[bool]    { return m.muted }

func (m *Manager) isReleased() bool { return lifecycle(m.state.Load()) == released }

// Initialize starts observing backend events until ctx is done or the
// manager is released. Calling it again replaces the previous observer.
func (m *Manager) Initialize(ctx context.Context) {
	if m.isReleased() {
		return
	}
	m.mu.Lock()
	if m.stopEvents != nil {
		m.stopEvents()
	}
	evCtx, stop := context.WithCancel(ctx)
	m.stopEvents = stop
	m.mu.Unlock()

	events := m.backend.Events()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-evCtx.Done():
				return
			case <-m.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				m.handleEvent(ev)
			}
		}
	}()
}

func (m *Manager) handleEvent(ev Event) {
	// Events queued before Release must not touch state afterwards.
	if m.isReleased() {
		return
	}
	switch ev.Kind {
	case EventReady:
		m.ready.Set(true)
	case EventSpeechComplete:
		m.speaking.Set(false)
	case EventError:
		slog.Warn("speech synthesis error", "component", "tts", "message", ev.Message)
		m.speaking.Set(false)
	}
}

// Speak asks the backend to read text aloud. It returns immediately; the
// call is a no-op when the manager is released or muted. Muting, Stop and
// Release cancel the utterance even if the backend has not been called yet.
func (m *Manager) Speak(text string) {
	m.mu.Lock()
	if m.isReleased() || m.muted.Get() {
		m.mu.Unlock()
		return
	}
	if m.cancelUtterance != nil {
		m.cancelUtterance()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelUtterance = cancel
	m.speaking.Set(true)
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		if ctx.Err() != nil || m.isReleased() {
			return
		}
		if err := m.backend.Speak(ctx, text); err != nil {
			if ctx.Err() == nil && !m.isReleased() {
				slog.Warn("speak failed", "component", "tts", "error", err)
				m.speaking.Set(false)
			}
		}
	}()
}

// interrupt cancels the pending utterance. Callers hold m.mu.
func (m *Manager) interrupt() {
	if m.cancelUtterance != nil {
		m.cancelUtterance()
		m.cancelUtterance = nil
	}
}

// ToggleMute flips the muted state. Muting stops any speech in progress.
// Unmuting with a non-nil question speaks it straight away.
func (m *Manager) ToggleMute(question *string) {
	m.mu.Lock()
	nowMuted := !m.muted.Get()
	m.muted.Set(nowMuted)
	if nowMuted {
		m.interrupt()
	}
	m.mu.Unlock()

	if nowMuted {
		m.backend.Stop()
		m.speaking.Set(false)
		return
	}
	if question != nil {
		m.Speak(*question)
	}
}

// Stop interrupts speech without changing the muted state.
func (m *Manager) Stop() {
	if m.isReleased() {
		return
	}
	m.mu.Lock()
	m.interrupt()
	m.mu.Unlock()
	m.backend.Stop()
	m.speaking.Set(false)
}

// Release tears the manager down. Later Speak calls and late events are
// ignored. It is safe to call more than once.
func (m *Manager) Release() {
	if !m.state.CompareAndSwap(int32(active), int32(released)) {
		return
	}
	m.mu.Lock()
	if m.stopEvents != nil {
		m.stopEvents()
	}
	m.interrupt()
	m.mu.Unlock()
	m.cancel()
	m.backend.Release()
	m.speaking.Set(false)
}

// Wait blocks until the event observer and in-flight Speak calls have returned.
func (m *Manager) Wait() { m.wg.Wait() }
