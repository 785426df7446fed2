// Package activation owns the Asleep/Awake state machine and the
// auto-sleep inactivity timer. State changes are published as
// (state, reason) pairs on a latest-value cell; subscribers never see
// intermediate transitions, only the newest.
package activation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/indicatord/internal/logfields"
	"git.home.luguber.info/inful/indicatord/internal/watch"
)

// State is the activation state of the system.
type State int

const (
	// StateAsleep means the system only listens for the wake word.
	StateAsleep State = iota
	// StateAwake means the system is processing commands and dictation.
	StateAwake
)

func (s State) String() string {
	if s == StateAwake {
		return "awake"
	}
	return "asleep"
}

// Reason tags why the last state change happened.
type Reason int

const (
	// ReasonWakeWord marks a transition triggered by wake word detection.
	ReasonWakeWord Reason = iota
	// ReasonSleepCommand marks an explicit sleep request.
	ReasonSleepCommand
	// ReasonInactivityTimeout marks an auto-sleep after idle time.
	ReasonInactivityTimeout
)

func (r Reason) String() string {
	switch r {
	case ReasonSleepCommand:
		return "sleep_command"
	case ReasonInactivityTimeout:
		return "inactivity_timeout"
	default:
		return "wake_word"
	}
}

// Event pairs a state with the reason it was entered.
type Event struct {
	State  State
	Reason Reason
}

// Manager owns the activation state and the auto-sleep timer. All operations
// are idempotent state transitions; none of them can fail.
type Manager struct {
	mu    sync.Mutex
	state State

	timeoutNanos   atomic.Int64
	events         *watch.Cell[Event]
	activity       chan struct{}
	timeoutChanged chan struct{}
	armed          chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager in the Asleep state with the given auto-sleep
// timeout and starts the inactivity timer goroutine.
func New(timeout time.Duration) *Manager {
	m := &Manager{
		state:          StateAsleep,
		events:         watch.NewCell(Event{State: StateAsleep, Reason: ReasonWakeWord}),
		activity:       make(chan struct{}, 1),
		timeoutChanged: make(chan struct{}, 1),
		armed:          make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	m.timeoutNanos.Store(int64(timeout))

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.timerLoop(ctx)

	slog.Info("activation manager initialized", slog.Duration("auto_sleep_timeout", timeout))
	return m
}

// Close stops the timer goroutine and closes the event cell, signaling
// subscribers to shut down.
func (m *Manager) Close() {
	m.cancel()
	<-m.done
	m.events.Close()
}

// Subscribe returns a latest-value subscription to (state, reason) changes.
func (m *Manager) Subscribe() *watch.Sub[Event] {
	return m.events.Subscribe()
}

// CurrentState returns the current activation state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Wake transitions Asleep -> Awake and arms the inactivity timer. A wake
// while already Awake changes nothing and publishes nothing.
func (m *Manager) Wake() {
	m.mu.Lock()
	if m.state == StateAwake {
		m.mu.Unlock()
		return
	}
	m.state = StateAwake
	m.mu.Unlock()

	m.events.Set(Event{State: StateAwake, Reason: ReasonWakeWord})
	slog.Info("state transition", logfields.State("awake"), logfields.Reason(ReasonWakeWord.String()))
	signal(m.armed)
}

// Sleep transitions Awake -> Asleep via an explicit command. A sleep while
// already Asleep changes nothing and publishes nothing.
func (m *Manager) Sleep() {
	m.mu.Lock()
	if m.state == StateAsleep {
		m.mu.Unlock()
		return
	}
	m.state = StateAsleep
	m.mu.Unlock()

	m.events.Set(Event{State: StateAsleep, Reason: ReasonSleepCommand})
	slog.Info("state transition", logfields.State("asleep"), logfields.Reason(ReasonSleepCommand.String()))
	// Nudge the timer loop so it disarms promptly instead of waiting out
	// the remaining idle window.
	signal(m.activity)
}

// NotifyActivity resets the inactivity timer while Awake. While Asleep it is
// a no-op: activity never wakes the system by itself.
func (m *Manager) NotifyActivity() {
	slog.Debug("activity heartbeat received")
	signal(m.activity)
}

// OnCommandActivity reports activity from the command subsystem.
func (m *Manager) OnCommandActivity() { m.NotifyActivity() }

// OnDictationActivity reports activity from the dictation subsystem.
func (m *Manager) OnDictationActivity() { m.NotifyActivity() }

// SetTimeout replaces the auto-sleep timeout. The running timer re-measures
// its expiry from the last activity using the new value: shortening can
// cause near-immediate sleep, lengthening extends the current idle window.
// No state is published.
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeoutNanos.Store(int64(timeout))
	slog.Debug("auto-sleep timeout updated", slog.Duration("timeout", timeout))
	signal(m.timeoutChanged)
}

func (m *Manager) timeout() time.Duration {
	return time.Duration(m.timeoutNanos.Load())
}

// timeoutToAsleep performs the Awake -> Asleep transition on timer expiry.
// Returns false if the state already changed under us.
func (m *Manager) timeoutToAsleep() bool {
	m.mu.Lock()
	if m.state != StateAwake {
		m.mu.Unlock()
		return false
	}
	m.state = StateAsleep
	m.mu.Unlock()

	m.events.Set(Event{State: StateAsleep, Reason: ReasonInactivityTimeout})
	slog.Info("state transition", logfields.State("asleep"), logfields.Reason(ReasonInactivityTimeout.String()))
	return true
}

// timerLoop is the single background task of the manager. It is armed only
// while Awake: each iteration waits for a wake, then races timer expiry
// against activity signals and timeout changes until the system goes back
// to sleep.
func (m *Manager) timerLoop(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.armed:
		}

		slog.Debug("inactivity timer armed")
		lastActivity := time.Now()
		timer := time.NewTimer(m.timeout())

	armed:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				m.timeoutToAsleep()
				break armed
			case <-m.activity:
				if m.CurrentState() == StateAsleep {
					break armed
				}
				lastActivity = time.Now()
				resetTimer(timer, m.timeout())
			case <-m.timeoutChanged:
				if m.CurrentState() == StateAsleep {
					break armed
				}
				// The new timeout is measured from the last activity,
				// so shortening below the idle time already spent
				// expires the timer right away.
				remaining := m.timeout() - time.Since(lastActivity)
				if remaining < 0 {
					remaining = 0
				}
				resetTimer(timer, remaining)
			}
		}
		timer.Stop()
		slog.Debug("inactivity timer disarmed")
	}
}

// signal performs a non-blocking send; a pending signal already queued is
// equivalent, so the send coalesces.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// resetTimer drains and restarts an armed timer.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
