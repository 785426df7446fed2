package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/indicatord/internal/activation"
	"git.home.luguber.info/inful/indicatord/internal/config"
	"git.home.luguber.info/inful/indicatord/internal/logfields"
	"git.home.luguber.info/inful/indicatord/internal/metrics"
	"git.home.luguber.info/inful/indicatord/internal/watch"
)

// ConfigSource is the slice of the config manager the indicator needs.
type ConfigSource interface {
	Current() *config.Config
	Subscribe() *watch.Sub[*config.Config]
	HealthSubscribe() *watch.Sub[config.WatcherHealth]
}

// ActivationSource is the slice of the activation manager the indicator needs.
type ActivationSource interface {
	CurrentState() activation.State
	Subscribe() *watch.Sub[activation.Event]
}

// Ticks holds the reconcile loop's timer intervals. Production code uses
// DefaultTicks; tests compress them.
type Ticks struct {
	// HealthCheck is how often the current color is re-pushed to a
	// connected backend to detect a silently dead one.
	HealthCheck time.Duration
	// Reconnect is how often a disconnected manager checks whether the
	// reconnection backoff has elapsed.
	Reconnect time.Duration
}

// DefaultTicks returns the production intervals.
func DefaultTicks() Ticks {
	return Ticks{HealthCheck: 2 * time.Second, Reconnect: time.Second}
}

// Manager reconciles activation state, configuration, and config-watcher
// health into color updates against a presentation backend. The backend
// handle is owned exclusively by the reconcile loop; the render and
// reconnection state are guarded for the synchronous query methods.
type Manager struct {
	factory  Factory
	ticks    Ticks
	recorder metrics.Recorder

	mu     sync.Mutex
	render RenderState
	recon  ReconnectionState

	cfgSub    *watch.Sub[*config.Config]
	actSub    *watch.Sub[activation.Event]
	healthSub *watch.Sub[config.WatcherHealth]

	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager resolves the initial render state from the current config and
// activation state, subscribes to all three upstream channels and starts the
// reconcile loop, which immediately attempts the first backend connection.
func NewManager(cfgSrc ConfigSource, actSrc ActivationSource, factory Factory, ticks Ticks, opts ...Option) *Manager {
	m := &Manager{
		factory:   factory,
		ticks:     ticks,
		recorder:  metrics.NoopRecorder{},
		render:    NewRenderState(actSrc.CurrentState(), cfgSrc.Current().Indicator),
		recon:     NewReconnectionState(),
		cfgSub:    cfgSrc.Subscribe(),
		actSub:    actSrc.Subscribe(),
		healthSub: cfgSrc.HealthSubscribe(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
	return m
}

// Close aborts the reconcile loop, waits for it to release the backend and
// drops the upstream subscriptions.
func (m *Manager) Close() {
	m.cancel()
	<-m.done
	m.cfgSub.Cancel()
	m.actSub.Cancel()
	m.healthSub.Cancel()
}

// CurrentState returns a copy of the resolved render state.
func (m *Manager) CurrentState() RenderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.render
}

// HasError reports whether the error flag is currently set.
func (m *Manager) HasError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.render.HasError
}

// ReconnectionStatus returns a snapshot of the reconnection diagnostics.
func (m *Manager) ReconnectionStatus() ReconnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recon.Snapshot()
}

func (m *Manager) setError(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.render.HasError = on
}

func (m *Manager) currentColor() Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.render.CurrentColor()
}

func (m *Manager) position() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.render.Position
}

// link is the reconcile loop's private view of the backend: the handle
// itself (nil while disconnected) and the last color known to be shown.
type link struct {
	backend   Backend
	lastColor *Color
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ln := &link{}
	defer func() {
		if ln.backend != nil {
			ln.backend.Disconnect()
			m.recorder.SetBackendConnected(false)
			slog.Debug("indicator backend disconnected on shutdown")
		}
	}()

	m.connect(ctx, ln, m.position())

	healthTick := time.NewTicker(m.ticks.HealthCheck)
	defer healthTick.Stop()
	reconnectTick := time.NewTicker(m.ticks.Reconnect)
	defer reconnectTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-healthTick.C:
			m.pushCurrent(ctx, ln, true, true)

		case <-m.cfgSub.Notify():
			if !m.cfgSub.HasChanged() {
				slog.Info("config channel closed, indicator shutting down")
				return
			}
			m.onConfigChange(ctx, ln, m.cfgSub.Value().Indicator)

		case <-m.actSub.Notify():
			if !m.actSub.HasChanged() {
				slog.Info("activation channel closed, indicator shutting down")
				return
			}
			m.onActivationChange(ctx, ln, m.actSub.Value())

		case <-m.healthSub.Notify():
			if !m.healthSub.HasChanged() {
				slog.Info("config health channel closed, indicator shutting down")
				return
			}
			m.onWatcherHealth(ctx, ln, m.healthSub.Value())

		case <-reconnectTick.C:
			m.onReconnectTick(ctx, ln)
		}
	}
}

// pushCurrent pushes the resolved color to a connected backend. On failure
// it immediately retries once with the error color; if that also fails the
// handle is dropped and, when recordFailure is set, a reconnection failure
// is recorded. A successful push clears the error flag and, when
// resetOnSuccess is set, resets the reconnection backoff. Disconnected is a
// no-op.
func (m *Manager) pushCurrent(ctx context.Context, ln *link, recordFailure, resetOnSuccess bool) {
	if ln.backend == nil {
		return
	}
	color := m.currentColor()

	if err := ln.backend.UpdateColor(ctx, color); err != nil {
		slog.Warn("indicator color push failed", logfields.Color(color.String()), logfields.Error(err))
		m.recorder.IncColorPush(false)
		m.setError(true)

		errColor := m.currentColor()
		if err := ln.backend.UpdateColor(ctx, errColor); err != nil {
			slog.Warn("indicator error-color push failed, dropping backend", logfields.Error(err))
			m.recorder.IncColorPush(false)
			ln.backend.Disconnect()
			ln.backend = nil
			m.recorder.SetBackendConnected(false)
			if recordFailure {
				m.mu.Lock()
				backoff := m.recon.RecordFailure()
				m.mu.Unlock()
				m.recorder.ObserveReconnectBackoff(backoff)
			}
			return
		}
		ln.lastColor = &errColor
		m.recorder.IncColorPush(true)
		return
	}

	ln.lastColor = &color
	m.recorder.IncColorPush(true)
	m.setError(false)
	if resetOnSuccess {
		m.mu.Lock()
		m.recon.Reset()
		m.mu.Unlock()
	}
}

// connect builds a fresh backend at the given position, connects it and
// pushes the initial color. Any failure records a reconnection attempt and
// sets the error flag.
func (m *Manager) connect(ctx context.Context, ln *link, position Position) {
	backend, err := m.factory(position)
	if err != nil {
		slog.Warn("indicator backend creation failed",
			logfields.Position(position.String()), logfields.Error(err))
		m.recordConnectFailure()
		return
	}

	if err := backend.Connect(ctx); err != nil {
		slog.Warn("indicator backend connect failed",
			logfields.Position(position.String()), logfields.Error(err))
		m.recordConnectFailure()
		return
	}

	slog.Info("indicator backend connected", logfields.Position(position.String()))
	m.recorder.IncBackendConnect(true)
	m.recorder.SetBackendConnected(true)
	m.setError(false)
	ln.backend = backend

	m.pushCurrent(ctx, ln, true, true)
}

func (m *Manager) recordConnectFailure() {
	m.recorder.IncBackendConnect(false)
	m.setError(true)
	m.mu.Lock()
	backoff := m.recon.RecordFailure()
	m.mu.Unlock()
	m.recorder.ObserveReconnectBackoff(backoff)
}

// onConfigChange re-resolves colors and position. A position change cannot
// be applied to a live backend, so the connection is dropped and rebuilt at
// the new corner; otherwise the new color is pushed in place.
func (m *Manager) onConfigChange(ctx context.Context, ln *link, cfg config.IndicatorConfig) {
	m.mu.Lock()
	m.render.ApplyConfig(cfg)
	newPosition := m.render.Position
	m.mu.Unlock()
	slog.Info("indicator config updated", logfields.Position(newPosition.String()))

	if ln.backend != nil && ln.backend.Position() != newPosition {
		slog.Info("indicator position changed, reconnecting",
			logfields.Position(newPosition.String()))
		ln.backend.Disconnect()
		ln.backend = nil
		m.recorder.SetBackendConnected(false)
		m.connect(ctx, ln, newPosition)
		return
	}

	m.pushCurrent(ctx, ln, false, false)
}

// onActivationChange pushes the new state's color, but only if it actually
// differs from the last pushed one.
func (m *Manager) onActivationChange(ctx context.Context, ln *link, ev activation.Event) {
	m.mu.Lock()
	m.render.State = ev.State
	m.mu.Unlock()
	slog.Debug("indicator activation state changed",
		logfields.State(ev.State.String()), logfields.Reason(ev.Reason.String()))

	color := m.currentColor()
	if ln.lastColor != nil && *ln.lastColor == color {
		return
	}
	m.pushCurrent(ctx, ln, true, true)
}

// onWatcherHealth forces the error flag on while the config watcher is
// restarting or failed, then pushes so the trouble is visible even when the
// backend itself is fine. Healthy clears nothing by itself; only a
// successful color push does.
func (m *Manager) onWatcherHealth(ctx context.Context, ln *link, h config.WatcherHealth) {
	switch h.State {
	case config.HealthHealthy:
		slog.Info("config watcher healthy")
	case config.HealthRestarting:
		slog.Warn("config watcher restarting, showing error color", logfields.Attempt(h.Attempt))
		m.setError(true)
		m.pushCurrent(ctx, ln, true, true)
	case config.HealthFailed:
		slog.Error("config watcher failed, showing error color", logfields.Reason(h.Reason))
		m.setError(true)
		m.pushCurrent(ctx, ln, true, true)
	}
}

// onReconnectTick attempts a fresh connection if disconnected and the
// backoff since the last attempt has elapsed.
func (m *Manager) onReconnectTick(ctx context.Context, ln *link) {
	if ln.backend != nil {
		return
	}
	m.mu.Lock()
	retry := m.recon.ShouldRetry()
	m.mu.Unlock()
	if !retry {
		return
	}
	m.connect(ctx, ln, m.position())
}
