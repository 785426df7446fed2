package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/indicatord/internal/logfields"
	"git.home.luguber.info/inful/indicatord/internal/metrics"
	"git.home.luguber.info/inful/indicatord/internal/watch"
)

// Tuning holds the watch loop and supervisor timing constants. Production
// code uses DefaultTuning; tests compress the windows.
type Tuning struct {
	// Debounce is the trailing quiet window applied to bursts of file events.
	Debounce time.Duration
	// Watchdog is the inactivity window after which the watch loop is
	// declared stuck and rebuilt. It only arms once a first qualifying
	// event has been seen.
	Watchdog time.Duration
	// ErrorWindow is the gap after which the consecutive notification
	// error counter resets.
	ErrorWindow time.Duration
	// MaxErrors is the consecutive notification error count that kills the loop.
	MaxErrors int
	// MaxRestarts is the supervisor's retry cap before Failed.
	MaxRestarts int
	// RestartBase is the base of the supervisor's exponential backoff.
	RestartBase time.Duration
	// StableUptime is the loop uptime that resets the retry counter.
	StableUptime time.Duration
}

// DefaultTuning returns the production timing constants.
func DefaultTuning() Tuning {
	return Tuning{
		Debounce:     500 * time.Millisecond,
		Watchdog:     300 * time.Second,
		ErrorWindow:  10 * time.Second,
		MaxErrors:    5,
		MaxRestarts:  5,
		RestartBase:  time.Second,
		StableUptime: 60 * time.Second,
	}
}

// restartBackoff computes the supervisor's delay before relaunching the
// watch loop: base * 2^min(attempt, 5), i.e. 2s, 4s, 8s, 16s, 32s for
// attempts 1..5 at the default base.
func restartBackoff(attempt int, base time.Duration) time.Duration {
	exp := attempt
	if exp > 5 {
		exp = 5
	}
	return base * (1 << exp)
}

// errorTracker counts consecutive watcher notification errors. A quiet gap
// longer than window between two errors starts a fresh run, and a qualifying
// file event clears the run entirely.
type errorTracker struct {
	window time.Duration
	count  int
	lastAt time.Time
}

// record accounts for one notification error at now and returns the length
// of the current consecutive run.
func (t *errorTracker) record(now time.Time) int {
	if now.Sub(t.lastAt) > t.window {
		t.count = 0
	}
	t.count++
	t.lastAt = now
	return t.count
}

func (t *errorTracker) reset() { t.count = 0 }

// errNoSubscribers marks a publish into the void: with zero consumers there
// is nothing left to serve and no recovery.
var errNoSubscribers = errors.New("all configuration subscribers are gone")

// Manager owns the current configuration and the supervised watch loop that
// keeps it fresh. The published Configuration only ever moves forward to a
// complete, validated snapshot; a bad reload keeps the last good one.
type Manager struct {
	path     string
	tuning   Tuning
	recorder metrics.Recorder

	cfg    *watch.Cell[*Config]
	health *watch.Cell[WatcherHealth]

	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager loads the initial configuration (defaults when the file is
// missing or bad) and starts the supervised watch loop on the file's
// directory.
func NewManager(path string, tuning Tuning, opts ...Option) (*Manager, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	m := &Manager{
		path:     abs,
		tuning:   tuning,
		recorder: metrics.NoopRecorder{},
		cfg:      watch.NewCell(LoadOrDefault(abs)),
		health:   watch.NewCell(Healthy()),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.recorder.SetWatcherHealth(metrics.HealthHealthy)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.supervise(ctx)

	slog.Info("config manager started", logfields.Path(abs))
	return m, nil
}

// Close aborts the watch loop and closes both cells, signaling subscribers
// to shut down.
func (m *Manager) Close() {
	m.cancel()
	<-m.done
	m.cfg.Close()
	m.health.Close()
}

// Current returns the current configuration snapshot.
func (m *Manager) Current() *Config { return m.cfg.Get() }

// Subscribe returns a latest-value subscription to configuration changes.
func (m *Manager) Subscribe() *watch.Sub[*Config] { return m.cfg.Subscribe() }

// Health returns the current watcher health.
func (m *Manager) Health() WatcherHealth { return m.health.Get() }

// HealthSubscribe returns a latest-value subscription to health changes.
func (m *Manager) HealthSubscribe() *watch.Sub[WatcherHealth] { return m.health.Subscribe() }

// supervise relaunches the watch loop with exponential backoff. A loop that
// stays up for StableUptime earns back a clean slate; one that keeps dying
// burns through MaxRestarts attempts and then fails permanently.
func (m *Manager) supervise(ctx context.Context) {
	defer close(m.done)

	attempts := 0
	for {
		started := time.Now()
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) >= m.tuning.StableUptime {
			attempts = 0
			m.health.Set(Healthy())
			m.recorder.SetWatcherHealth(metrics.HealthHealthy)
			slog.Info("config watch loop died after stable uptime, relaunching",
				logfields.Error(err))
			continue
		}

		attempts++
		if attempts > m.tuning.MaxRestarts {
			reason := "unknown"
			if err != nil {
				reason = err.Error()
			}
			m.health.Set(Failed(reason))
			m.recorder.SetWatcherHealth(metrics.HealthFailed)
			slog.Error("config watch loop failed permanently, serving last known-good config",
				logfields.Error(err))
			return
		}

		delay := restartBackoff(attempts, m.tuning.RestartBase)
		m.health.Set(Restarting(attempts))
		m.recorder.SetWatcherHealth(metrics.HealthRestarting)
		m.recorder.IncWatcherRestart()
		slog.Warn("config watch loop died, restarting",
			logfields.Attempt(attempts), logfields.Backoff(delay), logfields.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// watchOnce runs one incarnation of the watch loop until it dies. Local
// failures (a bad reload) are absorbed; returning an error means the loop
// is beyond repair in place and must be rebuilt by the supervisor.
func (m *Manager) watchOnce(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory containing the config file (more reliable than
	// watching the file directly: editors replace files on save).
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}
	base := filepath.Base(m.path)
	slog.Debug("config watch loop started", logfields.Path(m.path))

	var (
		debounceC <-chan time.Time // nil while no reload is pending
		watchdogC <-chan time.Time // nil until the first qualifying event
	)
	errs := errorTracker{window: m.tuning.ErrorWindow}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("config file change detected", logfields.Path(event.Name))
			errs.reset()
			debounceC = time.After(m.tuning.Debounce)
			watchdogC = time.After(m.tuning.Watchdog)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			slog.Warn("config watcher notification error", logfields.Error(werr))
			if n := errs.record(time.Now()); n >= m.tuning.MaxErrors {
				return fmt.Errorf("%d consecutive watcher errors, last: %w", n, werr)
			}

		case <-debounceC:
			debounceC = nil
			cfg, lerr := Load(m.path)
			if lerr != nil {
				// Local recoverable failure: keep the last-known-good
				// snapshot and do not advance the change counter.
				m.recorder.IncConfigReload(false)
				slog.Warn("config reload failed, keeping last good config",
					logfields.Path(m.path), logfields.Error(lerr))
				continue
			}
			subs := m.cfg.Set(cfg)
			m.recorder.IncConfigReload(true)
			slog.Info("config reloaded", logfields.Path(m.path))
			if subs == 0 {
				return errNoSubscribers
			}
			watchdogC = time.After(m.tuning.Watchdog)

		case <-watchdogC:
			return fmt.Errorf("no filesystem events for %s, watcher appears stuck", m.tuning.Watchdog)
		}
	}
}
