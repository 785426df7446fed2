package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastTuning compresses the production windows so tests finish quickly. The
// watchdog stays long so it never interferes unless a test wants it.
func fastTuning() Tuning {
	return Tuning{
		Debounce:     30 * time.Millisecond,
		Watchdog:     time.Hour,
		ErrorWindow:  10 * time.Second,
		MaxErrors:    5,
		MaxRestarts:  5,
		RestartBase:  2 * time.Millisecond,
		StableUptime: time.Hour,
	}
}

func newTestManager(t *testing.T, tuning Tuning) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auto_sleep_timeout_secs: 300\n"), 0o644))

	m, err := NewManager(path, tuning)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	// Give the watch loop time to register with fsnotify so that writes
	// made by the test body are not lost to the startup race.
	time.Sleep(100 * time.Millisecond)
	return m, path
}

func TestManagerLoadsInitialConfig(t *testing.T) {
	m, _ := newTestManager(t, fastTuning())
	assert.Equal(t, 300, m.Current().AutoSleepTimeoutSecs)
	assert.Equal(t, HealthHealthy, m.Health().State)
}

func TestManagerInitialDefaultsWhenFileMissing(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), fastTuning())
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, Default(), m.Current())
}

func TestReloadOnFileChange(t *testing.T) {
	m, path := newTestManager(t, fastTuning())
	sub := m.Subscribe()
	defer sub.Cancel()

	require.NoError(t, os.WriteFile(path, []byte("auto_sleep_timeout_secs: 600\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sub.Changed(ctx), "timed out waiting for config reload")

	assert.Equal(t, 600, sub.Value().AutoSleepTimeoutSecs)
	assert.Equal(t, 600, m.Current().AutoSleepTimeoutSecs)
}

func TestAtomicRenameTriggersReload(t *testing.T) {
	m, path := newTestManager(t, fastTuning())
	sub := m.Subscribe()
	defer sub.Cancel()

	// Editors write a temp file and rename it over the original.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("auto_sleep_timeout_secs: 999\n"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sub.Changed(ctx), "timed out waiting for reload after rename")
	assert.Equal(t, 999, sub.Value().AutoSleepTimeoutSecs)
}

func TestInvalidReloadKeepsLastGood(t *testing.T) {
	m, path := newTestManager(t, fastTuning())
	sub := m.Subscribe()
	defer sub.Cancel()

	require.NoError(t, os.WriteFile(path, []byte("{{ definitely not yaml"), 0o644))

	// Wait well past the debounce window: no publish may happen.
	time.Sleep(300 * time.Millisecond)
	assert.False(t, sub.HasChanged(), "invalid reload must not advance the change counter")
	assert.Equal(t, 300, m.Current().AutoSleepTimeoutSecs)
	assert.Equal(t, HealthHealthy, m.Health().State, "a bad reload is local, not fatal")
}

func TestDebounceCollapsesBursts(t *testing.T) {
	tuning := fastTuning()
	tuning.Debounce = 500 * time.Millisecond
	m, path := newTestManager(t, tuning)

	sub := m.Subscribe()
	defer sub.Cancel()

	publishes := 0
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer close(done)
		for {
			if err := sub.Changed(ctx); err != nil {
				return
			}
			_ = sub.Value()
			publishes++
		}
	}()

	// Five writes spaced 50ms apart fit inside one trailing 500ms window.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("auto_sleep_timeout_secs: 60\n"), 0o644))
		time.Sleep(50 * time.Millisecond)
	}

	time.Sleep(800 * time.Millisecond)
	cancel()
	<-done

	assert.LessOrEqual(t, publishes, 2, "burst of writes must collapse to at most two reloads")
	assert.GreaterOrEqual(t, publishes, 1, "the burst must produce at least one reload")
}

func TestWatchdogKillsStuckLoop(t *testing.T) {
	tuning := fastTuning()
	tuning.Watchdog = 120 * time.Millisecond
	m, path := newTestManager(t, tuning)

	sub := m.Subscribe()
	defer sub.Cancel()
	healthSub := m.HealthSubscribe()
	defer healthSub.Cancel()

	// First qualifying event arms the watchdog; silence afterwards kills
	// the loop and the supervisor reports the restart.
	require.NoError(t, os.WriteFile(path, []byte("auto_sleep_timeout_secs: 301\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, healthSub.Changed(ctx), "expected a health transition after watchdog expiry")

	h := healthSub.Value()
	assert.Equal(t, HealthRestarting, h.State)
	assert.Equal(t, 1, h.Attempt)
}

func TestZeroSubscribersIsFatalAndRetriesExhaust(t *testing.T) {
	m, path := newTestManager(t, fastTuning())

	// Only the health cell has a subscriber; every successful reload
	// publishes into the void and kills the loop.
	healthSub := m.HealthSubscribe()
	defer healthSub.Cancel()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = os.WriteFile(path, []byte("auto_sleep_timeout_secs: 42\n"), 0o644)
			}
		}
	}()
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var states []WatcherHealth
	for {
		require.NoError(t, healthSub.Changed(ctx), "health sequence did not complete: %v", states)
		h := healthSub.Value()
		states = append(states, h)
		if h.State == HealthFailed {
			break
		}
	}

	// Restart attempts grow monotonically up to the cap, then Failed.
	lastAttempt := 0
	for _, h := range states[:len(states)-1] {
		require.Equal(t, HealthRestarting, h.State)
		assert.Greater(t, h.Attempt, lastAttempt, "attempts must increase: %v", states)
		lastAttempt = h.Attempt
	}
	assert.Equal(t, 5, lastAttempt, "cap is five restart attempts: %v", states)
	assert.Equal(t, HealthFailed, states[len(states)-1].State)

	// Terminal: the last known-good snapshot is still served.
	assert.Equal(t, 42, m.Current().AutoSleepTimeoutSecs)
}

func TestStableUptimeResetsRetryCounter(t *testing.T) {
	tuning := fastTuning()
	tuning.StableUptime = 50 * time.Millisecond
	m, path := newTestManager(t, tuning)

	healthSub := m.HealthSubscribe()
	defer healthSub.Cancel()

	// Let the loop live past StableUptime, then kill it via the
	// zero-subscriber path (only health is subscribed).
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("auto_sleep_timeout_secs: 43\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, healthSub.Changed(ctx))
	h := healthSub.Value()
	assert.Equal(t, HealthHealthy, h.State, "death after stable uptime must reset to Healthy, got %v", h)
}

func TestRestartBackoffSequence(t *testing.T) {
	base := time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, restartBackoff(i+1, base), "attempt %d", i+1)
	}
	// Exponent caps at 2^5 for any further attempt.
	assert.Equal(t, 32*time.Second, restartBackoff(6, base))
	assert.Equal(t, 32*time.Second, restartBackoff(10, base))
}

func TestCloseSignalsSubscribers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auto_sleep_timeout_secs: 300\n"), 0o644))
	m, err := NewManager(path, fastTuning())
	require.NoError(t, err)

	sub := m.Subscribe()
	healthSub := m.HealthSubscribe()

	m.Close()
	assert.True(t, sub.Closed())
	assert.True(t, healthSub.Closed())
}

func TestErrorTrackerFatalRunOfFive(t *testing.T) {
	tr := errorTracker{window: 10 * time.Second}
	base := time.Now()
	for i := 1; i <= 5; i++ {
		assert.Equal(t, i, tr.record(base.Add(time.Duration(i)*time.Second)))
	}
}

func TestErrorTrackerFreshRunAfterQuietWindow(t *testing.T) {
	tr := errorTracker{window: 10 * time.Second}
	base := time.Now()
	tr.record(base)
	tr.record(base.Add(time.Second))
	tr.record(base.Add(2 * time.Second))

	// More than the window since the previous error starts a new run at 1.
	assert.Equal(t, 1, tr.record(base.Add(13*time.Second)))
	assert.Equal(t, 2, tr.record(base.Add(14*time.Second)))
}

func TestErrorTrackerResetClearsRun(t *testing.T) {
	tr := errorTracker{window: 10 * time.Second}
	base := time.Now()
	tr.record(base)
	tr.record(base.Add(time.Second))

	// A qualifying file event clears the run; the next error starts over.
	tr.reset()
	assert.Equal(t, 1, tr.record(base.Add(2*time.Second)))
}
