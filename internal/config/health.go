package config

import "fmt"

// HealthState enumerates the config watcher's supervision states.
type HealthState string

const (
	// HealthHealthy is both the initial state and the recovered state.
	HealthHealthy HealthState = "healthy"
	// HealthRestarting means the watch loop died and is being relaunched.
	HealthRestarting HealthState = "restarting"
	// HealthFailed is terminal: retries are exhausted, the manager keeps
	// serving its last known-good snapshot but will never self-heal.
	HealthFailed HealthState = "failed"
)

// WatcherHealth is the observable health of the config watch loop. Attempt
// is meaningful only while restarting; Reason only once failed.
type WatcherHealth struct {
	State   HealthState
	Attempt int
	Reason  string
}

// Healthy returns the healthy watcher state.
func Healthy() WatcherHealth { return WatcherHealth{State: HealthHealthy} }

// Restarting returns a restarting watcher state for the given attempt.
func Restarting(attempt int) WatcherHealth {
	return WatcherHealth{State: HealthRestarting, Attempt: attempt}
}

// Failed returns the terminal watcher state carrying its reason.
func Failed(reason string) WatcherHealth {
	return WatcherHealth{State: HealthFailed, Reason: reason}
}

func (h WatcherHealth) String() string {
	switch h.State {
	case HealthRestarting:
		return fmt.Sprintf("restarting(attempt=%d)", h.Attempt)
	case HealthFailed:
		return fmt.Sprintf("failed(%s)", h.Reason)
	default:
		return string(HealthHealthy)
	}
}
