package indicator

import (
	"time"

	"git.home.luguber.info/inful/indicatord/internal/activation"
	"git.home.luguber.info/inful/indicatord/internal/config"
)

// RenderState is the resolved view of what the indicator should show right
// now: activation state, error flag, and the colors and position parsed from
// the latest configuration.
type RenderState struct {
	State    activation.State
	HasError bool

	AwakeColor  Color
	AsleepColor Color
	ErrorColor  Color
	Position    Position
}

// NewRenderState resolves a render state from the current activation state
// and indicator configuration. Unparseable colors and positions fall back to
// the defaults so the indicator can always start.
func NewRenderState(state activation.State, cfg config.IndicatorConfig) RenderState {
	return RenderState{
		State:       state,
		AwakeColor:  ParseColorOr(cfg.AwakeColor, ColorGreen),
		AsleepColor: ParseColorOr(cfg.AsleepColor, ColorGray),
		ErrorColor:  ParseColorOr(cfg.ErrorColor, ColorRed),
		Position:    ParsePositionOr(cfg.Position, TopRight),
	}
}

// ApplyConfig re-resolves colors and position from a new configuration,
// keeping the activation state and error flag.
func (r *RenderState) ApplyConfig(cfg config.IndicatorConfig) {
	r.AwakeColor = ParseColorOr(cfg.AwakeColor, ColorGreen)
	r.AsleepColor = ParseColorOr(cfg.AsleepColor, ColorGray)
	r.ErrorColor = ParseColorOr(cfg.ErrorColor, ColorRed)
	r.Position = ParsePositionOr(cfg.Position, TopRight)
}

// CurrentColor returns the color the indicator should show: the error color
// whenever the error flag is set, otherwise the state-appropriate one.
func (r RenderState) CurrentColor() Color {
	if r.HasError {
		return r.ErrorColor
	}
	if r.State == activation.StateAwake {
		return r.AwakeColor
	}
	return r.AsleepColor
}

// ReconnectionState tracks failed backend connection attempts and derives
// the exponential backoff before the next retry. Not safe for concurrent
// use; the owner guards it.
type ReconnectionState struct {
	attempts    int
	lastAttempt time.Time
}

// NewReconnectionState returns a fresh state with zero attempts.
func NewReconnectionState() ReconnectionState {
	return ReconnectionState{lastAttempt: time.Now()}
}

// NextBackoff returns the wait before the next attempt: 1s, 2s, 4s, 8s, 16s,
// then capped at 30s.
func (r *ReconnectionState) NextBackoff() time.Duration {
	exp := r.attempts - 1
	if exp < 0 {
		exp = 0
	}
	if exp > 5 {
		exp = 5
	}
	backoff := time.Second * (1 << exp)
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// RecordFailure counts a failed attempt and returns the backoff before the
// next one.
func (r *ReconnectionState) RecordFailure() time.Duration {
	r.attempts++
	r.lastAttempt = time.Now()
	return r.NextBackoff()
}

// Reset clears the counter after a successful connect and color push.
func (r *ReconnectionState) Reset() {
	r.attempts = 0
	r.lastAttempt = time.Now()
}

// ShouldRetry reports whether the backoff since the last attempt has elapsed.
func (r *ReconnectionState) ShouldRetry() bool {
	return time.Since(r.lastAttempt) >= r.NextBackoff()
}

// ReconnectionStatus is a read-only snapshot for monitoring.
type ReconnectionStatus struct {
	Attempts     int           `json:"attempts"`
	Elapsed      time.Duration `json:"elapsed"`
	NextBackoff  time.Duration `json:"next_backoff"`
	ReadyToRetry bool          `json:"ready_to_retry"`
}

// Snapshot returns the current reconnection diagnostics.
func (r *ReconnectionState) Snapshot() ReconnectionStatus {
	return ReconnectionStatus{
		Attempts:     r.attempts,
		Elapsed:      time.Since(r.lastAttempt),
		NextBackoff:  r.NextBackoff(),
		ReadyToRetry: r.ShouldRetry(),
	}
}
