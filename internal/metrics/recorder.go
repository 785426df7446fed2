// Package metrics defines observability hooks for the supervisors. Core
// components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics stay optional and the core never links a registry.
package metrics

import "time"

// HealthLabel enumerates watcher health states for the health gauge.
type HealthLabel string

const (
	HealthHealthy    HealthLabel = "healthy"
	HealthRestarting HealthLabel = "restarting"
	HealthFailed     HealthLabel = "failed"
)

// Recorder defines observability hooks for configuration reloads, watcher
// supervision and presentation backend activity. Implementations may forward
// to Prometheus, OpenTelemetry, etc.
type Recorder interface {
	IncConfigReload(success bool)
	IncWatcherRestart()
	SetWatcherHealth(h HealthLabel)
	IncBackendConnect(success bool)
	IncColorPush(success bool)
	SetBackendConnected(connected bool)
	ObserveReconnectBackoff(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncConfigReload(bool)                  {}
func (NoopRecorder) IncWatcherRestart()                    {}
func (NoopRecorder) SetWatcherHealth(HealthLabel)          {}
func (NoopRecorder) IncBackendConnect(bool)                {}
func (NoopRecorder) IncColorPush(bool)                     {}
func (NoopRecorder) SetBackendConnected(bool)              {}
func (NoopRecorder) ObserveReconnectBackoff(time.Duration) {}
