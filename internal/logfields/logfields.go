package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyPath      = "path"
	KeyState     = "state"
	KeyReason    = "reason"
	KeyAttempt   = "attempt"
	KeyBackoff   = "backoff"
	KeyPosition  = "position"
	KeyColor     = "color"
	KeySessionID = "session_id"
	KeySubject   = "subject"
	KeyHealth    = "health"
	KeyError     = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func State(s string) slog.Attr          { return slog.String(KeyState, s) }
func Reason(r string) slog.Attr         { return slog.String(KeyReason, r) }
func Attempt(n int) slog.Attr           { return slog.Int(KeyAttempt, n) }
func Backoff(d time.Duration) slog.Attr { return slog.Duration(KeyBackoff, d) }
func Position(p string) slog.Attr       { return slog.String(KeyPosition, p) }
func Color(c string) slog.Attr          { return slog.String(KeyColor, c) }
func SessionID(id string) slog.Attr     { return slog.String(KeySessionID, id) }
func Subject(s string) slog.Attr        { return slog.String(KeySubject, s) }
func Health(h string) slog.Attr         { return slog.String(KeyHealth, h) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
