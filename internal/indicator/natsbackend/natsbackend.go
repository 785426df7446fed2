// Package natsbackend publishes indicator color updates to a NATS subject.
// It lets any subscriber render the indicator; the daemon itself stays
// headless.
package natsbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/indicatord/internal/indicator"
	"git.home.luguber.info/inful/indicatord/internal/logfields"
)

// Config locates the NATS server and subject for color updates.
type Config struct {
	URL     string
	Subject string
	Timeout time.Duration
}

// DefaultConfig returns the local-server defaults.
func DefaultConfig() Config {
	return Config{
		URL:     nats.DefaultURL,
		Subject: "indicatord.color",
		Timeout: 5 * time.Second,
	}
}

// ColorUpdate is the wire message published on every color change. The
// session id lets subscribers distinguish daemon restarts from reconnects.
type ColorUpdate struct {
	SessionID string    `json:"session_id"`
	Position  string    `json:"position"`
	Color     string    `json:"color"`
	Timestamp time.Time `json:"timestamp"`
}

// Backend is an indicator.Backend that renders by publishing. Reconnection
// is owned by the indicator manager, so NATS-level auto-reconnect is off: a
// dead connection must surface as a failed push.
type Backend struct {
	cfg       Config
	position  indicator.Position
	sessionID string

	mu   sync.Mutex
	conn *nats.Conn
}

// New returns a disconnected backend anchored at the given position.
func New(cfg Config, position indicator.Position) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Backend{
		cfg:       cfg,
		position:  position,
		sessionID: uuid.NewString(),
	}
}

// Factory adapts New to the indicator's backend factory signature.
func Factory(cfg Config) indicator.Factory {
	return func(position indicator.Position) (indicator.Backend, error) {
		return New(cfg, position), nil
	}
}

func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && !b.conn.IsClosed() {
		return nil
	}

	conn, err := nats.Connect(b.cfg.URL,
		nats.Name("indicatord"),
		nats.Timeout(b.cfg.Timeout),
		nats.NoReconnect(),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", b.cfg.URL, err)
	}

	b.conn = conn
	slog.Info("indicator NATS backend connected",
		logfields.Subject(b.cfg.Subject), logfields.SessionID(b.sessionID))
	return nil
}

func (b *Backend) UpdateColor(ctx context.Context, c indicator.Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("NATS backend is not connected")
	}

	update := ColorUpdate{
		SessionID: b.sessionID,
		Position:  b.position.String(),
		Color:     c.String(),
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal color update: %w", err)
	}

	if err := b.conn.Publish(b.cfg.Subject, data); err != nil {
		return fmt.Errorf("failed to publish color update: %w", err)
	}
	// Flush so a dead server surfaces here instead of silently dropping
	// the update; the manager's health check relies on that.
	if err := b.conn.FlushTimeout(b.cfg.Timeout); err != nil {
		return fmt.Errorf("failed to flush color update: %w", err)
	}

	slog.Debug("indicator color published",
		logfields.Subject(b.cfg.Subject), logfields.Color(c.String()))
	return nil
}

func (b *Backend) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	b.conn = nil
	slog.Debug("indicator NATS backend disconnected", logfields.SessionID(b.sessionID))
}

func (b *Backend) Position() indicator.Position { return b.position }

func (b *Backend) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
