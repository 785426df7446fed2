package indicator

import (
	"context"
	"errors"
	"sync"
)

// Backend is a connection to the external presentation surface. The manager
// never interprets why a call failed, only that it did.
type Backend interface {
	Connect(ctx context.Context) error
	UpdateColor(ctx context.Context, c Color) error
	Disconnect()
	Position() Position
	IsConnected() bool
}

// Factory builds a backend anchored at the given position. Position changes
// require a fresh backend; a live one cannot be moved.
type Factory func(Position) (Backend, error)

// MockBackend is an always-succeeding backend for headless systems and
// tests. Safe for concurrent use.
type MockBackend struct {
	mu        sync.Mutex
	position  Position
	connected bool
	lastColor *Color
}

// NewMockBackend returns a disconnected mock at the given position.
func NewMockBackend(position Position) *MockBackend {
	return &MockBackend{position: position}
}

func (m *MockBackend) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockBackend) UpdateColor(ctx context.Context, c Color) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.lastColor = &c
	return nil
}

func (m *MockBackend) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockBackend) Position() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *MockBackend) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// LastColor returns the most recently pushed color, or nil.
func (m *MockBackend) LastColor() *Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastColor
}

var errInjected = errors.New("injected backend failure")

// FailingBackend is a mock with injectable failures: Connect and UpdateColor
// can each be set to fail a number of times before succeeding. Call counters
// let tests assert how often the manager tried.
type FailingBackend struct {
	mu        sync.Mutex
	position  Position
	connected bool
	lastColor *Color

	connectFailures int
	updateFailures  int
	connectAttempts int
	updateAttempts  int
}

// NewFailingBackend returns a disconnected failure-injection backend.
func NewFailingBackend(position Position) *FailingBackend {
	return &FailingBackend{position: position}
}

// FailConnect makes the next n Connect calls fail.
func (f *FailingBackend) FailConnect(n int) *FailingBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectFailures = n
	return f
}

// FailUpdateColor makes the next n UpdateColor calls fail.
func (f *FailingBackend) FailUpdateColor(n int) *FailingBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateFailures = n
	return f
}

func (f *FailingBackend) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectAttempts++
	if f.connectFailures > 0 {
		f.connectFailures--
		return errInjected
	}
	f.connected = true
	return nil
}

func (f *FailingBackend) UpdateColor(ctx context.Context, c Color) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateAttempts++
	if f.updateFailures > 0 {
		f.updateFailures--
		return errInjected
	}
	f.lastColor = &c
	return nil
}

func (f *FailingBackend) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *FailingBackend) Position() Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *FailingBackend) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// ConnectAttempts returns how many times Connect was called.
func (f *FailingBackend) ConnectAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectAttempts
}

// UpdateAttempts returns how many times UpdateColor was called.
func (f *FailingBackend) UpdateAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateAttempts
}

// LastColor returns the most recently pushed color, or nil.
func (f *FailingBackend) LastColor() *Color {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastColor
}
