package natsbackend

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/indicatord/internal/indicator"
)

func TestColorUpdateWireFormat(t *testing.T) {
	u := ColorUpdate{
		SessionID: "s-1",
		Position:  indicator.BottomLeft.String(),
		Color:     indicator.ColorGreen.String(),
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"session_id":"s-1","position":"bottom-left","color":"#00ff00","timestamp":"2026-08-01T12:00:00Z"}`,
		string(data))
}

func TestUpdateColorRequiresConnection(t *testing.T) {
	b := New(DefaultConfig(), indicator.TopRight)
	err := b.UpdateColor(context.Background(), indicator.ColorRed)
	require.Error(t, err)
	assert.False(t, b.IsConnected())
}

func TestSessionIDsAreUniquePerBackend(t *testing.T) {
	a := New(DefaultConfig(), indicator.TopRight)
	b := New(DefaultConfig(), indicator.TopRight)
	assert.NotEqual(t, a.sessionID, b.sessionID)
	assert.NotEmpty(t, a.sessionID)
}

func TestFactoryBuildsAtRequestedPosition(t *testing.T) {
	factory := Factory(DefaultConfig())
	backend, err := factory(indicator.BottomRight)
	require.NoError(t, err)
	assert.Equal(t, indicator.BottomRight, backend.Position())
	assert.False(t, backend.IsConnected())
}

func TestDisconnectWithoutConnectIsSafe(t *testing.T) {
	b := New(DefaultConfig(), indicator.TopLeft)
	b.Disconnect()
	assert.False(t, b.IsConnected())
}
