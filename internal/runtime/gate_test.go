package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/ian/internal/config"
)

func newTestGate(t *testing.T, handler http.HandlerFunc) *Gate {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGate(config.ControlConfig{
		APIURL:      srv.URL,
		APIKey:      "test-key",
		SyncEnabled: true,
		PollSeconds: 30,
	})
}

func TestGateDefaultsEnabled(t *testing.T) {
	g := NewGate(config.ControlConfig{})
	assert.True(t, g.Enabled(), "unconfigured gate must stay enabled")

	state := g.Refresh(context.Background())
	assert.True(t, state.Enabled)
	assert.Equal(t, "on", state.DesiredState)
}

func TestGateRefreshDisables(t *testing.T) {
	g := newTestGate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/master/ian-control", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"enabled": false, "desired_state": "off", "updated_at": "2026-01-05T08:00:00Z", "note": "maintenance"}`))
	})

	state := g.Refresh(context.Background())
	assert.False(t, state.Enabled)
	assert.Equal(t, "off", state.DesiredState)
	assert.Equal(t, "maintenance", state.Note)
	assert.False(t, g.Enabled())
}

func TestGateRefreshReenables(t *testing.T) {
	enabled := false
	g := newTestGate(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"enabled": enabled}))
	})

	g.Refresh(context.Background())
	require.False(t, g.Enabled())

	enabled = true
	g.Refresh(context.Background())
	assert.True(t, g.Enabled())
}

func TestGateRefreshMissingEnabledMeansOn(t *testing.T) {
	g := newTestGate(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"desired_state": "on"}`))
	})

	state := g.Refresh(context.Background())
	assert.True(t, state.Enabled)
}

func TestGateRefreshFailureKeepsLastState(t *testing.T) {
	fail := false
	g := newTestGate(t, func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"enabled": false}`))
	})

	g.Refresh(context.Background())
	require.False(t, g.Enabled())

	fail = true
	state := g.Refresh(context.Background())
	assert.False(t, state.Enabled, "transient failure must not flip the switch")
}

func TestGatePushHeartbeat(t *testing.T) {
	var got heartbeatBody
	g := newTestGate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/master/ian-heartbeat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	g.PushHeartbeat(context.Background(), "off")
	assert.Equal(t, "ian", got.AgentType)
	assert.Equal(t, "off", got.WorkState)
	assert.Equal(t, "offline", got.Status)
	assert.Equal(t, "runtime_control_poll", got.Metadata["source"])

	g.PushHeartbeat(context.Background(), "idle")
	assert.Equal(t, "online", got.Status)
}

func TestGateUnconfiguredSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	g := NewGate(config.ControlConfig{APIURL: srv.URL, SyncEnabled: false})
	g.Refresh(context.Background())
	g.PushHeartbeat(context.Background(), "idle")
	assert.False(t, called, "sync disabled must never hit the network")
	assert.True(t, g.Enabled())
}
