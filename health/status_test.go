package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/billboard/pkg/syncstate"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"unix path", "failed to open /var/lib/billboard/logos/a.png", "failed to open [PATH]"},
		{"windows path", "cannot read C:\\Users\\Admin\\config.json", "cannot read [PATH]"},
		{"http url", "fetch failed: https://api.open-meteo.com/v1/forecast", "fetch failed: [URL]"},
		{"mqtt url", "dial mqtt://mqtt1.eoh.io:1883 refused", "dial [URL] refused"},
		{"tcp url", "dial tcp://10.0.0.1:1883 refused", "dial [URL] refused"},
		{"ip", "timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"port", "failed to bind to :8080", "failed to bind to [PORT]"},
		{"credential", "auth failed with password:hunter2", "auth failed with [REDACTED]"},
		{"gateway token", "not authorized for Token abc123", "not authorized for [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.input))
		})
	}
}

func TestFromConnectionStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status syncstate.ConnectionStatus
		want   string
	}{
		{"connected", syncstate.ConnectionStatus{State: syncstate.StateConnected, Connected: true, LastConnected: &now}, StatusHealthy},
		{"connecting", syncstate.ConnectionStatus{State: syncstate.StateConnecting}, StatusDegraded},
		{"reconnecting", syncstate.ConnectionStatus{State: syncstate.StateReconnecting, ReconnectAttempts: 2}, StatusDegraded},
		{"uninitialized", syncstate.ConnectionStatus{}, StatusUnhealthy},
		{"error", syncstate.ConnectionStatus{State: syncstate.StateError, Error: "bad token"}, StatusUnhealthy},
		{"disconnected", syncstate.ConnectionStatus{State: syncstate.StateDisconnected}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromConnectionStatus("iot", tt.status)
			assert.Equal(t, "iot", s.Component)
			assert.Equal(t, tt.want, s.Status)
			assert.Equal(t, tt.want == StatusHealthy, s.Healthy)
			require.NotNil(t, s.Metrics)
			assert.Equal(t, tt.status.State.String(), s.Metrics.State)
		})
	}

	s := FromConnectionStatus("iot", syncstate.ConnectionStatus{
		State: syncstate.StateReconnecting,
		Error: "dial tcp://10.0.0.1:1883: connection refused",
	})
	assert.Contains(t, s.Message, "[URL]")
	assert.NotContains(t, s.Message, "10.0.0.1")
}

func TestWithDataAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	healthy := NewHealthy("weather", "connected")

	fresh := WithDataAge(healthy, now.Add(-time.Minute), now, 10*time.Minute)
	assert.True(t, fresh.IsHealthy())
	assert.Equal(t, "1m0s", fresh.Metrics.DataAge)

	stale := WithDataAge(healthy, now.Add(-time.Hour), now, 10*time.Minute)
	assert.True(t, stale.IsDegraded())
	assert.Contains(t, stale.Message, "stale")

	empty := WithDataAge(healthy, time.Time{}, now, 10*time.Minute)
	assert.True(t, empty.IsDegraded())

	unhealthy := WithDataAge(NewUnhealthy("weather", "error"), now.Add(-time.Hour), now, time.Minute)
	assert.True(t, unhealthy.IsUnhealthy())
}

func TestWithSubStatus_DoesNotShareBacking(t *testing.T) {
	base := NewHealthy("system", "ok")
	a := base.WithSubStatus(NewHealthy("a", "ok"))
	b := base.WithSubStatus(NewDegraded("b", "slow"))

	assert.Len(t, base.SubStatuses, 0)
	require.Len(t, a.SubStatuses, 1)
	require.Len(t, b.SubStatuses, 1)
	assert.Equal(t, "a", a.SubStatuses[0].Component)
	assert.Equal(t, "b", b.SubStatuses[0].Component)
}

func TestAggregate(t *testing.T) {
	assert.True(t, Aggregate("system", nil).IsHealthy())

	all := Aggregate("system", []Status{NewHealthy("a", ""), NewHealthy("b", "")})
	assert.True(t, all.IsHealthy())
	assert.Len(t, all.SubStatuses, 2)

	deg := Aggregate("system", []Status{NewHealthy("a", ""), NewDegraded("b", "")})
	assert.True(t, deg.IsDegraded())
	assert.Equal(t, "1 service is degraded", deg.Message)

	bad := Aggregate("system", []Status{NewUnhealthy("a", ""), NewDegraded("b", ""), NewUnhealthy("c", "")})
	assert.True(t, bad.IsUnhealthy())
	assert.Equal(t, "2 services are unhealthy", bad.Message)
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	state := StatusHealthy
	m.Register("iot", func() Status { return newStatus("ignored", state, "probe") })
	m.UpdateDegraded("nats", "reconnecting")

	assert.Equal(t, []string{"iot", "nats"}, m.Names())
	assert.Equal(t, 2, m.Count())

	s, ok := m.Get("iot")
	require.True(t, ok)
	assert.Equal(t, "iot", s.Component)
	assert.True(t, s.IsHealthy())

	assert.True(t, m.AggregateHealth("billboard").IsDegraded())

	state = StatusUnhealthy
	assert.True(t, m.AggregateHealth("billboard").IsUnhealthy())

	m.Remove("iot")
	m.UpdateHealthy("nats", "connected")
	assert.True(t, m.AggregateHealth("billboard").IsHealthy())

	m.Clear()
	assert.Equal(t, 0, m.Count())
	_, ok = m.Get("nats")
	assert.False(t, ok)
}

func TestMonitor_ProbePanic(t *testing.T) {
	m := NewMonitor()
	m.Register("boom", func() Status { panic(errors.New("nil snapshot")) })

	s, ok := m.Get("boom")
	require.True(t, ok)
	assert.True(t, s.IsUnhealthy())
	assert.Len(t, m.GetAll(), 1)
}
