// Package health reports the health of the synchronization services and the
// outward transports that carry their data.
package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360/billboard/pkg/syncstate"
)

// Pre-compiled regexes for error message sanitization
var (
	httpURLRegex     = regexp.MustCompile(`https?://[^\s]+`)
	brokerURLRegex   = regexp.MustCompile(`(?:nats|mqtts?|tcp|ssl)://[^\s]+`)
	wsURLRegex       = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
	bareTokenRegex   = regexp.MustCompile(`\bToken\s+\S+`)
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health of a service or of the whole process
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the transport counters behind a status
type Metrics struct {
	State             string    `json:"state,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts,omitempty"`
	LastConnected     time.Time `json:"last_connected,omitempty"`
	LastActivity      time.Time `json:"last_activity,omitempty"`
	DataAge           string    `json:"data_age,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy with subStatus appended
func (s Status) WithSubStatus(subStatus Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, subStatus)
	return s
}

// Sanitize strips URLs, paths, addresses and credentials from an error
// message before it is exposed on the health endpoints. Gateway tokens appear
// in MQTT errors, so "Token <raw>" is redacted as well.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}

	out := bareTokenRegex.ReplaceAllString(msg, "[REDACTED]")

	// URLs before paths, since URLs contain paths
	out = httpURLRegex.ReplaceAllString(out, "[URL]")
	out = brokerURLRegex.ReplaceAllString(out, "[URL]")
	out = wsURLRegex.ReplaceAllString(out, "[URL]")

	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = windowsPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			out = credentialRegex.ReplaceAllString(out, "[REDACTED]")
			break
		}
	}
	return out
}

// FromConnectionStatus maps a service's connection status onto a health
// status. Connected is healthy, Connecting and Reconnecting are degraded, and
// everything else is unhealthy. The error text is sanitized.
func FromConnectionStatus(name string, st syncstate.ConnectionStatus) Status {
	var s Status
	switch st.State {
	case syncstate.StateConnected:
		s = NewHealthy(name, "connected")
	case syncstate.StateConnecting:
		s = NewDegraded(name, "connecting")
	case syncstate.StateReconnecting:
		s = NewDegraded(name, fmt.Sprintf("reconnecting (attempt %d)", st.ReconnectAttempts))
	case syncstate.StateUninitialized:
		s = NewUnhealthy(name, "not initialized")
	default:
		s = NewUnhealthy(name, st.State.String())
	}
	if st.Error != "" {
		s.Message = s.Message + ": " + Sanitize(st.Error)
	}

	m := &Metrics{
		State:             st.State.String(),
		ReconnectAttempts: st.ReconnectAttempts,
	}
	if st.LastConnected != nil {
		m.LastConnected = *st.LastConnected
	}
	if st.LastMessage != nil {
		m.LastActivity = *st.LastMessage
	}
	return s.WithMetrics(m)
}

// WithDataAge downgrades a healthy status to degraded when the data it
// describes is older than maxAge. A zero lastUpdated means no data yet.
func WithDataAge(s Status, lastUpdated, now time.Time, maxAge time.Duration) Status {
	if s.Metrics == nil {
		s.Metrics = &Metrics{}
	} else {
		m := *s.Metrics
		s.Metrics = &m
	}
	if lastUpdated.IsZero() {
		if s.IsHealthy() {
			s.Status = StatusDegraded
			s.Healthy = false
			s.Message = s.Message + ", no data yet"
		}
		return s
	}

	age := now.Sub(lastUpdated)
	s.Metrics.DataAge = age.Truncate(time.Second).String()
	if s.IsHealthy() && maxAge > 0 && age > maxAge {
		s.Status = StatusDegraded
		s.Healthy = false
		s.Message = fmt.Sprintf("%s, data stale for %s", s.Message, age.Truncate(time.Second))
	}
	return s
}
