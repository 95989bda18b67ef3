package iot

import (
	"maps"
	"slices"
	"time"

	"github.com/c360/billboard/input/mqtt"
)

// Config holds the IoT service configuration
type Config struct {
	AuthToken string `json:"auth_token"`
	BrokerURL string `json:"broker_url"`
	// ConfigIDs maps each sensor field to the gateway config ID whose topic
	// carries it
	ConfigIDs            map[Field]string `json:"config_ids,omitempty"`
	Topics               []string         `json:"topics,omitempty"`
	QoS                  byte             `json:"qos"`
	UpdateInterval       time.Duration    `json:"update_interval"`
	Timeout              time.Duration    `json:"timeout"`
	MaxReconnectAttempts int              `json:"max_reconnect_attempts"`
	Freshness            time.Duration    `json:"freshness"`
}

// DefaultConfig returns the defaults for the billboard gateway
func DefaultConfig() Config {
	transport := mqtt.DefaultConfig()
	return Config{
		BrokerURL:            transport.BrokerURL,
		ConfigIDs:            map[Field]string{},
		Topics:               append([]string(nil), transport.Topics...),
		UpdateInterval:       time.Second,
		Timeout:              transport.ConnectTimeout,
		MaxReconnectAttempts: transport.MaxReconnectAttempts,
		Freshness:            5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BrokerURL == "" {
		c.BrokerURL = d.BrokerURL
	}
	if len(c.Topics) == 0 {
		c.Topics = d.Topics
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = d.UpdateInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.Freshness <= 0 {
		c.Freshness = d.Freshness
	}
	c.ConfigIDs = copyIDs(c.ConfigIDs)
	return c
}

// merge overlays the non-zero fields of p. Config IDs merge per field.
// Freshness is fixed at construction and is not merged.
func (c Config) merge(p Config) Config {
	out := c
	out.ConfigIDs = copyIDs(c.ConfigIDs)
	if p.AuthToken != "" {
		out.AuthToken = p.AuthToken
	}
	if p.BrokerURL != "" {
		out.BrokerURL = p.BrokerURL
	}
	for f, id := range p.ConfigIDs {
		out.ConfigIDs[f] = id
	}
	if len(p.Topics) > 0 {
		out.Topics = append([]string(nil), p.Topics...)
	}
	if p.QoS != 0 {
		out.QoS = p.QoS
	}
	if p.UpdateInterval > 0 {
		out.UpdateInterval = p.UpdateInterval
	}
	if p.Timeout > 0 {
		out.Timeout = p.Timeout
	}
	if p.MaxReconnectAttempts > 0 {
		out.MaxReconnectAttempts = p.MaxReconnectAttempts
	}
	return out
}

// connectionChanged reports whether moving from c to n needs a new session
func (c Config) connectionChanged(n Config) bool {
	return c.AuthToken != n.AuthToken ||
		c.BrokerURL != n.BrokerURL ||
		c.QoS != n.QoS ||
		c.Timeout != n.Timeout ||
		c.MaxReconnectAttempts != n.MaxReconnectAttempts ||
		!slices.Equal(c.Topics, n.Topics) ||
		!maps.Equal(c.ConfigIDs, n.ConfigIDs)
}

func (c Config) transportConfig() mqtt.Config {
	d := mqtt.DefaultConfig()
	return mqtt.Config{
		BrokerURL:            c.BrokerURL,
		AuthToken:            c.AuthToken,
		Topics:               append([]string(nil), c.Topics...),
		QoS:                  c.QoS,
		ConnectTimeout:       c.Timeout,
		KeepAlive:            d.KeepAlive,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ClientIDPrefix:       d.ClientIDPrefix,
	}
}

func copyIDs(in map[Field]string) map[Field]string {
	out := make(map[Field]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
