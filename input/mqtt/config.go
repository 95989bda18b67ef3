package mqtt

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360/billboard/errors"
)

// DefaultTopic is the wildcard subscription scoped to the gateway token
const DefaultTopic = "eoh/chip/{token}/config/+"

// DefaultTopics adds the per-config value, sensor and data variants some
// gateways publish on
var DefaultTopics = []string{
	DefaultTopic,
	"eoh/chip/{token}/config/+/value",
	"eoh/chip/{token}/sensor/+",
	"eoh/chip/{token}/data/+",
}

var tokenPattern = regexp.MustCompile(`^Token\s+(\S+)$`)

// placeholders are substrings found in example configs that were never filled in
var placeholders = []string{"YOUR_", "your-token", "your_token", "<token>", "xxxx", "changeme"}

// Config holds MQTT transport configuration
type Config struct {
	BrokerURL            string        `json:"broker_url"`
	AuthToken            string        `json:"auth_token"`
	Topics               []string      `json:"topics,omitempty"`
	QoS                  byte          `json:"qos"`
	ConnectTimeout       time.Duration `json:"connect_timeout"`
	KeepAlive            time.Duration `json:"keep_alive"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	ClientIDPrefix       string        `json:"client_id_prefix,omitempty"`
}

// DefaultConfig returns the configuration used by the billboard gateway
func DefaultConfig() Config {
	return Config{
		BrokerURL:            "mqtt://mqtt1.eoh.io:1883",
		Topics:               append([]string(nil), DefaultTopics...),
		ConnectTimeout:       10 * time.Second,
		KeepAlive:            60 * time.Second,
		MaxReconnectAttempts: 5,
		ClientIDPrefix:       "billboard",
	}
}

// Validate checks the configuration without touching the network
func (c Config) Validate() error {
	if strings.TrimSpace(c.BrokerURL) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "broker url")
	}
	if _, err := ParseGatewayToken(c.AuthToken); err != nil {
		return err
	}
	if c.QoS > 2 {
		return errors.WrapInvalid(fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, c.QoS),
			"Config", "Validate", "check qos")
	}
	return nil
}

// ParseGatewayToken extracts the raw gateway token from an auth string of the
// form "Token <token>". Missing, malformed and placeholder values are rejected
// with config errors.
func ParseGatewayToken(auth string) (string, error) {
	auth = strings.TrimSpace(auth)
	if auth == "" {
		return "", errors.WrapInvalid(errors.ErrMissingConfig, "Config", "ParseGatewayToken", "read auth token")
	}

	lower := strings.ToLower(auth)
	for _, p := range placeholders {
		if strings.Contains(lower, strings.ToLower(p)) {
			return "", errors.WrapInvalid(errors.ErrPlaceholderToken, "Config", "ParseGatewayToken", "check auth token")
		}
	}

	m := tokenPattern.FindStringSubmatch(auth)
	if m == nil {
		return "", errors.WrapInvalid(errors.ErrInvalidToken, "Config", "ParseGatewayToken", "match auth token")
	}
	return m[1], nil
}

// brokerURL converts mqtt:// and mqtts:// into the schemes paho dials
func brokerURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(raw, "mqtt://")
	case strings.HasPrefix(raw, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(raw, "mqtts://")
	case !strings.Contains(raw, "://"):
		return "tcp://" + raw
	default:
		return raw
	}
}

// expandTopics substitutes the gateway token into each topic template
func expandTopics(templates []string, token string) []string {
	if len(templates) == 0 {
		templates = DefaultTopics
	}
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, strings.ReplaceAll(t, "{token}", token))
	}
	return out
}
