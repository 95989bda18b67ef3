package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/output/websocket"
	"github.com/c360/billboard/service/bannersync"
	"github.com/c360/billboard/service/iot"
	"github.com/c360/billboard/service/logomanifest"
	"github.com/c360/billboard/service/weather"
)

// Config is the process configuration for billboard-sync
type Config struct {
	IoT          iot.Config          `json:"iot"`
	Weather      weather.Config      `json:"weather"`
	LogoManifest logomanifest.Config `json:"logo_manifest"`
	Banner       bannersync.Config   `json:"banner"`
	NATS         NATSConfig          `json:"nats"`
	WebSocket    WebSocketConfig     `json:"websocket"`
	Metrics      MetricsConfig       `json:"metrics"`
	HealthPort   int                 `json:"health_port"`
}

// NATSConfig controls event publishing to NATS
type NATSConfig struct {
	URL           string        `json:"url"`
	Enabled       bool          `json:"enabled"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
}

// WebSocketConfig controls the display-facing push hub
type WebSocketConfig struct {
	websocket.Config
	Enabled bool `json:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// SafeConfig guards a Config shared between goroutines
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps a copy of cfg
func NewSafeConfig(cfg *Config) *SafeConfig {
	return &SafeConfig{cfg: cfg.Clone()}
}

// Get returns a copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg.Clone()
}

// Update validates cfg and replaces the current configuration with a copy
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	sc.cfg = cfg.Clone()
	sc.mu.Unlock()
	return nil
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.IoT.ConfigIDs != nil {
		out.IoT.ConfigIDs = make(map[iot.Field]string, len(c.IoT.ConfigIDs))
		for k, v := range c.IoT.ConfigIDs {
			out.IoT.ConfigIDs[k] = v
		}
	}
	out.IoT.Topics = append([]string(nil), c.IoT.Topics...)
	return &out
}

// Validate checks the parts of the configuration the process cannot start
// without. A missing gateway token is not an error here; the IoT service
// reports it from Initialize.
func (c *Config) Validate() error {
	for name, port := range map[string]int{
		"health_port":    c.HealthPort,
		"metrics.port":   c.Metrics.Port,
		"websocket.port": c.WebSocket.Port,
	} {
		if port < 0 || port > 65535 {
			return errors.WrapInvalid(fmt.Errorf("%w: %s %d out of range", errors.ErrInvalidConfig, name, port),
				"Config", "Validate", "check ports")
		}
	}
	if c.WebSocket.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		return errors.WrapInvalid(fmt.Errorf("%w: websocket path %q", errors.ErrInvalidConfig, c.WebSocket.Path),
			"Config", "Validate", "check websocket path")
	}
	if c.Metrics.Port > 0 && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.WrapInvalid(fmt.Errorf("%w: metrics path %q", errors.ErrInvalidConfig, c.Metrics.Path),
			"Config", "Validate", "check metrics path")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: nats url", errors.ErrMissingConfig),
			"Config", "Validate", "check nats")
	}
	if err := c.Banner.Validate(); err != nil {
		return err
	}
	if err := c.Weather.Validate(); err != nil {
		return err
	}
	if c.LogoManifest.URL != "" {
		if err := c.LogoManifest.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// String returns the configuration as indented JSON with the gateway token
// masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.IoT.AuthToken != "" {
		masked.IoT.AuthToken = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// SaveToFile writes the configuration as JSON
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "BILLBOARD",
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, path, err),
				"Loader", "Load", "load layer")
		}
		merged, err := l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, path, err),
				"Loader", "Load", "merge layer")
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration used when no layer sets a value
func Defaults() *Config {
	ws := websocket.DefaultConfig()
	return &Config{
		IoT:          iot.DefaultConfig(),
		Weather:      weather.DefaultConfig(),
		LogoManifest: logomanifest.DefaultConfig(),
		Banner:       bannersync.DefaultConfig(),
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		WebSocket:  WebSocketConfig{Config: ws, Enabled: true},
		Metrics:    MetricsConfig{Port: 9090, Path: "/metrics"},
		HealthPort: 8080,
	}
}

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatJSON
	formatYAML
)

func formatOf(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatUnknown
	}
}

// loadRaw reads a JSON or YAML layer as a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch formatOf(path) {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// durationKeys are the keys whose values may be written as duration strings
var durationKeys = map[string]bool{
	"update_interval": true,
	"poll_interval":   true,
	"timeout":         true,
	"retry_delay":     true,
	"freshness":       true,
	"loop_duration":   true,
	"reconnect_wait":  true,
	"write_timeout":   true,
	"read_timeout":    true,
	"ping_interval":   true,
}

// parseDurations converts duration strings to nanoseconds for json
// unmarshaling, at any depth
func parseDurations(data map[string]any) error {
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			if err := parseDurations(val); err != nil {
				return err
			}
		case string:
			if !durationKeys[k] {
				continue
			}
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			data[k] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "1d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies BILLBOARD_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var firstErr error
	get := func(name string) (string, bool) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false
		}
		if err := validateEnvVar(key, val); err != nil {
			if firstErr == nil {
				firstErr = errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
					"Loader", "applyEnvOverrides", "read "+key)
			}
			return "", false
		}
		return val, true
	}
	setInt := func(name string, dst *int) {
		if val, ok := get(name); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				if firstErr == nil {
					firstErr = errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrInvalidConfig, l.envPrefix, name, val),
						"Loader", "applyEnvOverrides", "parse integer")
				}
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if val, ok := get(name); ok {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				if firstErr == nil {
					firstErr = errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrInvalidConfig, l.envPrefix, name, val),
						"Loader", "applyEnvOverrides", "parse number")
				}
				return
			}
			*dst = f
		}
	}
	setBool := func(name string, dst *bool) {
		if val, ok := get(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				if firstErr == nil {
					firstErr = errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrInvalidConfig, l.envPrefix, name, val),
						"Loader", "applyEnvOverrides", "parse bool")
				}
				return
			}
			*dst = b
		}
	}

	if val, ok := get("IOT_AUTH_TOKEN"); ok {
		cfg.IoT.AuthToken = val
	}
	if val, ok := get("IOT_BROKER_URL"); ok {
		cfg.IoT.BrokerURL = val
	}
	if val, ok := get("WEATHER_CITY"); ok {
		cfg.Weather.City = val
	}
	setFloat("WEATHER_LATITUDE", &cfg.Weather.Latitude)
	setFloat("WEATHER_LONGITUDE", &cfg.Weather.Longitude)
	if val, ok := get("WEATHER_BASE_URL"); ok {
		cfg.Weather.BaseURL = val
	}
	if val, ok := get("BANNER_TIMEZONE"); ok {
		cfg.Banner.Timezone = val
	}
	if val, ok := get("LOGO_MANIFEST_URL"); ok {
		cfg.LogoManifest.URL = val
	}
	if val, ok := get("LOGO_CACHE_DIR"); ok {
		cfg.LogoManifest.CacheDir = val
	}
	if val, ok := get("NATS_URL"); ok {
		cfg.NATS.URL = val
	}
	setBool("NATS_ENABLED", &cfg.NATS.Enabled)
	setBool("WEBSOCKET_ENABLED", &cfg.WebSocket.Enabled)
	setInt("WEBSOCKET_PORT", &cfg.WebSocket.Port)
	setInt("METRICS_PORT", &cfg.Metrics.Port)
	setInt("HEALTH_PORT", &cfg.HealthPort)

	return firstErr
}
