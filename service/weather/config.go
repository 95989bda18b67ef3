package weather

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/input/httppoll"
)

// Config holds the weather service configuration
type Config struct {
	City         string        `json:"city"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	BaseURL      string        `json:"base_url"`
	Timezone     string        `json:"timezone"`
	PollInterval time.Duration `json:"poll_interval"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay"`
	Freshness    time.Duration `json:"freshness"`
}

// DefaultConfig returns the configuration for the billboard's city
func DefaultConfig() Config {
	poll := httppoll.DefaultConfig()
	return Config{
		City:         "Ho Chi Minh City",
		Latitude:     10.8231,
		Longitude:    106.6297,
		BaseURL:      "https://api.open-meteo.com",
		Timezone:     "Asia/Ho_Chi_Minh",
		PollInterval: poll.Interval,
		Timeout:      poll.Timeout,
		MaxRetries:   poll.MaxRetries,
		RetryDelay:   poll.RetryDelay,
		Freshness:    10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.City == "" {
		c.City = d.City
	}
	if c.Latitude == 0 && c.Longitude == 0 {
		c.Latitude, c.Longitude = d.Latitude, d.Longitude
	}
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.Freshness <= 0 {
		c.Freshness = d.Freshness
	}
	return c
}

// merge overlays the non-zero fields of p. Freshness is fixed at construction.
func (c Config) merge(p Config) Config {
	if p.City != "" {
		c.City = p.City
	}
	if p.Latitude != 0 || p.Longitude != 0 {
		c.Latitude, c.Longitude = p.Latitude, p.Longitude
	}
	if p.BaseURL != "" {
		c.BaseURL = p.BaseURL
	}
	if p.Timezone != "" {
		c.Timezone = p.Timezone
	}
	if p.PollInterval > 0 {
		c.PollInterval = p.PollInterval
	}
	if p.Timeout > 0 {
		c.Timeout = p.Timeout
	}
	if p.MaxRetries > 0 {
		c.MaxRetries = p.MaxRetries
	}
	if p.RetryDelay > 0 {
		c.RetryDelay = p.RetryDelay
	}
	return c
}

// Validate checks coordinates, base URL and timezone
func (c Config) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return errors.WrapInvalid(fmt.Errorf("%w: coordinates %v,%v", errors.ErrInvalidConfig, c.Latitude, c.Longitude),
			"Config", "Validate", "check coordinates")
	}
	if _, err := forecastURL(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: timezone %q", errors.ErrInvalidConfig, c.Timezone),
			"Config", "Validate", "load timezone")
	}
	return nil
}

func (c Config) pollConfig() httppoll.Config {
	return httppoll.Config{
		Name:       Name,
		Interval:   c.PollInterval,
		Timeout:    c.Timeout,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
	}
}
