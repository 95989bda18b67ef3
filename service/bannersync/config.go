package bannersync

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/c360/billboard/errors"
)

// DefaultTimezone is the zone the billboard's schedules are written in
const DefaultTimezone = "Asia/Ho_Chi_Minh"

// Config holds the banner configuration
type Config struct {
	// LoopDuration overrides the manifest's per-logo duration when set
	LoopDuration time.Duration `json:"loop_duration"`
	// Timezone is the IANA zone schedule windows are evaluated in
	Timezone string `json:"timezone"`
}

// DefaultConfig returns the banner defaults
func DefaultConfig() Config {
	return Config{Timezone: DefaultTimezone}
}

// Validate checks the loop override and the timezone
func (c Config) Validate() error {
	if c.LoopDuration < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: banner loop_duration", errors.ErrInvalidConfig),
			"Config", "Validate", "check loop duration")
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

// location resolves Timezone, defaulting to DefaultTimezone when empty
func (c Config) location() (*time.Location, error) {
	tz := c.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: timezone %q", errors.ErrInvalidConfig, tz),
			"Config", "Validate", "load timezone")
	}
	return loc, nil
}
