package logomanifest

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/input/httppoll"
)

// Config holds the logo manifest service configuration
type Config struct {
	URL             string        `json:"url"`
	PollInterval    time.Duration `json:"poll_interval"`
	CacheDir        string        `json:"cache_dir"`
	Timeout         time.Duration `json:"timeout"`
	DownloadWorkers int           `json:"download_workers"`
	MaxRetries      int           `json:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay"`
	Freshness       time.Duration `json:"freshness"`
}

// DefaultConfig returns manifest polling defaults. URL has no default.
func DefaultConfig() Config {
	poll := httppoll.DefaultConfig()
	return Config{
		PollInterval:    5 * time.Minute,
		CacheDir:        filepath.Join(os.TempDir(), "billboard-logos"),
		Timeout:         poll.Timeout,
		DownloadWorkers: 4,
		MaxRetries:      poll.MaxRetries,
		RetryDelay:      poll.RetryDelay,
		Freshness:       5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.DownloadWorkers <= 0 {
		c.DownloadWorkers = d.DownloadWorkers
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
	if p.URL != "" {
		c.URL = p.URL
	}
	if p.PollInterval > 0 {
		c.PollInterval = p.PollInterval
	}
	if p.CacheDir != "" {
		c.CacheDir = p.CacheDir
	}
	if p.Timeout > 0 {
		c.Timeout = p.Timeout
	}
	if p.DownloadWorkers > 0 {
		c.DownloadWorkers = p.DownloadWorkers
	}
	if p.MaxRetries > 0 {
		c.MaxRetries = p.MaxRetries
	}
	if p.RetryDelay > 0 {
		c.RetryDelay = p.RetryDelay
	}
	return c
}

// Validate requires an absolute http(s) manifest URL
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: manifest url", errors.ErrMissingConfig),
			"Config", "Validate", "check url")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: manifest url %q", errors.ErrInvalidConfig, c.URL),
			"Config", "Validate", "parse url")
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
