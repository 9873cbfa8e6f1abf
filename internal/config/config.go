// Package config loads and validates the server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/snapbin/snapbin/internal/listen"
	"github.com/snapbin/snapbin/pkg/bytesize"
)

// StorageConfig bounds one object collection.
type StorageConfig struct {
	// Dir is the directory objects are stored in.
	Dir string `yaml:"dir"`
	// MaxSize is the largest accepted upload, e.g. "10MB".
	MaxSize bytesize.Size `yaml:"max_size"`
	// MaxCount caps how many objects are kept; the oldest are deleted to make
	// room. Zero keeps everything.
	MaxCount int `yaml:"max_count"`
}

// RateLimitConfig bounds uploads per client address.
type RateLimitConfig struct {
	// PeriodSeconds is the window over which Burst uploads are allowed.
	PeriodSeconds int `yaml:"period"`
	// Burst is how many uploads a client may make back to back.
	Burst int `yaml:"burst"`
	// Buckets is the number of limiter buckets client addresses hash into.
	Buckets int `yaml:"buckets"`
	// TrustHeaders controls whether X-Real-IP identifies the client. Defaults
	// to true; only meaningful behind a proxy that sets the header.
	TrustHeaders *bool `yaml:"trust_headers"`
}

// Period returns the accrual window as a duration.
func (r *RateLimitConfig) Period() time.Duration {
	return time.Duration(r.PeriodSeconds) * time.Second
}

// TrustProxyHeaders reports whether X-Real-IP should be honored.
func (r *RateLimitConfig) TrustProxyHeaders() bool {
	return r.TrustHeaders == nil || *r.TrustHeaders
}

// Config is the top-level server configuration.
type Config struct {
	// Listen is the bind address, either host:port or unix:/path/to.sock.
	Listen string `yaml:"listen"`
	// LinkPrefix is prepended to object paths in upload responses, e.g.
	// "https://paste.example.com".
	LinkPrefix string `yaml:"link_prefix"`

	Images    StorageConfig    `yaml:"images"`
	Pastes    StorageConfig    `yaml:"pastes"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	trust := true
	return &Config{
		Listen: "127.0.0.1:8146",
		Images: StorageConfig{
			Dir:     "/var/lib/snapbin/i",
			MaxSize: bytesize.Size(10 * bytesize.MB),
		},
		Pastes: StorageConfig{
			Dir:     "/var/lib/snapbin/p",
			MaxSize: bytesize.Size(64 * bytesize.KB),
		},
		RateLimit: &RateLimitConfig{
			PeriodSeconds: 30,
			Burst:         3,
			Buckets:       16384,
			TrustHeaders:  &trust,
		},
	}
}

// Load reads the configuration at path, filling unset fields with defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints and normalizes settings that only make
// sense in combination.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if err := c.Images.validate("images"); err != nil {
		return err
	}
	if err := c.Pastes.validate("pastes"); err != nil {
		return err
	}
	if c.RateLimit != nil {
		if err := c.RateLimit.validate(); err != nil {
			return err
		}
		// Connections over a unix socket all share one peer address, so the
		// proxy header is the only usable client identity.
		if strings.HasPrefix(c.Listen, listen.UnixPrefix) && !c.RateLimit.TrustProxyHeaders() {
			log.Warn().Msg("unix socket listener requires trusting X-Real-IP, enabling it")
			trust := true
			c.RateLimit.TrustHeaders = &trust
		}
	}
	return nil
}

func (s *StorageConfig) validate(name string) error {
	if s.Dir == "" {
		return fmt.Errorf("%s.dir must not be empty", name)
	}
	if s.MaxSize <= 0 {
		return fmt.Errorf("%s.max_size must be positive", name)
	}
	if s.MaxCount < 0 {
		return fmt.Errorf("%s.max_count must not be negative", name)
	}
	return nil
}

func (r *RateLimitConfig) validate() error {
	if r.PeriodSeconds <= 0 {
		return fmt.Errorf("rate_limit.period must be positive")
	}
	if r.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive")
	}
	if r.Buckets <= 0 {
		return fmt.Errorf("rate_limit.buckets must be positive")
	}
	return nil
}

// Example renders a commented sample configuration.
func Example() string {
	return `# snapbin server configuration

# Bind address. Either host:port or a unix socket path.
listen: 127.0.0.1:8146
# listen: unix:/run/snapbin/http.sock

# Prefix for links returned from uploads.
link_prefix: http://127.0.0.1:8146

images:
  dir: /var/lib/snapbin/i
  max_size: 10MB
  # Keep at most this many images; the oldest are deleted to make room.
  # 0 keeps everything.
  max_count: 0

pastes:
  dir: /var/lib/snapbin/p
  max_size: 64KB
  max_count: 0

rate_limit:
  # Each client may upload burst objects back to back, then one more every
  # period/burst seconds.
  period: 30
  burst: 3
  # Number of limiter buckets client addresses hash into. Memory use is
  # fixed by this, not by client count.
  buckets: 16384
  # Trust the X-Real-IP header from a fronting proxy. Forced on for unix
  # socket listeners.
  trust_headers: true
`
}
