// Package config loads and validates gamelink configuration from an optional
// YAML file and GAMELINK_* environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Target is one backend the tracker can talk to.
type Target struct {
	// APIURL is the base URL of the backend API, e.g. https://api.example.com/v1/.
	APIURL string `mapstructure:"api_url"`
	// WebpageDomain is placed verbatim after the subdomain in login redirect
	// URLs, e.g. "example.com/".
	WebpageDomain string `mapstructure:"webpage_domain"`
}

// Config holds gamelink configuration.
type Config struct {
	// Target selects the active entry of Targets.
	Target string `mapstructure:"target"`
	// Targets maps target names to backends. Names are case-insensitive.
	Targets map[string]Target `mapstructure:"targets"`
	// PollInterval is the device flow poll and completion retry delay.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// TimeSyncRetry is the server time retry delay.
	TimeSyncRetry time.Duration `mapstructure:"time_sync_retry"`
	// RequestTimeout bounds each backend request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Journal is an optional SQLite path mirroring every appended record.
	Journal string `mapstructure:"journal"`
	// TokenSecret is the optional HMAC key module_data tokens are verified with.
	TokenSecret string `mapstructure:"token_secret"`
	// Listen is the host bridge address.
	Listen string `mapstructure:"listen"`
	// AllowedOrigins lists the browser origins, besides the bridge's own,
	// allowed to open the bridge WebSocket.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Defaults.
const (
	DefaultTarget         = "production"
	DefaultPollInterval   = 4 * time.Second
	DefaultTimeSyncRetry  = 5 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	DefaultListen         = "127.0.0.1:8089"
)

// Load reads the config file at path (skipped when empty), then applies
// GAMELINK_* environment overrides (GAMELINK_POLL_INTERVAL,
// GAMELINK_TARGETS_PRODUCTION_API_URL, ...) and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("GAMELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("target", DefaultTarget)
	v.SetDefault("targets.production.api_url", "https://api.gamelink.app/v1/")
	v.SetDefault("targets.production.webpage_domain", "gamelink.app/")
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("time_sync_retry", DefaultTimeSyncRetry)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("journal", "")
	v.SetDefault("token_secret", "")
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("allowed_origins", []string{})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected target exists and every setting is usable.
func (c *Config) Validate() error {
	if c.Target == "" {
		return errors.New("config: target must be set")
	}
	if _, err := c.Backend(c.Target); err != nil {
		return err
	}
	for name, t := range c.Targets {
		u, err := url.Parse(t.APIURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("config: targets.%s.api_url %q is not an absolute URL", name, t.APIURL)
		}
		if t.WebpageDomain == "" {
			return fmt.Errorf("config: targets.%s.webpage_domain must be set", name)
		}
	}
	if c.PollInterval <= 0 {
		return errors.New("config: poll_interval must be positive")
	}
	if c.TimeSyncRetry <= 0 {
		return errors.New("config: time_sync_retry must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: request_timeout must be positive")
	}
	if c.Listen == "" {
		return errors.New("config: listen must be set")
	}
	for _, o := range c.AllowedOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: allowed_origins entry %q is not an origin URL", o)
		}
	}
	return nil
}

// Backend returns the target called name.
func (c *Config) Backend(name string) (Target, error) {
	t, ok := c.Targets[strings.ToLower(name)]
	if !ok {
		return Target{}, fmt.Errorf("config: unknown target %q (known: %s)", name, strings.Join(c.TargetNames(), ", "))
	}
	return t, nil
}

// TargetNames returns the configured target names in sorted order.
func (c *Config) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
