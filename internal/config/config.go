// Package config loads runtime settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"rssreader/internal/feed"
	"rssreader/internal/poller"
)

// Config is the top-level configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Fetch  FetchConfig  `toml:"fetch"`
	Poll   PollConfig   `toml:"poll"`
	Log    LogConfig    `toml:"log"`
	// Feeds are subscribed on startup.
	Feeds []string `toml:"feeds"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type FetchConfig struct {
	ProxyURL          string        `toml:"proxy_url"`
	Timeout           time.Duration `toml:"timeout"`
	MaxBodyBytes      int64         `toml:"max_body_bytes"`
	AllowPrivateHosts bool          `toml:"allow_private_hosts"`
}

type PollConfig struct {
	Interval    time.Duration `toml:"interval"`
	Concurrency int           `toml:"concurrency"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:      feed.DefaultFetchTimeout,
			MaxBodyBytes: feed.DefaultMaxBodyBytes,
		},
		Poll: PollConfig{
			Interval:    poller.DefaultInterval,
			Concurrency: poller.DefaultConcurrency,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be positive"))
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("fetch.max_body_bytes must be positive"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.Concurrency <= 0 {
		errs = append(errs, errors.New("poll.concurrency must be positive"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func (c Config) FetcherConfig() feed.FetcherConfig {
	return feed.FetcherConfig{
		ProxyURL:     c.Fetch.ProxyURL,
		Timeout:      c.Fetch.Timeout,
		MaxBodyBytes: c.Fetch.MaxBodyBytes,
	}
}

func (c Config) PollerConfig() poller.Config {
	return poller.Config{
		Interval:    c.Poll.Interval,
		Concurrency: c.Poll.Concurrency,
	}
}

func (c Config) URLPolicy() feed.URLPolicy {
	return feed.URLPolicy{AllowPrivateHosts: c.Fetch.AllowPrivateHosts}
}
