// Package config defines the server configuration and how it is loaded.
//
// Values are layered, later sources winning: defaults, an optional YAML
// file, an optional .env file, RESPKV_* environment variables, and
// finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
)

// Default configuration values.
const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 6379
	DefaultMaxFrameSize = 64 * 1024
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
)

// Config is resolved once at startup and not modified afterwards.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Dir and DBFilename locate the snapshot. Empty means unset.
	Dir        string `koanf:"dir"`
	DBFilename string `koanf:"dbfilename"`

	ReusePort    bool `koanf:"reuse_port"`
	MaxFrameSize int  `koanf:"max_frame_size"`
	// RateLimit is the number of commands per second allowed on one
	// connection. 0 disables limiting.
	RateLimit int `koanf:"rate_limit"`

	MetricsAddr string `koanf:"metrics_addr"`

	Log LogSection `koanf:"log"`
}

type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func Default() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxFrameSize: DefaultMaxFrameSize,
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Get looks up a parameter exposed through CONFIG GET. Names are matched
// case-insensitively; unset parameters are reported as absent.
func (c Config) Get(name string) (string, bool) {
	var v string
	switch strings.ToLower(name) {
	case "dir":
		v = c.Dir
	case "dbfilename":
		v = c.DBFilename
	}
	return v, v != ""
}

// SnapshotPath returns dir/dbfilename when both are set.
func (c Config) SnapshotPath() (string, bool) {
	if c.Dir == "" || c.DBFilename == "" {
		return "", false
	}
	return filepath.Join(c.Dir, c.DBFilename), true
}

var (
	ErrInvalidPort      = errors.New("config: port must be between 0 and 65535")
	ErrInvalidRateLimit = errors.New("config: rate_limit must not be negative")
	ErrInvalidFrameSize = errors.New("config: max_frame_size must be positive")
	ErrInvalidLogLevel  = errors.New("config: unknown log level")
	ErrInvalidLogFormat = errors.New("config: unknown log format")
)

// Verify checks a loaded configuration.
func Verify(c *Config) error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidPort, c.Port))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidRateLimit, c.RateLimit))
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidFrameSize, c.MaxFrameSize))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format))
	}
	return errors.Join(errs...)
}
