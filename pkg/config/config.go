// Package config handles benchmark configuration: defaults, file loading and environment overrides
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values
const (
	DefaultConcurrency                = 10
	DefaultRequests                   = 100000
	DefaultPort                       = 8989
	DefaultContentBytesSize           = 10000
	DefaultKeepAliveScenario          = true
	DefaultServerKeepAliveMillis      = 60000
	DefaultClientSocketTimeoutMillis  = 60000
	DefaultClientConnectTimeoutMillis = 10000
	DefaultHost                       = "127.0.0.1"
	DefaultClient                     = "net/http"
)

// Environment variable names
const (
	EnvConcurrency         = "BENCHMARK_CONCURRENCY"
	EnvServerPort          = "BENCHMARK_SERVER_PORT"
	EnvRequests            = "BENCHMARK_REQUESTS"
	EnvContentBytesSize    = "BENCHMARK_CONTENT_BYTES_SIZE"
	EnvKeepAliveScenario   = "BENCHMARK_KEEP_ALIVE_SCENARIO"
	EnvServerKeepAlive     = "BENCHMARK_SERVER_KEEP_ALIVE_MILLIS"
	EnvClientSocketTimeout = "BENCHMARK_CLIENT_SOCKET_TIMEOUT_MILLIS"
	EnvClientConnTimeout   = "BENCHMARK_CLIENT_CONNECT_TIMEOUT_MILLIS"
	EnvClient              = "BENCHMARK_CLIENT"
)

// Config is the immutable benchmark configuration. It is passed by value;
// nothing mutates a Config once a run has started.
type Config struct {
	Concurrency                int          `json:"concurrency" yaml:"concurrency"`
	Requests                   int          `json:"requests" yaml:"requests"`
	Port                       int          `json:"port" yaml:"port"`
	ContentBytesSize           int          `json:"contentBytesSize" yaml:"contentBytesSize"`
	KeepAliveScenario          bool         `json:"keepAliveScenario" yaml:"keepAliveScenario"`
	ServerKeepAliveMillis      int          `json:"serverKeepAliveMillis" yaml:"serverKeepAliveMillis"`
	ClientSocketTimeoutMillis  int          `json:"clientSocketTimeoutMillis" yaml:"clientSocketTimeoutMillis"`
	ClientConnectTimeoutMillis int          `json:"clientConnectTimeoutMillis" yaml:"clientConnectTimeoutMillis"`
	Host                       string       `json:"host" yaml:"host"`
	Client                     string       `json:"client" yaml:"client"`
	ServerMaxConnections       int          `json:"serverMaxConnections" yaml:"serverMaxConnections"`
	MetricsAddr                string       `json:"metricsAddr" yaml:"metricsAddr"`
	LogLevel                   string       `json:"logLevel" yaml:"logLevel"`
	Quiet                      bool         `json:"quiet" yaml:"quiet"`
	Histogram                  bool         `json:"histogram" yaml:"histogram"`
	Output                     OutputConfig `json:"output" yaml:"output"`
}

// OutputConfig contains report output settings
type OutputConfig struct {
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // console, json or csv
	File   string `json:"file,omitempty" yaml:"file,omitempty"`     // empty means stdout
}

// Defaults returns a Config populated with the default values
func Defaults() Config {
	return Config{
		Concurrency:                DefaultConcurrency,
		Requests:                   DefaultRequests,
		Port:                       DefaultPort,
		ContentBytesSize:           DefaultContentBytesSize,
		KeepAliveScenario:          DefaultKeepAliveScenario,
		ServerKeepAliveMillis:      DefaultServerKeepAliveMillis,
		ClientSocketTimeoutMillis:  DefaultClientSocketTimeoutMillis,
		ClientConnectTimeoutMillis: DefaultClientConnectTimeoutMillis,
		Host:                       DefaultHost,
		Client:                     DefaultClient,
		LogLevel:                   "info",
		Output:                     OutputConfig{Format: "console"},
	}
}

// fileConfig mirrors Config with pointer fields to distinguish unset from zero
type fileConfig struct {
	Concurrency                *int    `json:"concurrency" yaml:"concurrency"`
	Requests                   *int    `json:"requests" yaml:"requests"`
	Port                       *int    `json:"port" yaml:"port"`
	ContentBytesSize           *int    `json:"contentBytesSize" yaml:"contentBytesSize"`
	KeepAliveScenario          *bool   `json:"keepAliveScenario" yaml:"keepAliveScenario"`
	ServerKeepAliveMillis      *int    `json:"serverKeepAliveMillis" yaml:"serverKeepAliveMillis"`
	ClientSocketTimeoutMillis  *int    `json:"clientSocketTimeoutMillis" yaml:"clientSocketTimeoutMillis"`
	ClientConnectTimeoutMillis *int    `json:"clientConnectTimeoutMillis" yaml:"clientConnectTimeoutMillis"`
	Host                       *string `json:"host" yaml:"host"`
	Client                     *string `json:"client" yaml:"client"`
	ServerMaxConnections       *int    `json:"serverMaxConnections" yaml:"serverMaxConnections"`
	MetricsAddr                *string `json:"metricsAddr" yaml:"metricsAddr"`
	LogLevel                   *string `json:"logLevel" yaml:"logLevel"`
	Quiet                      *bool   `json:"quiet" yaml:"quiet"`
	Histogram                  *bool   `json:"histogram" yaml:"histogram"`
	Output                     *struct {
		Format *string `json:"format" yaml:"format"`
		File   *string `json:"file" yaml:"file"`
	} `json:"output" yaml:"output"`
}

// LoadFile reads a JSON or YAML file and overlays the keys it sets onto base.
// The format is chosen by extension: .yaml and .yml are YAML, anything else is JSON.
func LoadFile(filename string, base Config) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return base, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return base, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return fc.apply(base), nil
}

func (fc *fileConfig) apply(cfg Config) Config {
	setInt(&cfg.Concurrency, fc.Concurrency)
	setInt(&cfg.Requests, fc.Requests)
	setInt(&cfg.Port, fc.Port)
	setInt(&cfg.ContentBytesSize, fc.ContentBytesSize)
	if fc.KeepAliveScenario != nil {
		cfg.KeepAliveScenario = *fc.KeepAliveScenario
	}
	setInt(&cfg.ServerKeepAliveMillis, fc.ServerKeepAliveMillis)
	setInt(&cfg.ClientSocketTimeoutMillis, fc.ClientSocketTimeoutMillis)
	setInt(&cfg.ClientConnectTimeoutMillis, fc.ClientConnectTimeoutMillis)
	setString(&cfg.Host, fc.Host)
	setString(&cfg.Client, fc.Client)
	setInt(&cfg.ServerMaxConnections, fc.ServerMaxConnections)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.Quiet != nil {
		cfg.Quiet = *fc.Quiet
	}
	if fc.Histogram != nil {
		cfg.Histogram = *fc.Histogram
	}
	if fc.Output != nil {
		setString(&cfg.Output.Format, fc.Output.Format)
		setString(&cfg.Output.File, fc.Output.File)
	}
	return cfg
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays BENCHMARK_* environment variables onto cfg.
// Pass os.LookupEnv in production.
func ApplyEnv(cfg Config, lookup LookupFunc) (Config, error) {
	ints := []struct {
		key string
		dst *int
	}{
		{EnvConcurrency, &cfg.Concurrency},
		{EnvServerPort, &cfg.Port},
		{EnvRequests, &cfg.Requests},
		{EnvContentBytesSize, &cfg.ContentBytesSize},
		{EnvServerKeepAlive, &cfg.ServerKeepAliveMillis},
		{EnvClientSocketTimeout, &cfg.ClientSocketTimeoutMillis},
		{EnvClientConnTimeout, &cfg.ClientConnectTimeoutMillis},
	}
	for _, e := range ints {
		raw, ok := lookup(e.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", e.key, raw, err)
		}
		*e.dst = v
	}

	if raw, ok := lookup(EnvKeepAliveScenario); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", EnvKeepAliveScenario, raw, err)
		}
		cfg.KeepAliveScenario = v
	}

	if raw, ok := lookup(EnvClient); ok && strings.TrimSpace(raw) != "" {
		cfg.Client = strings.TrimSpace(raw)
	}

	return cfg, nil
}

// Validate checks the invariants every run depends on
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0, got %d", c.Concurrency)
	}
	if c.Requests < 0 {
		return fmt.Errorf("requests must not be negative, got %d", c.Requests)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in [0, 65535], got %d", c.Port)
	}
	if c.ContentBytesSize < 0 {
		return fmt.Errorf("content bytes size must not be negative, got %d", c.ContentBytesSize)
	}
	if c.ServerKeepAliveMillis < 0 || c.ClientSocketTimeoutMillis < 0 || c.ClientConnectTimeoutMillis < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.ServerMaxConnections < 0 {
		return fmt.Errorf("server max connections must not be negative, got %d", c.ServerMaxConnections)
	}
	switch c.Output.Format {
	case "", "console", "json", "csv":
	default:
		return fmt.Errorf("unknown output format %q (want console, json or csv)", c.Output.Format)
	}
	return nil
}

// ServerKeepAlive returns the server idle timeout
func (c Config) ServerKeepAlive() time.Duration {
	return time.Duration(c.ServerKeepAliveMillis) * time.Millisecond
}

// SocketTimeout returns the per-request client read timeout
func (c Config) SocketTimeout() time.Duration {
	return time.Duration(c.ClientSocketTimeoutMillis) * time.Millisecond
}

// ConnectTimeout returns the per-request client connect timeout
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ClientConnectTimeoutMillis) * time.Millisecond
}

// ListenAddr returns the host:port the server binds to
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsQuietOutput reports whether console chatter should be suppressed
func (c Config) IsQuietOutput() bool {
	return c.Quiet || c.Output.Format == "json" || c.Output.Format == "csv"
}
