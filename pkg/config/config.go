// Package config defines ipfixprobe's JSON configuration file schema,
// following cmd/goProbe/config/config.go's pattern: a per-section
// validator interface, one struct per concern, and a top-level
// Validate that runs every section in turn. Most fields here have a
// corresponding CLI flag; the JSON file and the flags both
// populate the same Config, with flags taking precedence (cmd/
// ipfixprobe's buildConfig loads the file first, then overlays
// any flags the user actually set).
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// validator is the contract a config section satisfies to participate
// in Config.Validate.
type validator interface {
	validate() error
}

// Config is the root of ipfixprobe's configuration.
type Config struct {
	Capture  CaptureConfig  `json:"capture"`
	Cache    CacheConfig    `json:"cache"`
	Exporter ExporterConfig `json:"exporter"`
	Plugins  []PluginConfig `json:"plugins"`
	Logging  LogConfig      `json:"logging"`
	API      *APIConfig     `json:"api,omitempty"`
}

// CaptureConfig configures the input side: a live interface set or a
// replay file, mutually exclusive (-I/-r on the command line).
type CaptureConfig struct {
	Interfaces     []string `json:"interfaces"`
	File           string   `json:"file"`
	Count          int      `json:"count"`
	SnapshotLength int      `json:"snapshot_length"`
	Filter         string   `json:"filter"`
	Promiscuous    bool     `json:"promiscuous"`
	QueueDepth     int      `json:"queue_depth"`
}

// CacheConfig configures the flow cache (-t/-s/-S on the command line).
type CacheConfig struct {
	ActiveTimeout      time.Duration `json:"active_timeout"`
	InactiveTimeout    time.Duration `json:"inactive_timeout"`
	SizeExponent       int           `json:"size_exponent"`
	StatisticsInterval time.Duration `json:"statistics_interval"`
}

// ExporterConfig configures the IPFIX collector connection
// (-x/-u/-e/-m/-L/-D/-O/-Q on the command line).
type ExporterConfig struct {
	Host             string        `json:"host"`
	Port             string        `json:"port"`
	UDP              bool          `json:"udp"`
	MTU              int           `json:"mtu"`
	FPS              int           `json:"fps"`
	LinkBitField     uint8         `json:"link_bit_field"`
	DirBitField      uint8         `json:"dir_bit_field"`
	ODID             bool          `json:"odid"`
	QueueDepth       int           `json:"queue_depth"`
	ReconnectTimeout time.Duration `json:"reconnect_timeout"`
}

// PluginConfig names one plugin to load and its key=value parameters
// (-p NAME[:key=value...] on the command line).
type PluginConfig struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// LogConfig mirrors cmd/goProbe/config/config.go's LogConfig.
type LogConfig struct {
	Destination string `json:"destination"`
	Level       string `json:"level"`
	Encoding    string `json:"encoding"`
}

// APIConfig configures the optional status/metrics HTTP surface
// (pkg/api), mirroring cmd/goProbe/config/config.go's APIConfig
// including its API-key length/demo-key guard rail.
type APIConfig struct {
	Host    string   `json:"host"`
	Port    string   `json:"port"`
	Metrics bool     `json:"metrics"`
	Logging bool     `json:"request_logging"`
	Keys    []string `json:"keys"`
}

// demoKeys are API keys that must never be used in production; carried
// from cmd/goProbe/config/config.go's README-example guard rail.
var demoKeys = map[string]struct{}{
	"da53ae3fb482db63d9606a9324a694bf51f7ad47623c04ab7b97a811f2a78e05": {},
	"9e3b84ae1437a73154ac5c48a37d5085a3f6e68621b56b626f81620de271a2f6": {},
}

// New returns a Config populated with the defaults documented for the
// command-line flags left unset.
func New() *Config {
	return &Config{
		Capture: CaptureConfig{
			SnapshotLength: 65535,
			QueueDepth:     64,
		},
		Cache: CacheConfig{
			ActiveTimeout:   300 * time.Second,
			InactiveTimeout: 30 * time.Second,
			SizeExponent:    17,
		},
		Exporter: ExporterConfig{
			MTU:              1458,
			QueueDepth:       16536,
			ReconnectTimeout: 5 * time.Second,
		},
		Logging: LogConfig{
			Encoding: "logfmt",
			Level:    "info",
		},
	}
}

func (c CaptureConfig) validate() error {
	if len(c.Interfaces) == 0 && c.File == "" {
		return fmt.Errorf("either at least one interface or a capture file must be specified")
	}
	if len(c.Interfaces) > 0 && c.File != "" {
		return fmt.Errorf("interfaces and a capture file are mutually exclusive")
	}
	if c.SnapshotLength < 120 || c.SnapshotLength > 65535 {
		return fmt.Errorf("snapshot length must be within [120, 65535], got %d", c.SnapshotLength)
	}
	if c.Count < 0 {
		return fmt.Errorf("packet count must not be negative")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("capture queue depth must be a positive number")
	}
	return nil
}

func (c CacheConfig) validate() error {
	if c.SizeExponent < 4 || c.SizeExponent > 30 {
		return fmt.Errorf("cache size exponent must be within [4, 30], got %d", c.SizeExponent)
	}
	if c.ActiveTimeout <= 0 {
		return fmt.Errorf("active timeout must be a positive duration")
	}
	if c.InactiveTimeout <= 0 {
		return fmt.Errorf("inactive timeout must be a positive duration")
	}
	return nil
}

func (e ExporterConfig) validate() error {
	if e.Host == "" {
		return fmt.Errorf("no IPFIX collector host specified")
	}
	if e.Port == "" {
		return fmt.Errorf("no IPFIX collector port specified")
	}
	if e.MTU <= 0 {
		return fmt.Errorf("mtu must be a positive number")
	}
	if e.FPS < 0 {
		return fmt.Errorf("fps must not be negative")
	}
	if e.QueueDepth <= 0 {
		return fmt.Errorf("export queue depth must be a positive number")
	}
	return nil
}

func (p PluginConfig) validate() error {
	if p.Name == "" {
		return fmt.Errorf("a plugin entry must name a plugin")
	}
	return nil
}

type plugins []PluginConfig

func (ps plugins) validate() error {
	for _, p := range ps {
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (l LogConfig) validate() error {
	return nil
}

func (a APIConfig) validate() error {
	if a.Port == "" {
		return fmt.Errorf("no port specified for the API server")
	}
	for _, key := range a.Keys {
		if err := checkKeyConstraints(key); err != nil {
			return err
		}
	}
	return nil
}

func checkKeyConstraints(key string) error {
	if len(key) < 32 {
		return fmt.Errorf("API key %q considered insecure: insufficient key length %d", key, len(key))
	}
	if _, usedIt := demoKeys[key]; usedIt {
		return fmt.Errorf("API key %q considered compromised: identical to a demo key shipped in documentation", key)
	}
	return nil
}

// Validate runs every section's validator in turn, stopping at the
// first failure.
func (c *Config) Validate() error {
	sections := []validator{
		c.Capture,
		c.Cache,
		c.Exporter,
		plugins(c.Plugins),
		c.Logging,
	}
	if c.API != nil {
		sections = append(sections, c.API)
	}
	for _, section := range sections {
		if err := section.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseFile reads and validates a configuration from a file at path.
func ParseFile(path string) (*Config, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	return Parse(fd)
}

// Parse reads and validates a configuration from src, starting from
// New's defaults so unset JSON fields keep their default value.
func Parse(src io.Reader) (*Config, error) {
	cfg := New()
	if err := json.NewDecoder(src).Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
