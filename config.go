package prospector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config errors
var (
	ErrInvalidThreadCount     = errors.New("invalid thread count")
	ErrInvalidScanTimeout     = errors.New("invalid scan timeout")
	ErrInvalidLivenessTimeout = errors.New("invalid liveness timeout")
	ErrInvalidCeiling         = errors.New("invalid expansion ceiling")
	ErrInvalidExternalSetting = errors.New("invalid external query setting")
	ErrInvalidPath            = errors.New("invalid path")
)

// Config represents the configuration for a Prospector scan run. Zero values
// are filled in by Validate where a safe default exists; hard limits follow
// the bounds the engine was tuned for.
type Config struct {
	// Scan targets and port space
	Targets  []string `json:"targets"`
	PortSpec string   `json:"port_spec"`

	// Concurrency and timing
	Threads           int   `json:"threads"`
	TimeoutMs         int   `json:"timeout_ms"`
	LivenessTimeoutMs int   `json:"liveness_timeout_ms"`
	Randomize         bool  `json:"randomize"`
	Seed              int64 `json:"seed"`

	// Probe behavior
	SkipLiveness bool `json:"skip_liveness"`
	OTProbes     bool `json:"ot_probes"`
	DeepProbes   bool `json:"deep_probes"`

	// Target expansion safety ceiling (addresses per run)
	MaxAddresses int `json:"max_addresses"`

	// Vulnerability correlation
	Offline            bool    `json:"offline"`
	ExternalTimeoutMs  int     `json:"external_timeout_ms"`
	ExternalRetries    int     `json:"external_retries"`
	ExternalRatePerSec float64 `json:"external_rate_per_sec"`
	ExternalBurst      int     `json:"external_burst"`
	FailureThreshold   int     `json:"failure_threshold"`

	// Caching
	EnableCaching   bool `json:"enable_caching"`
	CacheTTLMinutes int  `json:"cache_ttl_minutes"`

	// Progress events
	EventBuffer int `json:"event_buffer"`

	// Plugins
	PluginDir     string                            `json:"plugin_dir,omitempty"`
	PluginConfigs map[string]map[string]interface{} `json:"plugin_configs,omitempty"`

	// Logging configuration
	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`

	// Report configuration
	ReportDir     string   `json:"report_dir"`
	ReportFormats []string `json:"report_formats"`
	ConsoleReport bool     `json:"console_report"`

	// Metrics configuration
	MetricsEnabled  bool   `json:"metrics_enabled"`
	MetricsPort     string `json:"metrics_port"`
	MetricsTLS      bool   `json:"metrics_tls"`
	MetricsHostname string `json:"metrics_hostname"`
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults for empty paths
	if config.LogDir == "" {
		config.LogDir = "ghostshell/logging"
	}
	if config.ReportDir == "" {
		config.ReportDir = "ghostshell/reporting"
	}

	return &config, nil
}

// SaveConfig saves the current configuration to a file
func (c *Config) SaveConfig(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		PortSpec:          "1-1024",
		Threads:           50,
		TimeoutMs:         1000,
		LivenessTimeoutMs: 1000,
		Randomize:         false,
		Seed:              0,

		SkipLiveness: false,
		OTProbes:     false,
		DeepProbes:   false,

		MaxAddresses: 65536,

		Offline:            false,
		ExternalTimeoutMs:  10000,
		ExternalRetries:    2,
		ExternalRatePerSec: 1.0,
		ExternalBurst:      2,
		FailureThreshold:   5,

		EnableCaching:   true,
		CacheTTLMinutes: 60,

		EventBuffer: 256,

		LogDir:   "ghostshell/logging",
		LogLevel: "info",

		ReportDir:     "ghostshell/reporting",
		ReportFormats: []string{"json"},
		ConsoleReport: true,

		MetricsEnabled:  false,
		MetricsPort:     "9090",
		MetricsTLS:      false,
		MetricsHostname: "localhost",
	}
}

// Validate checks if the configuration is valid. Out-of-range values that
// have no safe substitute are rejected; soft fields fall back to defaults.
func (c *Config) Validate() error {
	if c.Threads < 1 || c.Threads > 1000 {
		return fmt.Errorf("%w: %d (must be 1-1000)", ErrInvalidThreadCount, c.Threads)
	}

	if c.TimeoutMs < 100 || c.TimeoutMs > 60000 {
		return fmt.Errorf("%w: %dms (must be 100-60000)", ErrInvalidScanTimeout, c.TimeoutMs)
	}

	if c.LivenessTimeoutMs == 0 {
		c.LivenessTimeoutMs = 1000
	}
	if c.LivenessTimeoutMs < 50 || c.LivenessTimeoutMs > 10000 {
		return fmt.Errorf("%w: %dms (must be 50-10000)", ErrInvalidLivenessTimeout, c.LivenessTimeoutMs)
	}

	if c.MaxAddresses < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCeiling, c.MaxAddresses)
	}

	if c.ExternalTimeoutMs < 1 {
		return fmt.Errorf("%w: timeout %dms", ErrInvalidExternalSetting, c.ExternalTimeoutMs)
	}
	if c.ExternalRetries < 0 {
		return fmt.Errorf("%w: retries %d", ErrInvalidExternalSetting, c.ExternalRetries)
	}
	if c.ExternalRatePerSec <= 0 {
		return fmt.Errorf("%w: rate %.2f/s", ErrInvalidExternalSetting, c.ExternalRatePerSec)
	}
	if c.ExternalBurst < 1 {
		return fmt.Errorf("%w: burst %d", ErrInvalidExternalSetting, c.ExternalBurst)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure threshold %d", ErrInvalidExternalSetting, c.FailureThreshold)
	}

	if c.EventBuffer < 1 {
		c.EventBuffer = 256
	}

	// Directory validation
	if c.LogDir == "" || c.ReportDir == "" {
		return fmt.Errorf("%w: directory paths cannot be empty", ErrInvalidPath)
	}

	// Log level validation
	logLevel := strings.ToLower(c.LogLevel)
	if logLevel != "debug" && logLevel != "info" && logLevel != "warn" && logLevel != "error" {
		c.LogLevel = "info" // Default to info if invalid
	}

	// Report format validation
	validFormats := map[string]bool{
		"text": true,
		"csv":  true,
		"pdf":  true,
		"json": true,
		"html": true,
	}
	kept := c.ReportFormats[:0]
	for _, format := range c.ReportFormats {
		format = strings.ToLower(format)
		if validFormats[format] {
			kept = append(kept, format)
		}
	}
	c.ReportFormats = kept
	if len(c.ReportFormats) == 0 {
		c.ReportFormats = []string{"json"}
	}

	return nil
}

// Options is the immutable snapshot of the settings a run was started with,
// embedded in the ScanReport so a report is interpretable on its own.
type Options struct {
	Targets      []string `json:"targets"`
	PortSpec     string   `json:"port_spec"`
	Threads      int      `json:"threads"`
	TimeoutMs    int      `json:"timeout_ms"`
	Randomize    bool     `json:"randomize"`
	Offline      bool     `json:"offline"`
	OTProbes     bool     `json:"ot_probes"`
	SkipLiveness bool     `json:"skip_liveness"`
}

// Snapshot captures the report-relevant subset of the configuration.
func (c *Config) Snapshot() Options {
	targets := make([]string, len(c.Targets))
	copy(targets, c.Targets)
	return Options{
		Targets:      targets,
		PortSpec:     c.PortSpec,
		Threads:      c.Threads,
		TimeoutMs:    c.TimeoutMs,
		Randomize:    c.Randomize,
		Offline:      c.Offline,
		OTProbes:     c.OTProbes,
		SkipLiveness: c.SkipLiveness,
	}
}
