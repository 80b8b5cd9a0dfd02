package prospector

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("default configuration rejected: %v", err)
	}
	if config.Threads != 50 || config.TimeoutMs != 1000 || config.PortSpec != "1-1024" {
		t.Fatalf("unexpected defaults: %+v", config)
	}
	if !reflect.DeepEqual(config.ReportFormats, []string{"json"}) {
		t.Fatalf("default report formats: %v", config.ReportFormats)
	}
}

func TestConfigValidate_Rejections(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   error
	}{
		"zero threads":           {func(c *Config) { c.Threads = 0 }, ErrInvalidThreadCount},
		"too many threads":       {func(c *Config) { c.Threads = 1001 }, ErrInvalidThreadCount},
		"timeout below floor":    {func(c *Config) { c.TimeoutMs = 99 }, ErrInvalidScanTimeout},
		"timeout above ceiling":  {func(c *Config) { c.TimeoutMs = 60001 }, ErrInvalidScanTimeout},
		"liveness timeout low":   {func(c *Config) { c.LivenessTimeoutMs = 20 }, ErrInvalidLivenessTimeout},
		"liveness timeout high":  {func(c *Config) { c.LivenessTimeoutMs = 10001 }, ErrInvalidLivenessTimeout},
		"no address ceiling":     {func(c *Config) { c.MaxAddresses = 0 }, ErrInvalidCeiling},
		"zero external timeout":  {func(c *Config) { c.ExternalTimeoutMs = 0 }, ErrInvalidExternalSetting},
		"negative retries":       {func(c *Config) { c.ExternalRetries = -1 }, ErrInvalidExternalSetting},
		"zero external rate":     {func(c *Config) { c.ExternalRatePerSec = 0 }, ErrInvalidExternalSetting},
		"zero burst":             {func(c *Config) { c.ExternalBurst = 0 }, ErrInvalidExternalSetting},
		"zero failure threshold": {func(c *Config) { c.FailureThreshold = 0 }, ErrInvalidExternalSetting},
		"empty log directory":    {func(c *Config) { c.LogDir = "" }, ErrInvalidPath},
		"empty report directory": {func(c *Config) { c.ReportDir = "" }, ErrInvalidPath},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(config)
			err := config.Validate()
			if !errors.Is(err, tc.want) {
				t.Fatalf("got error %v, want %v", err, tc.want)
			}
		})
	}
}

func TestConfigValidate_SoftDefaults(t *testing.T) {
	config := DefaultConfig()
	config.LivenessTimeoutMs = 0
	config.EventBuffer = 0
	config.LogLevel = "verbose"
	config.ReportFormats = []string{"xml", "JSON", "bogus", "Csv"}

	if err := config.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LivenessTimeoutMs != 1000 {
		t.Fatalf("liveness timeout default: %d", config.LivenessTimeoutMs)
	}
	if config.EventBuffer != 256 {
		t.Fatalf("event buffer default: %d", config.EventBuffer)
	}
	if config.LogLevel != "info" {
		t.Fatalf("log level fallback: %q", config.LogLevel)
	}
	if !reflect.DeepEqual(config.ReportFormats, []string{"json", "csv"}) {
		t.Fatalf("filtered report formats: %v", config.ReportFormats)
	}

	config.ReportFormats = []string{"xml", "yaml"}
	if err := config.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(config.ReportFormats, []string{"json"}) {
		t.Fatalf("all-invalid formats fallback: %v", config.ReportFormats)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "targets": ["192.168.1.0/24"],
	  "port_spec": "22,80,443",
	  "threads": 10,
	  "timeout_ms": 500
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(config.Targets, []string{"192.168.1.0/24"}) {
		t.Fatalf("targets: %v", config.Targets)
	}
	if config.PortSpec != "22,80,443" || config.Threads != 10 || config.TimeoutMs != 500 {
		t.Fatalf("loaded values: %+v", config)
	}
	// Empty paths pick up the standard directories.
	if config.LogDir != "ghostshell/logging" || config.ReportDir != "ghostshell/reporting" {
		t.Fatalf("path defaults: log=%q report=%q", config.LogDir, config.ReportDir)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("missing file accepted")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatalf("writing bad fixture: %v", err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Fatal("malformed JSON accepted")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	config := DefaultConfig()
	config.Targets = []string{"10.0.0.1", "10.0.0.0/30"}
	config.Threads = 25
	config.OTProbes = true

	if err := config.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(loaded.Targets, config.Targets) {
		t.Fatalf("targets: got %v want %v", loaded.Targets, config.Targets)
	}
	if loaded.Threads != 25 || !loaded.OTProbes {
		t.Fatalf("round-trip values: %+v", loaded)
	}
}

func TestSnapshotCopiesTargets(t *testing.T) {
	config := DefaultConfig()
	config.Targets = []string{"10.0.0.1", "10.0.0.2"}
	config.OTProbes = true

	snapshot := config.Snapshot()
	if !reflect.DeepEqual(snapshot.Targets, config.Targets) {
		t.Fatalf("snapshot targets: %v", snapshot.Targets)
	}
	if snapshot.PortSpec != config.PortSpec || !snapshot.OTProbes {
		t.Fatalf("snapshot fields: %+v", snapshot)
	}

	// Mutating the original must not reach into the snapshot.
	config.Targets[0] = "changed"
	if snapshot.Targets[0] != "10.0.0.1" {
		t.Fatalf("snapshot shares backing array: %v", snapshot.Targets)
	}
}
