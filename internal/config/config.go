// Package config loads and validates the reconx TOML configuration.
//
// The file is optional: every field has a compiled-in default. The run
// command reads the dispatch backend, its Docker settings and the
// per-handler timeout ceilings from it (--sandbox overrides the backend).
// The [scheduler] table is loaded and validated, but the run command does
// not read it: max-parallel, timeout and rate come from the CLI flags and
// their own defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Scheduler holds the [scheduler] table. The run command does not read it;
// its --max-parallel, --timeout and --rate flags set these values instead.
type Scheduler struct {
	MaxParallel int      `toml:"max_parallel"`
	Timeout     Duration `toml:"timeout"`
	RatePerSec  float64  `toml:"rate_per_sec"`
}

// Dispatch selects and configures the adapter-dispatch execution backend.
type Dispatch struct {
	// Backend is "host" (run recon_layerN.sh directly) or "docker" (run it
	// sandboxed in a container). Default "host".
	Backend string `toml:"backend"`
	Docker  Docker `toml:"docker"`
}

// Docker configures the sandboxed dispatch backend.
type Docker struct {
	Image     string  `toml:"image"`
	CPUs      float64 `toml:"cpus"`
	MemoryMB  int64   `toml:"memory_mb"`
	NetworkOn bool    `toml:"network_on"`
}

// Handlers holds per-built-in-handler timeout ceilings, in seconds
// (HTTP probe 30s, banner grab 15s, ...).
type Handlers struct {
	HTTPEnumSeconds  int `toml:"http_enum_seconds"`
	SSHBannerSeconds int `toml:"ssh_banner_seconds"`
	DNSEnumSeconds   int `toml:"dns_enum_seconds"`
	TLSProbeSeconds  int `toml:"tls_probe_seconds"`
	NmapSeconds      int `toml:"nmap_seconds"`
}

// Config is the root reconx configuration document.
type Config struct {
	Scheduler Scheduler `toml:"scheduler"`
	Dispatch  Dispatch  `toml:"dispatch"`
	Handlers  Handlers  `toml:"handlers"`
}

// Default returns the compiled-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Scheduler: Scheduler{
			MaxParallel: 1,
			Timeout:     Duration{600 * time.Second},
			RatePerSec:  0,
		},
		Dispatch: Dispatch{
			Backend: "host",
			Docker: Docker{
				Image:     "reconx-sandbox:latest",
				CPUs:      1.0,
				MemoryMB:  512,
				NetworkOn: true,
			},
		},
		Handlers: Handlers{
			HTTPEnumSeconds:  30,
			SSHBannerSeconds: 15,
			DNSEnumSeconds:   60,
			TLSProbeSeconds:  40,
			NmapSeconds:      120,
		},
	}
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	return &cloned
}

// Load reads and validates a reconx TOML configuration file, filling in any
// field the file omits from Default(). A missing file is an error here;
// LoadOrDefault is the variant that falls back to Default() when the file
// does not exist, matching the CLI's --config flag semantics.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists, otherwise returns Default().
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Scheduler.MaxParallel <= 0 {
		cfg.Scheduler.MaxParallel = d.Scheduler.MaxParallel
	}
	if cfg.Scheduler.Timeout.Duration <= 0 {
		cfg.Scheduler.Timeout = d.Scheduler.Timeout
	}
	if strings.TrimSpace(cfg.Dispatch.Backend) == "" {
		cfg.Dispatch.Backend = d.Dispatch.Backend
	}
	if strings.TrimSpace(cfg.Dispatch.Docker.Image) == "" {
		cfg.Dispatch.Docker.Image = d.Dispatch.Docker.Image
	}
	if cfg.Dispatch.Docker.CPUs <= 0 {
		cfg.Dispatch.Docker.CPUs = d.Dispatch.Docker.CPUs
	}
	if cfg.Dispatch.Docker.MemoryMB <= 0 {
		cfg.Dispatch.Docker.MemoryMB = d.Dispatch.Docker.MemoryMB
	}
	if cfg.Handlers.HTTPEnumSeconds <= 0 {
		cfg.Handlers.HTTPEnumSeconds = d.Handlers.HTTPEnumSeconds
	}
	if cfg.Handlers.SSHBannerSeconds <= 0 {
		cfg.Handlers.SSHBannerSeconds = d.Handlers.SSHBannerSeconds
	}
	if cfg.Handlers.DNSEnumSeconds <= 0 {
		cfg.Handlers.DNSEnumSeconds = d.Handlers.DNSEnumSeconds
	}
	if cfg.Handlers.TLSProbeSeconds <= 0 {
		cfg.Handlers.TLSProbeSeconds = d.Handlers.TLSProbeSeconds
	}
	if cfg.Handlers.NmapSeconds <= 0 {
		cfg.Handlers.NmapSeconds = d.Handlers.NmapSeconds
	}
}

func validate(cfg *Config) error {
	switch cfg.Dispatch.Backend {
	case "host", "docker":
	default:
		return fmt.Errorf("dispatch.backend must be %q or %q, got %q", "host", "docker", cfg.Dispatch.Backend)
	}
	if cfg.Scheduler.RatePerSec < 0 {
		return fmt.Errorf("scheduler.rate_per_sec must be >= 0")
	}
	return nil
}
