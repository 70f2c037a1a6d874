// Package config loads acquisition defaults from JSON. Fields are pointers
// so a config file can override a subset and leave the rest at defaults;
// the same schema is accepted by the HTTP start endpoint.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ScanConfig represents tunable acquisition defaults.
type ScanConfig struct {
	// DeviceCapacity limits points per line the hardware can buffer.
	DeviceCapacity *int `json:"device_capacity,omitempty"`

	// OptimizeEvery auto-requests recalibration every N lines.
	OptimizeEvery *int `json:"optimize_every,omitempty"`

	// AutosaveInterval is a duration string like "60s"; empty disables
	// periodic autosave.
	AutosaveInterval *string `json:"autosave_interval,omitempty"`

	// Sweep defaults.
	Curves     *int     `json:"curves,omitempty"`
	Batched    *bool    `json:"batched,omitempty"`
	MaxSweeps  *int     `json:"max_sweeps,omitempty"`
	RunSeconds *float64 `json:"run_seconds,omitempty"`

	// Display range quantiles for colour scaling.
	DisplayLoQuantile *float64 `json:"display_lo_quantile,omitempty"`
	DisplayHiQuantile *float64 `json:"display_hi_quantile,omitempty"`
}

func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// DefaultScanConfig returns the canonical defaults applied when no config
// file overrides them.
func DefaultScanConfig() *ScanConfig {
	return &ScanConfig{
		DeviceCapacity:    ptrInt(4096),
		OptimizeEvery:     ptrInt(0),
		AutosaveInterval:  ptrString("60s"),
		Curves:            ptrInt(1),
		Batched:           ptrBool(false),
		MaxSweeps:         ptrInt(0),
		RunSeconds:        ptrFloat64(0),
		DisplayLoQuantile: ptrFloat64(0.02),
		DisplayHiQuantile: ptrFloat64(0.98),
	}
}

// Merge overlays non-nil fields of other onto c.
func (c *ScanConfig) Merge(other *ScanConfig) {
	if other == nil {
		return
	}
	if other.DeviceCapacity != nil {
		c.DeviceCapacity = other.DeviceCapacity
	}
	if other.OptimizeEvery != nil {
		c.OptimizeEvery = other.OptimizeEvery
	}
	if other.AutosaveInterval != nil {
		c.AutosaveInterval = other.AutosaveInterval
	}
	if other.Curves != nil {
		c.Curves = other.Curves
	}
	if other.Batched != nil {
		c.Batched = other.Batched
	}
	if other.MaxSweeps != nil {
		c.MaxSweeps = other.MaxSweeps
	}
	if other.RunSeconds != nil {
		c.RunSeconds = other.RunSeconds
	}
	if other.DisplayLoQuantile != nil {
		c.DisplayLoQuantile = other.DisplayLoQuantile
	}
	if other.DisplayHiQuantile != nil {
		c.DisplayHiQuantile = other.DisplayHiQuantile
	}
}

// LoadScanConfig reads a JSON config file and overlays it onto the
// defaults. A missing path returns the plain defaults.
func LoadScanConfig(path string) (*ScanConfig, error) {
	cfg := DefaultScanConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var overlay ScanConfig
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Merge(&overlay)
	return cfg, nil
}

// Validate checks every field and reports all violations at once, so an
// operator fixing a config file sees the full list rather than one error
// per restart.
func (c *ScanConfig) Validate() error {
	var result *multierror.Error

	if c.DeviceCapacity != nil && *c.DeviceCapacity < 0 {
		result = multierror.Append(result, fmt.Errorf("device_capacity must be >= 0, got %d", *c.DeviceCapacity))
	}
	if c.OptimizeEvery != nil && *c.OptimizeEvery < 0 {
		result = multierror.Append(result, fmt.Errorf("optimize_every must be >= 0, got %d", *c.OptimizeEvery))
	}
	if c.Curves != nil && (*c.Curves < 1 || *c.Curves > 3) {
		result = multierror.Append(result, fmt.Errorf("curves must be 1, 2 or 3, got %d", *c.Curves))
	}
	if c.MaxSweeps != nil && *c.MaxSweeps < 0 {
		result = multierror.Append(result, fmt.Errorf("max_sweeps must be >= 0, got %d", *c.MaxSweeps))
	}
	if c.RunSeconds != nil && *c.RunSeconds < 0 {
		result = multierror.Append(result, fmt.Errorf("run_seconds must be >= 0, got %g", *c.RunSeconds))
	}
	if _, err := c.AutosaveDuration(); err != nil {
		result = multierror.Append(result, err)
	}

	lo, hi := 0.0, 1.0
	if c.DisplayLoQuantile != nil {
		lo = *c.DisplayLoQuantile
		if lo < 0 || lo > 1 {
			result = multierror.Append(result, fmt.Errorf("display_lo_quantile must be in [0, 1], got %g", lo))
		}
	}
	if c.DisplayHiQuantile != nil {
		hi = *c.DisplayHiQuantile
		if hi < 0 || hi > 1 {
			result = multierror.Append(result, fmt.Errorf("display_hi_quantile must be in [0, 1], got %g", hi))
		}
	}
	if lo >= hi {
		result = multierror.Append(result, fmt.Errorf("display quantiles must satisfy lo < hi, got [%g, %g]", lo, hi))
	}

	return result.ErrorOrNil()
}

// AutosaveDuration parses the autosave interval. Empty means disabled.
func (c *ScanConfig) AutosaveDuration() (time.Duration, error) {
	if c.AutosaveInterval == nil || *c.AutosaveInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(*c.AutosaveInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid autosave_interval %q: %w", *c.AutosaveInterval, err)
	}
	return d, nil
}
