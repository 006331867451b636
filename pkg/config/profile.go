package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weftlabs/weft/pkg/drift"
)

// Profile is a deployment profile: which networks anchor batches land on,
// how drift is scored, and how the background poller runs.
type Profile struct {
	Name     string          `yaml:"name" json:"name"`
	Networks []NetworkConfig `yaml:"networks" json:"networks"`
	Drift    DriftConfig     `yaml:"drift" json:"drift"`
	Anchor   AnchorConfig    `yaml:"anchor" json:"anchor"`
	Limits   LimitsConfig    `yaml:"limits" json:"limits"`
}

// NetworkConfig configures one anchoring network adapter.
type NetworkConfig struct {
	Name           string `yaml:"name" json:"name"`
	Kind           string `yaml:"kind" json:"kind"` // "evm" | "solana"
	Endpoint       string `yaml:"endpoint" json:"endpoint"`
	ChainID        uint64 `yaml:"chain_id,omitempty" json:"chain_id,omitempty"`
	From           string `yaml:"from,omitempty" json:"from,omitempty"`
	To             string `yaml:"to,omitempty" json:"to,omitempty"`
	Payer          string `yaml:"payer,omitempty" json:"payer,omitempty"`
	Finality       uint64 `yaml:"finality" json:"finality"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Timeout returns the per-call adapter timeout.
func (n NetworkConfig) Timeout() time.Duration {
	if n.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// DriftConfig holds the intent drift verdict thresholds.
type DriftConfig struct {
	AlignedBelow float64 `yaml:"aligned_below" json:"aligned_below"`
	MajorAbove   float64 `yaml:"major_above" json:"major_above"`
}

// Thresholds maps the profile values onto drift thresholds, falling back to
// the defaults when unset.
func (d DriftConfig) Thresholds() drift.Thresholds {
	t := drift.DefaultThresholds()
	if d.AlignedBelow > 0 {
		t.Aligned = d.AlignedBelow
	}
	if d.MajorAbove > 0 {
		t.Major = d.MajorAbove
	}
	return t
}

// AnchorConfig controls the confirmation poller.
type AnchorConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
}

// PollInterval returns the poll cadence, defaulting to 30s.
func (a AnchorConfig) PollInterval() time.Duration {
	if a.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.PollIntervalSeconds) * time.Second
}

// LimitsConfig is the per-caller API rate limit.
type LimitsConfig struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// LoadProfile reads and validates a deployment profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}

	for i, n := range p.Networks {
		if n.Name == "" {
			return nil, fmt.Errorf("profile %q: network %d has no name", path, i)
		}
		if n.Kind != "evm" && n.Kind != "solana" {
			return nil, fmt.Errorf("profile %q: network %q has unknown kind %q", path, n.Name, n.Kind)
		}
		if n.Endpoint == "" {
			return nil, fmt.Errorf("profile %q: network %q has no endpoint", path, n.Name)
		}
		if n.Finality == 0 {
			return nil, fmt.Errorf("profile %q: network %q has no finality depth", path, n.Name)
		}
	}
	return &p, nil
}
