// Package drift scores semantic divergence between an original instruction
// and an agent's current interpretation of it, and checks the agent's
// interpretation against a set of constraint invariants.
//
// The scoring contract is fixed: deterministic for identical inputs, bounded
// to [0,1], 0 for identical intents. The concrete similarity method is
// pluggable behind the Scorer interface; the default is lexical.
package drift

import (
	"fmt"
)

// Verdict classifies a drift score against configured thresholds.
type Verdict string

const (
	VerdictAligned    Verdict = "aligned"
	VerdictMinorDrift Verdict = "minor_drift"
	VerdictMajorDrift Verdict = "major_drift"
)

// Thresholds bound the verdict bands. Scores below Aligned are aligned,
// scores above Major are major drift, everything between is minor drift.
type Thresholds struct {
	Aligned float64 `yaml:"aligned" json:"aligned"`
	Major   float64 `yaml:"major" json:"major"`
}

// DefaultThresholds returns the documented default bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Aligned: 0.2, Major: 0.6}
}

// Report is the result of comparing two intents against constraints.
type Report struct {
	Score               float64  `json:"score"`
	ViolatedConstraints []string `json:"violated_constraints"`
	Verdict             Verdict  `json:"verdict"`
}

// Config configures a Detector.
type Config struct {
	Scorer     Scorer
	Thresholds Thresholds
}

// Detector compares intents and evaluates constraints.
type Detector struct {
	scorer     Scorer
	thresholds Thresholds
	cel        *celEvaluator
}

// NewDetector builds a Detector. A nil Scorer falls back to the lexical
// default; zero Thresholds fall back to the documented defaults.
func NewDetector(cfg Config) (*Detector, error) {
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = NewLexicalScorer()
	}

	thresholds := cfg.Thresholds
	if thresholds.Aligned == 0 && thresholds.Major == 0 {
		thresholds = DefaultThresholds()
	}
	if thresholds.Aligned < 0 || thresholds.Major > 1 || thresholds.Aligned > thresholds.Major {
		return nil, fmt.Errorf("drift: invalid thresholds aligned=%v major=%v", thresholds.Aligned, thresholds.Major)
	}

	evaluator, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}

	return &Detector{scorer: scorer, thresholds: thresholds, cel: evaluator}, nil
}

// Compare scores the divergence of current from original and evaluates each
// constraint independently against the current intent.
func (d *Detector) Compare(original, current string, constraints []string) (Report, error) {
	score, err := d.scorer.Score(original, current)
	if err != nil {
		return Report{}, fmt.Errorf("drift: scorer failed: %w", err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	violated := make([]string, 0)
	for _, constraint := range constraints {
		if d.violates(constraint, original, current) {
			violated = append(violated, constraint)
		}
	}

	return Report{
		Score:               score,
		ViolatedConstraints: violated,
		Verdict:             d.verdict(score),
	}, nil
}

func (d *Detector) verdict(score float64) Verdict {
	switch {
	case score < d.thresholds.Aligned:
		return VerdictAligned
	case score > d.thresholds.Major:
		return VerdictMajorDrift
	default:
		return VerdictMinorDrift
	}
}

// Thresholds exposes the active threshold configuration.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}
