package models

import (
	"fmt"
	"math"
	"time"
)

// Side represents the direction of a trading signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Tier is the coarse quality bucket derived from a signal's confidence.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// TierForConfidence maps a confidence score to its quality tier.
func TierForConfidence(confidence float64) Tier {
	switch {
	case confidence >= 85:
		return TierS
	case confidence >= 70:
		return TierA
	case confidence >= 55:
		return TierB
	default:
		return TierC
	}
}

// DefaultSignalHorizon is how long a signal stays actionable after creation.
const DefaultSignalHorizon = 2 * time.Hour

// MinRewardRisk is the admission floor for the reward/risk ratio.
const MinRewardRisk = 2.5

// Signal is an immutable trading recommendation produced by the generator.
type Signal struct {
	Symbol           string    `json:"symbol"`
	Side             Side      `json:"side"`
	Entry            float64   `json:"entry"`
	Stop             float64   `json:"stop"`
	Target           float64   `json:"target"`
	Confidence       float64   `json:"confidence"`
	Tier             Tier      `json:"tier"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	Reasoning        []string  `json:"reasoning"`
	IndicatorsUsed   []string  `json:"indicators_used"`
	PatternsDetected []string  `json:"patterns_detected"`
}

// RewardRisk returns |target-entry| / |entry-stop|, or 0 when the stop
// distance is degenerate.
func (s Signal) RewardRisk() float64 {
	risk := math.Abs(s.Entry - s.Stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(s.Target-s.Entry) / risk
}

// Tags returns the union of indicator and pattern tags that contributed to
// the signal. Used by the learning ledger for weight updates.
func (s Signal) Tags() []string {
	seen := make(map[string]struct{}, len(s.IndicatorsUsed)+len(s.PatternsDetected))
	tags := make([]string, 0, len(s.IndicatorsUsed)+len(s.PatternsDetected))
	for _, t := range s.IndicatorsUsed {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	for _, t := range s.PatternsDetected {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	return tags
}

// Validate checks the structural invariants of a signal.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal has empty symbol")
	}
	if s.Side != SideLong && s.Side != SideShort {
		return fmt.Errorf("signal %s has invalid side %q", s.Symbol, s.Side)
	}
	if s.Entry <= 0 || s.Stop <= 0 || s.Target <= 0 {
		return fmt.Errorf("signal %s has non-positive price levels", s.Symbol)
	}
	if s.Side == SideLong && !(s.Stop < s.Entry && s.Entry < s.Target) {
		return fmt.Errorf("signal %s LONG requires stop < entry < target", s.Symbol)
	}
	if s.Side == SideShort && !(s.Target < s.Entry && s.Entry < s.Stop) {
		return fmt.Errorf("signal %s SHORT requires target < entry < stop", s.Symbol)
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("signal %s confidence %.1f out of range", s.Symbol, s.Confidence)
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return fmt.Errorf("signal %s expires before creation", s.Symbol)
	}
	if len(s.Reasoning) == 0 {
		return fmt.Errorf("signal %s has no reasoning", s.Symbol)
	}
	if s.RewardRisk() < MinRewardRisk {
		return fmt.Errorf("signal %s reward/risk %.2f below %.1f", s.Symbol, s.RewardRisk(), MinRewardRisk)
	}
	return nil
}
