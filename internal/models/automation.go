package models

import "github.com/cryptodash/autopilot/internal/utils"

// AutomationSettings is the enumerated settings bag accepted by the
// supervisor's start call. Unknown keys are rejected at the transport layer;
// out-of-range values are rejected here.
type AutomationSettings struct {
	MaxDailyTrades   int     `json:"maxDailyTrades"`
	MaxPositionSize  float64 `json:"maxPositionSize"`
	MinConfidence    float64 `json:"minConfidence"`
	AllowedTiers     []Tier  `json:"allowedTiers"`
	PracticeOnly     bool    `json:"practiceOnly"`
	CheckIntervalSec int     `json:"checkIntervalSec"`
}

// DefaultAutomationSettings returns the settings used when start is called
// with an empty body.
func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{
		MaxDailyTrades:   10,
		MaxPositionSize:  50,
		MinConfidence:    70,
		AllowedTiers:     []Tier{TierS, TierA},
		PracticeOnly:     true,
		CheckIntervalSec: 30,
	}
}

// Validate checks every field range and returns a ConfigError on the first
// violation.
func (s AutomationSettings) Validate() error {
	if s.MaxDailyTrades < 1 || s.MaxDailyTrades > 100 {
		return utils.NewConfigError("maxDailyTrades", "must be between 1 and 100, got %d", s.MaxDailyTrades)
	}
	if s.MaxPositionSize <= 0 {
		return utils.NewConfigError("maxPositionSize", "must be positive, got %.2f", s.MaxPositionSize)
	}
	if s.MinConfidence < 0 || s.MinConfidence > 100 {
		return utils.NewConfigError("minConfidence", "must be between 0 and 100, got %.1f", s.MinConfidence)
	}
	for _, t := range s.AllowedTiers {
		switch t {
		case TierS, TierA, TierB, TierC:
		default:
			return utils.NewConfigError("allowedTiers", "unknown tier %q", t)
		}
	}
	if s.CheckIntervalSec < 5 || s.CheckIntervalSec > 3600 {
		return utils.NewConfigError("checkIntervalSec", "must be between 5 and 3600, got %d", s.CheckIntervalSec)
	}
	return nil
}
