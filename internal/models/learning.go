package models

import "time"

// PredictedDirection is the call an analysis makes about a symbol.
type PredictedDirection string

const (
	PredictBuy  PredictedDirection = "BUY"
	PredictSell PredictedDirection = "SELL"
	PredictHold PredictedDirection = "HOLD"
)

// ActualDirection is the observed market outcome a prediction resolves against.
type ActualDirection string

const (
	ActualUp   ActualDirection = "UP"
	ActualDown ActualDirection = "DOWN"
	ActualFlat ActualDirection = "FLAT"
)

// AIAnalysis is the durable record of one generated analysis.
type AIAnalysis struct {
	ID               string             `json:"id"`
	Symbol           string             `json:"symbol"`
	Direction        PredictedDirection `json:"direction"`
	Confidence       float64            `json:"confidence"`
	Entry            float64            `json:"entry"`
	Stop             float64            `json:"stop"`
	Target           float64            `json:"target"`
	Reasoning        []string           `json:"reasoning"`
	IndicatorsUsed   []string           `json:"indicators_used"`
	PatternsDetected []string           `json:"patterns_detected"`
	CreatedAt        time.Time          `json:"created_at"`
	Prediction       *Prediction        `json:"prediction,omitempty"`
}

// Prediction tracks an analysis until its outcome is known.
type Prediction struct {
	AnalysisID          string             `json:"analysis_id"`
	PredictedDirection  PredictedDirection `json:"predicted_dir"`
	PredictedConfidence float64            `json:"predicted_confidence"`
	ActualDirection     *ActualDirection   `json:"actual_dir,omitempty"`
	ActualPnLPct        *float64           `json:"actual_pnl,omitempty"`
	WasCorrect          *bool              `json:"was_correct,omitempty"`
	ResolvedAt          *time.Time         `json:"resolved_at,omitempty"`
}

// Resolved reports whether the prediction has an outcome.
func (p Prediction) Resolved() bool {
	return p.ResolvedAt != nil
}

// Progress aggregates prediction outcomes into level and accuracy.
type Progress struct {
	Level         int     `json:"level"`
	XP            int     `json:"xp"`
	TotalAnalyses int     `json:"total_analyses"`
	Correct       int     `json:"correct"`
	Incorrect     int     `json:"incorrect"`
	Pending       int     `json:"pending"`
	Accuracy      float64 `json:"accuracy"`
}

// Recompute derives level and accuracy from the counters.
func (p *Progress) Recompute() {
	p.Level = p.XP/1000 + 1
	if total := p.Correct + p.Incorrect; total > 0 {
		p.Accuracy = float64(p.Correct) / float64(total)
	} else {
		p.Accuracy = 0
	}
}

// PatternOutcome counts resolved outcomes per strategy tag.
type PatternOutcome struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Total  int `json:"total"`
}

// Weight bounds for strategy tags.
const (
	MinStrategyWeight     = 0.1
	MaxStrategyWeight     = 5.0
	DefaultStrategyWeight = 1.0
)

// ClampWeight keeps a strategy weight inside its allowed band.
func ClampWeight(w float64) float64 {
	if w < MinStrategyWeight {
		return MinStrategyWeight
	}
	if w > MaxStrategyWeight {
		return MaxStrategyWeight
	}
	return w
}

// LearningSnapshot is the persisted on-disk form of the learning ledger.
type LearningSnapshot struct {
	TotalTrades     int                       `json:"total_trades"`
	WinningTrades   int                       `json:"winning_trades"`
	LosingTrades    int                       `json:"losing_trades"`
	TotalPnL        float64                   `json:"total_pnl"`
	WinRate         float64                   `json:"win_rate"`
	PatternsLearned map[string]PatternOutcome `json:"patterns_learned"`
	StrategyWeights map[string]float64        `json:"current_strategy_weights"`
	Analyses        []AIAnalysis              `json:"analyses"`
	Progress        Progress                  `json:"progress"`
	LastUpdated     time.Time                 `json:"last_updated"`
}
