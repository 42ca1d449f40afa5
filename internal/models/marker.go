package models

import (
	"fmt"
	"time"
)

// MarkerStatus is the lifecycle state of a trade marker.
type MarkerStatus string

const (
	MarkerActive      MarkerStatus = "ACTIVE"
	MarkerClosed      MarkerStatus = "CLOSED"
	MarkerStopped     MarkerStatus = "STOPPED"
	MarkerProfitTaken MarkerStatus = "PROFIT_TAKEN"
)

// Terminal reports whether the status is a terminal state.
func (s MarkerStatus) Terminal() bool {
	return s == MarkerClosed || s == MarkerStopped || s == MarkerProfitTaken
}

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseManual     CloseReason = "MANUAL"
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
)

// Status maps a close reason to the marker's terminal status.
func (r CloseReason) Status() MarkerStatus {
	switch r {
	case CloseStopLoss:
		return MarkerStopped
	case CloseTakeProfit:
		return MarkerProfitTaken
	default:
		return MarkerClosed
	}
}

// Marker is the durable record of an open or closed position. Values are
// immutable; transitions return a new marker and the store owns the swap-in.
type Marker struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Side       Side         `json:"side"`
	Entry      float64      `json:"entry"`
	Stop       float64      `json:"stop"`
	Target     float64      `json:"target"`
	Quantity   float64      `json:"quantity"`
	OpenedAt   time.Time    `json:"opened_at"`
	Status     MarkerStatus `json:"status"`
	PnL        *float64     `json:"pnl,omitempty"`
	ExitPrice  *float64     `json:"exit_price,omitempty"`
	ClosedAt   *time.Time   `json:"closed_at,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	Tier       *Tier        `json:"tier,omitempty"`
	AnalysisID string       `json:"analysis_id,omitempty"`
}

// MarkerID derives the deterministic identifier for a position.
func MarkerID(symbol string, side Side, openedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", symbol, side, openedAt.UnixNano())
}

// NewMarker opens an ACTIVE marker for an executed signal.
func NewMarker(sig Signal, quantity float64, openedAt time.Time, analysisID string) Marker {
	conf := sig.Confidence
	tier := sig.Tier
	return Marker{
		ID:         MarkerID(sig.Symbol, sig.Side, openedAt),
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Entry:      sig.Entry,
		Stop:       sig.Stop,
		Target:     sig.Target,
		Quantity:   quantity,
		OpenedAt:   openedAt,
		Status:     MarkerActive,
		Confidence: &conf,
		Tier:       &tier,
		AnalysisID: analysisID,
	}
}

// Closed returns a terminal copy of the marker. The original is unchanged.
func (m Marker) Closed(exitPrice, pnl float64, reason CloseReason, closedAt time.Time) Marker {
	out := m
	out.Status = reason.Status()
	out.ExitPrice = &exitPrice
	out.PnL = &pnl
	out.ClosedAt = &closedAt
	return out
}

// Validate checks the active/terminal field invariants.
func (m Marker) Validate() error {
	if m.Status == MarkerActive {
		if m.PnL != nil || m.ExitPrice != nil || m.ClosedAt != nil {
			return fmt.Errorf("marker %s: active marker carries terminal fields", m.ID)
		}
		return nil
	}
	if m.PnL == nil || m.ExitPrice == nil || m.ClosedAt == nil {
		return fmt.Errorf("marker %s: terminal marker missing exit fields", m.ID)
	}
	return nil
}

// SymbolStats aggregates closed-trade performance for one symbol.
type SymbolStats struct {
	Symbol   string  `json:"symbol"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	WinRate  float64 `json:"win_rate"`
	AvgPnL   float64 `json:"avg_pnl"`
	BestPnL  float64 `json:"best_pnl"`
	WorstPnL float64 `json:"worst_pnl"`
}

// ChartAnnotation is the chart-layer projection of a marker: an entry point,
// horizontal stop and target lines, and an exit point once closed.
type ChartAnnotation struct {
	MarkerID   string     `json:"marker_id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	EntryTime  time.Time  `json:"entry_time"`
	EntryPrice float64    `json:"entry_price"`
	StopLine   float64    `json:"stop_line"`
	TargetLine float64    `json:"target_line"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	Label      string     `json:"label"`
}

// MarkerSnapshot is the persisted on-disk form of the marker store.
type MarkerSnapshot struct {
	ActiveTrades     []Marker  `json:"active_trades"`
	HistoricalTrades []Marker  `json:"historical_trades"`
	LastUpdated      time.Time `json:"last_updated"`
}
