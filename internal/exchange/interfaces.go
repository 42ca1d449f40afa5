package exchange

import (
	"context"

	"github.com/cryptodash/autopilot/internal/models"
)

// MarketGateway provides read-only market data access.
type MarketGateway interface {
	// GetCandles returns up to limit OHLCV bars for the symbol and interval,
	// oldest first, timestamps monotonic non-decreasing.
	GetCandles(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error)
	// GetPrice returns the latest traded price for the symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// GetTopLongShortRatio returns top-trader positioning, or nil when the
	// venue does not publish it for the symbol.
	GetTopLongShortRatio(ctx context.Context, symbol, period string) (*models.LongShortRatio, error)
}

// MarketFill is the result of a filled market order.
type MarketFill struct {
	OrderID   string  `json:"order_id"`
	FillPrice float64 `json:"fill_price"`
	FillQty   float64 `json:"fill_qty"`
}

// StopAck acknowledges a resting protective stop order.
type StopAck struct {
	OrderID string `json:"order_id"`
}

// OrderGateway places and unwinds orders. Idempotency is not assumed; callers
// must avoid duplicate submissions themselves.
type OrderGateway interface {
	// PlaceMarket submits an immediate order on the given side.
	PlaceMarket(ctx context.Context, symbol string, side models.Side, qty float64) (*MarketFill, error)
	// PlaceStop rests a stop order that closes an open position when
	// triggered. side is the side of the closing order itself, so a LONG
	// position is protected by a SHORT stop.
	PlaceStop(ctx context.Context, symbol string, side models.Side, qty, stopPrice float64) (*StopAck, error)
	Flatten(ctx context.Context, symbol string, qty float64) error
}
