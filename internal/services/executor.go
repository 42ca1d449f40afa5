package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/exchange"
	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/notify"
	"github.com/cryptodash/autopilot/internal/utils"
)

// stopRetryBackoffs spaces the protective stop attempts. The market order
// itself is never retried; a second fill would double the position.
var stopRetryBackoffs = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// ExecutionResult reports a completed entry: the fill and its resting stop.
type ExecutionResult struct {
	Fill    exchange.MarketFill
	StopAck exchange.StopAck
}

// Executor turns an approved signal into a filled, stop-protected position.
type Executor struct {
	orders     exchange.OrderGateway
	dispatcher *notify.Dispatcher
	practice   bool
	logger     *logrus.Logger
}

// NewExecutor builds an executor. In practice mode orders are simulated
// locally and never reach the gateway.
func NewExecutor(orders exchange.OrderGateway, dispatcher *notify.Dispatcher, practice bool, logger *logrus.Logger) *Executor {
	return &Executor{
		orders:     orders,
		dispatcher: dispatcher,
		practice:   practice,
		logger:     logger,
	}
}

// Practice reports whether orders are simulated.
func (e *Executor) Practice() bool {
	return e.practice
}

// Execute places the market entry and its protective stop. The entry is
// attempted exactly once. The stop is retried with backoff; if every attempt
// fails the position is flattened and the failure escalated as a
// CriticalUnprotectedPositionError.
func (e *Executor) Execute(ctx context.Context, sig models.Signal, qty float64) (*ExecutionResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("execute %s: non-positive quantity %f", sig.Symbol, qty)
	}

	if e.practice {
		return e.simulate(sig, qty), nil
	}

	fill, err := e.orders.PlaceMarket(ctx, sig.Symbol, sig.Side, qty)
	if err != nil {
		return nil, fmt.Errorf("market order for %s: %w", sig.Symbol, err)
	}
	e.logger.WithFields(logrus.Fields{
		"symbol":   sig.Symbol,
		"side":     sig.Side,
		"order_id": fill.OrderID,
		"price":    fill.FillPrice,
		"qty":      fill.FillQty,
	}).Info("Market order filled")

	ack, err := e.placeStopWithRetry(ctx, sig, fill)
	if err != nil {
		return nil, e.abandonPosition(ctx, sig, fill, err)
	}

	return &ExecutionResult{Fill: *fill, StopAck: *ack}, nil
}

func (e *Executor) simulate(sig models.Signal, qty float64) *ExecutionResult {
	now := time.Now().UTC().UnixNano()
	e.logger.WithFields(logrus.Fields{
		"symbol": sig.Symbol,
		"side":   sig.Side,
		"qty":    qty,
	}).Info("Practice fill simulated")
	return &ExecutionResult{
		Fill: exchange.MarketFill{
			OrderID:   fmt.Sprintf("practice-%s-%d", sig.Symbol, now),
			FillPrice: sig.Entry,
			FillQty:   qty,
		},
		StopAck: exchange.StopAck{
			OrderID: fmt.Sprintf("practice-stop-%s-%d", sig.Symbol, now),
		},
	}
}

// Unwind closes an open position at market. Practice positions have nothing
// resting at the venue, so this is a no-op for them.
func (e *Executor) Unwind(ctx context.Context, symbol string, qty float64) error {
	if e.practice {
		e.logger.WithField("symbol", symbol).Info("Practice position unwound")
		return nil
	}
	if err := e.orders.Flatten(ctx, symbol, qty); err != nil {
		return fmt.Errorf("flatten %s: %w", symbol, err)
	}
	return nil
}

func (e *Executor) placeStopWithRetry(ctx context.Context, sig models.Signal, fill *exchange.MarketFill) (*exchange.StopAck, error) {
	var lastErr error
	for attempt := 0; attempt <= len(stopRetryBackoffs); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(stopRetryBackoffs[attempt-1]):
			}
		}

		// The stop closes the position, so it is placed on the opposite side.
		ack, err := e.orders.PlaceStop(ctx, sig.Symbol, sig.Side.Opposite(), fill.FillQty, sig.Stop)
		if err == nil {
			if attempt > 0 {
				e.logger.WithFields(logrus.Fields{
					"symbol":  sig.Symbol,
					"attempt": attempt + 1,
				}).Warn("Protective stop placed after retry")
			}
			return ack, nil
		}
		lastErr = err
		e.logger.WithFields(logrus.Fields{
			"symbol":  sig.Symbol,
			"attempt": attempt + 1,
		}).WithError(err).Warn("Protective stop placement failed")
	}
	return nil, lastErr
}

// abandonPosition flattens a filled position that could not be protected and
// raises the CRITICAL alert. The returned error carries the flatten outcome.
func (e *Executor) abandonPosition(ctx context.Context, sig models.Signal, fill *exchange.MarketFill, stopErr error) error {
	flattenErr := e.orders.Flatten(ctx, sig.Symbol, fill.FillQty)

	critical := &utils.CriticalUnprotectedPositionError{
		Symbol:       sig.Symbol,
		OrderID:      fill.OrderID,
		FlattenError: flattenErr,
	}

	e.logger.WithFields(logrus.Fields{
		"symbol":   sig.Symbol,
		"order_id": fill.OrderID,
	}).WithError(stopErr).Error("Stop placement exhausted, position abandoned")

	if e.dispatcher != nil {
		e.dispatcher.Critical(ctx, "Unprotected Position", critical.Error())
	}
	return critical
}
