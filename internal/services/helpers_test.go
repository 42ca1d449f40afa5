package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/exchange"
	"github.com/cryptodash/autopilot/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeMarket serves canned candles and prices.
type fakeMarket struct {
	candles map[models.Interval][]models.Candle
	price   float64
	err     error
}

func (m *fakeMarket) GetCandles(_ context.Context, _ string, interval models.Interval, _ int) ([]models.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.candles[interval], nil
}

func (m *fakeMarket) GetPrice(_ context.Context, _ string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.price, nil
}

func (m *fakeMarket) GetTopLongShortRatio(_ context.Context, _, _ string) (*models.LongShortRatio, error) {
	return nil, nil
}

// fakeOrders records gateway calls and fails stops a configurable number of
// times.
type fakeOrders struct {
	mu           sync.Mutex
	stopFailures int
	failFlatten  bool
	failMarket   error

	marketCalls  int
	stopCalls    int
	flattenCalls int
	lastStopSide models.Side
}

func (o *fakeOrders) PlaceMarket(_ context.Context, symbol string, _ models.Side, qty float64) (*exchange.MarketFill, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.marketCalls++
	if o.failMarket != nil {
		return nil, o.failMarket
	}
	return &exchange.MarketFill{OrderID: "ord-1", FillPrice: 100, FillQty: qty}, nil
}

func (o *fakeOrders) PlaceStop(_ context.Context, _ string, side models.Side, _, _ float64) (*exchange.StopAck, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopCalls++
	o.lastStopSide = side
	if o.stopCalls <= o.stopFailures {
		return nil, errors.New("stop rejected")
	}
	return &exchange.StopAck{OrderID: "stop-1"}, nil
}

func (o *fakeOrders) Flatten(_ context.Context, _ string, _ float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flattenCalls++
	if o.failFlatten {
		return errors.New("flatten rejected")
	}
	return nil
}

func (o *fakeOrders) counts() (market, stop, flatten int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.marketCalls, o.stopCalls, o.flattenCalls
}

func (o *fakeOrders) stopSide() models.Side {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStopSide
}

// validSignal builds a LONG signal that passes validation: entry 100, stop
// 97, target 109, reward/risk 3.
func validSignal(symbol string, createdAt time.Time) models.Signal {
	return models.Signal{
		Symbol:         symbol,
		Side:           models.SideLong,
		Entry:          100,
		Stop:           97,
		Target:         109,
		Confidence:     80,
		Tier:           models.TierA,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(models.DefaultSignalHorizon),
		Reasoning:      []string{"tendencia alcista"},
		IndicatorsUsed: []string{"ema_trend", "macd_cross"},
	}
}

// uptrendCandles builds a strictly rising series with every close above its
// open, which votes bullish on the EMA and MACD checks.
func uptrendCandles(n int, start float64) []models.Candle {
	candles := make([]models.Candle, n)
	openTime := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		cl := start + float64(i)
		candles[i] = models.Candle{
			OpenTime: openTime.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Open:     cl - 0.5,
			High:     cl + 1,
			Low:      cl - 1.5,
			Close:    cl,
			Volume:   10,
		}
	}
	return candles
}
