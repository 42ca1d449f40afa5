package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/utils"
)

func TestSignalGenerator_InsufficientSlowCandles(t *testing.T) {
	market := &fakeMarket{candles: map[models.Interval][]models.Candle{
		models.Interval4h:  uptrendCandles(20, 100),
		models.Interval1h:  uptrendCandles(60, 100),
		models.Interval15m: uptrendCandles(60, 100),
	}}
	gen := NewSignalGenerator(market, nil, newFakeClock(uptrendCandles(1, 100)[0].Time()), testLogger())

	_, err := gen.Generate(context.Background(), "BTCUSDT")
	require.Error(t, err)

	var insufficient *utils.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "BTCUSDT", insufficient.Symbol)
	assert.Equal(t, MinSlowCandles, insufficient.Need)
	assert.Equal(t, 20, insufficient.Have)
}

func TestSignalGenerator_UptrendEmitsLongSignal(t *testing.T) {
	market := &fakeMarket{candles: map[models.Interval][]models.Candle{
		models.Interval4h:  uptrendCandles(60, 100),
		models.Interval1h:  uptrendCandles(60, 100),
		models.Interval15m: uptrendCandles(60, 100),
	}}
	clock := newFakeClock(uptrendCandles(1, 100)[0].Time())
	gen := NewSignalGenerator(market, nil, clock, testLogger())

	sig, err := gen.Generate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, models.SideLong, sig.Side)
	assert.Equal(t, 159.0, sig.Entry, "entry is the last 15m close")
	assert.Less(t, sig.Stop, sig.Entry)
	assert.Greater(t, sig.Target, sig.Entry)
	assert.GreaterOrEqual(t, sig.RewardRisk(), models.MinRewardRisk)
	assert.GreaterOrEqual(t, sig.Confidence, float64(minSignalConfidence))
	assert.Equal(t, models.TierForConfidence(sig.Confidence), sig.Tier)
	assert.Equal(t, clock.Now().Add(models.DefaultSignalHorizon), sig.ExpiresAt)
	assert.Contains(t, sig.IndicatorsUsed, "ema_trend")
	assert.NotEmpty(t, sig.Reasoning)
	require.NoError(t, sig.Validate())
}

func TestSignalGenerator_FlatMarketStaysQuiet(t *testing.T) {
	flat := make([]models.Candle, 60)
	base := uptrendCandles(60, 100)
	for i := range flat {
		flat[i] = models.Candle{
			OpenTime: base[i].OpenTime,
			Open:     100,
			High:     100.2,
			Low:      99.8,
			Close:    100,
			Volume:   10,
		}
	}
	market := &fakeMarket{candles: map[models.Interval][]models.Candle{
		models.Interval4h:  flat,
		models.Interval1h:  flat,
		models.Interval15m: flat,
	}}
	gen := NewSignalGenerator(market, nil, newFakeClock(base[0].Time()), testLogger())

	sig, err := gen.Generate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestDetectPatterns_BullishEngulfing(t *testing.T) {
	candles := []models.Candle{
		{Open: 100, High: 103, Low: 98, Close: 102},
		{Open: 102, High: 102.5, Low: 99, Close: 100}, // bearish
		{Open: 99.5, High: 104, Low: 99, Close: 103},  // engulfs the body
	}
	v := detectPatterns(candles)
	assert.Equal(t, 1, v.direction)
	assert.True(t, v.owns("bullish_engulfing"))
}

func TestDetectPatterns_EveningStar(t *testing.T) {
	candles := []models.Candle{
		{Open: 100, High: 111, Low: 99, Close: 110},       // wide bullish
		{Open: 110.5, High: 112, Low: 110, Close: 111},    // small pause
		{Open: 110.5, High: 110.5, Low: 101, Close: 102},  // reversal past midpoint
	}
	v := detectPatterns(candles)
	assert.Equal(t, -1, v.direction)
	assert.True(t, v.owns("evening_star"))
}

func TestDetectPatterns_NeedsThreeCandles(t *testing.T) {
	v := detectPatterns(uptrendCandles(2, 100))
	assert.Zero(t, v.direction)
	assert.Empty(t, v.tags)
}
