package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodash/autopilot/internal/models"
)

type stubGateway struct {
	candles     []models.Candle
	price       float64
	err         error
	candleCalls int
	priceCalls  int
}

func (s *stubGateway) GetCandles(_ context.Context, _ string, _ models.Interval, _ int) ([]models.Candle, error) {
	s.candleCalls++
	return s.candles, s.err
}

func (s *stubGateway) GetPrice(_ context.Context, _ string) (float64, error) {
	s.priceCalls++
	return s.price, s.err
}

func (s *stubGateway) GetTopLongShortRatio(_ context.Context, symbol, _ string) (*models.LongShortRatio, error) {
	return &models.LongShortRatio{Symbol: symbol, Ratio: 1.5}, s.err
}

func newTestCache(t *testing.T, upstream *stubGateway) (*CachingMarketGateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewCachingMarketGateway(upstream, client, logger), mr
}

func testCandles() []models.Candle {
	return []models.Candle{
		{OpenTime: 1700000000000, Open: 100, High: 102, Low: 99, Close: 101, Volume: 10},
		{OpenTime: 1700003600000, Open: 101, High: 104, Low: 100, Close: 103, Volume: 12},
	}
}

func TestGetCandles_MissThenHit(t *testing.T) {
	upstream := &stubGateway{candles: testCandles()}
	cache, _ := newTestCache(t, upstream)
	ctx := context.Background()

	got, err := cache.GetCandles(ctx, "BTCUSDT", models.Interval1h, 100)
	require.NoError(t, err)
	assert.Equal(t, upstream.candles, got)
	assert.Equal(t, 1, upstream.candleCalls)

	got, err = cache.GetCandles(ctx, "BTCUSDT", models.Interval1h, 100)
	require.NoError(t, err)
	assert.Equal(t, upstream.candles, got)
	assert.Equal(t, 1, upstream.candleCalls, "second read must come from cache")

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestGetCandles_KeyIncludesIntervalAndLimit(t *testing.T) {
	upstream := &stubGateway{candles: testCandles()}
	cache, _ := newTestCache(t, upstream)
	ctx := context.Background()

	_, err := cache.GetCandles(ctx, "BTCUSDT", models.Interval1h, 100)
	require.NoError(t, err)
	_, err = cache.GetCandles(ctx, "BTCUSDT", models.Interval4h, 100)
	require.NoError(t, err)
	_, err = cache.GetCandles(ctx, "BTCUSDT", models.Interval1h, 50)
	require.NoError(t, err)

	assert.Equal(t, 3, upstream.candleCalls, "different interval or limit is a different key")
}

func TestGetCandles_TTLExpiry(t *testing.T) {
	upstream := &stubGateway{candles: testCandles()}
	cache, mr := newTestCache(t, upstream)
	ctx := context.Background()

	_, err := cache.GetCandles(ctx, "BTCUSDT", models.Interval15m, 100)
	require.NoError(t, err)

	mr.FastForward(time.Minute + time.Second)

	_, err = cache.GetCandles(ctx, "BTCUSDT", models.Interval15m, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.candleCalls)
}

func TestGetCandles_CorruptEntryFallsThrough(t *testing.T) {
	upstream := &stubGateway{candles: testCandles()}
	cache, mr := newTestCache(t, upstream)
	ctx := context.Background()

	require.NoError(t, mr.Set("candle_cache:BTCUSDT:1h:100", "{corrupt"))

	got, err := cache.GetCandles(ctx, "BTCUSDT", models.Interval1h, 100)
	require.NoError(t, err)
	assert.Equal(t, upstream.candles, got)
	assert.Equal(t, 1, upstream.candleCalls)

	// The corrupt entry was replaced with a valid series.
	raw, err := mr.Get("candle_cache:BTCUSDT:1h:100")
	require.NoError(t, err)
	var stored []models.Candle
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, upstream.candles, stored)
}

func TestGetCandles_RedisDownDegradesToUpstream(t *testing.T) {
	upstream := &stubGateway{candles: testCandles()}
	cache, mr := newTestCache(t, upstream)
	ctx := context.Background()

	mr.Close()

	got, err := cache.GetCandles(ctx, "BTCUSDT", models.Interval1h, 100)
	require.NoError(t, err)
	assert.Equal(t, upstream.candles, got)
	assert.Equal(t, 1, upstream.candleCalls)
}

func TestGetCandles_UpstreamErrorNotCached(t *testing.T) {
	upstream := &stubGateway{err: errors.New("gateway unavailable")}
	cache, _ := newTestCache(t, upstream)
	ctx := context.Background()

	_, err := cache.GetCandles(ctx, "BTCUSDT", models.Interval1h, 100)
	assert.Error(t, err)

	upstream.err = nil
	upstream.candles = testCandles()
	got, err := cache.GetCandles(ctx, "BTCUSDT", models.Interval1h, 100)
	require.NoError(t, err)
	assert.Equal(t, upstream.candles, got)
}

func TestPriceAndPositioningPassThrough(t *testing.T) {
	upstream := &stubGateway{price: 42000.5}
	cache, _ := newTestCache(t, upstream)
	ctx := context.Background()

	price, err := cache.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42000.5, price)

	price, err = cache.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42000.5, price)
	assert.Equal(t, 2, upstream.priceCalls, "prices are never cached")

	ratio, err := cache.GetTopLongShortRatio(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, 1.5, ratio.Ratio)
}
