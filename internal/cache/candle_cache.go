package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/exchange"
	"github.com/cryptodash/autopilot/internal/models"
)

// CandleCacheStats tracks cache performance metrics.
type CandleCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.RWMutex
}

// CachingMarketGateway is a read-through Redis cache in front of a
// MarketGateway. Candle series are cached per symbol and interval with a TTL
// sized to the interval; prices and positioning pass straight through.
type CachingMarketGateway struct {
	upstream exchange.MarketGateway
	redis    *redis.Client
	logger   *logrus.Logger
	stats    *CandleCacheStats
	prefix   string
}

// NewCachingMarketGateway wraps the upstream gateway with a Redis candle cache.
func NewCachingMarketGateway(upstream exchange.MarketGateway, redisClient *redis.Client, logger *logrus.Logger) *CachingMarketGateway {
	return &CachingMarketGateway{
		upstream: upstream,
		redis:    redisClient,
		logger:   logger,
		stats:    &CandleCacheStats{},
		prefix:   "candle_cache:",
	}
}

// candleTTL keeps cached series fresh for a fraction of their bar width.
func candleTTL(interval models.Interval) time.Duration {
	switch interval {
	case models.Interval4h:
		return 10 * time.Minute
	case models.Interval1h:
		return 5 * time.Minute
	default:
		return time.Minute
	}
}

// GetCandles serves from Redis when a fresh series exists, otherwise fetches
// from the upstream gateway and caches the result. Cache failures degrade to
// the upstream call; they never fail the analysis.
func (g *CachingMarketGateway) GetCandles(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error) {
	key := fmt.Sprintf("%s%s:%s:%d", g.prefix, symbol, interval, limit)

	data, err := g.redis.Get(ctx, key).Result()
	if err == nil {
		var candles []models.Candle
		if jsonErr := json.Unmarshal([]byte(data), &candles); jsonErr == nil {
			g.stats.mu.Lock()
			g.stats.Hits++
			g.stats.mu.Unlock()
			return candles, nil
		}
		// Corrupt entry; drop it and fall through to upstream.
		g.redis.Del(ctx, key)
	} else if err != redis.Nil {
		g.logger.WithFields(logrus.Fields{
			"symbol":   symbol,
			"interval": interval,
		}).WithError(err).Warn("Candle cache read failed, falling back to gateway")
	}

	g.stats.mu.Lock()
	g.stats.Misses++
	g.stats.mu.Unlock()

	candles, err := g.upstream.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	if encoded, jsonErr := json.Marshal(candles); jsonErr == nil {
		if setErr := g.redis.Set(ctx, key, encoded, candleTTL(interval)).Err(); setErr != nil {
			g.logger.WithError(setErr).Debug("Candle cache write failed")
		} else {
			g.stats.mu.Lock()
			g.stats.Sets++
			g.stats.mu.Unlock()
		}
	}

	return candles, nil
}

// GetPrice passes through to the upstream gateway.
func (g *CachingMarketGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return g.upstream.GetPrice(ctx, symbol)
}

// GetTopLongShortRatio passes through to the upstream gateway.
func (g *CachingMarketGateway) GetTopLongShortRatio(ctx context.Context, symbol, period string) (*models.LongShortRatio, error) {
	return g.upstream.GetTopLongShortRatio(ctx, symbol, period)
}

// Stats returns a copy of the cache counters.
func (g *CachingMarketGateway) Stats() CandleCacheStats {
	g.stats.mu.RLock()
	defer g.stats.mu.RUnlock()
	return CandleCacheStats{Hits: g.stats.Hits, Misses: g.stats.Misses, Sets: g.stats.Sets}
}
