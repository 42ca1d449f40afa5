package services

import (
	"context"
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/exchange"
	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/utils"
)

const (
	// MinSlowCandles is the minimum history required on the slowest timeframe.
	MinSlowCandles = 50
	// minFastCandles is the point below which a faster timeframe votes neutral.
	minFastCandles = 35
	// StopATRMultiple sizes the protective stop from the hourly ATR.
	StopATRMultiple = 1.5
	// targetRiskMultiple sizes the target from the stop distance. Must keep
	// the reward/risk ratio at or above models.MinRewardRisk.
	targetRiskMultiple = 3.0
	// candleFetchLimit is how many bars each timeframe requests.
	candleFetchLimit = 200
	// minSignalConfidence is the floor below which no signal is emitted.
	minSignalConfidence = 55
)

// Timeframe agreement weights: the slow chart dominates.
var timeframeWeights = map[models.Interval]float64{
	models.Interval4h:  0.40,
	models.Interval1h:  0.35,
	models.Interval15m: 0.25,
}

// WeightsProvider exposes the learning ledger's per-tag strategy weights to
// the generator as a read-only view.
type WeightsProvider interface {
	WeightFor(tag string) float64
}

// timeframeVerdict is one timeframe's directional vote.
type timeframeVerdict struct {
	direction int // +1 bullish, -1 bearish, 0 neutral
	strength  float64
	tags      []string
	reasons   []string
}

// SignalGenerator turns multi-timeframe candles into trading signals. It is a
// pure function of the market data and the strategy weights; it keeps no
// state of its own.
type SignalGenerator struct {
	market  exchange.MarketGateway
	weights WeightsProvider
	clock   Clock
	logger  *logrus.Logger
}

// NewSignalGenerator creates a generator over the market gateway.
func NewSignalGenerator(market exchange.MarketGateway, weights WeightsProvider, clock Clock, logger *logrus.Logger) *SignalGenerator {
	return &SignalGenerator{
		market:  market,
		weights: weights,
		clock:   clock,
		logger:  logger,
	}
}

// Generate analyzes a symbol and returns a signal, or nil when the
// timeframes do not align or confidence stays below the emission floor.
func (g *SignalGenerator) Generate(ctx context.Context, symbol string) (*models.Signal, error) {
	slow, err := g.market.GetCandles(ctx, symbol, models.Interval4h, candleFetchLimit)
	if err != nil {
		return nil, err
	}
	if len(slow) < MinSlowCandles {
		return nil, &utils.InsufficientDataError{
			Symbol:   symbol,
			Interval: string(models.Interval4h),
			Have:     len(slow),
			Need:     MinSlowCandles,
		}
	}

	mid, err := g.market.GetCandles(ctx, symbol, models.Interval1h, candleFetchLimit)
	if err != nil {
		return nil, err
	}
	fast, err := g.market.GetCandles(ctx, symbol, models.Interval15m, candleFetchLimit)
	if err != nil {
		return nil, err
	}
	if len(fast) == 0 {
		return nil, &utils.InsufficientDataError{
			Symbol:   symbol,
			Interval: string(models.Interval15m),
			Have:     0,
			Need:     1,
		}
	}

	verdicts := map[models.Interval]timeframeVerdict{
		models.Interval4h:  g.analyzeTimeframe(slow, models.Interval4h),
		models.Interval1h:  g.analyzeTimeframe(mid, models.Interval1h),
		models.Interval15m: g.analyzeTimeframe(fast, models.Interval15m),
	}

	// Candlestick patterns vote on the fastest timeframe.
	patterns := detectPatterns(fast)
	if len(patterns.tags) > 0 {
		fv := verdicts[models.Interval15m]
		fv.tags = append(fv.tags, patterns.tags...)
		fv.reasons = append(fv.reasons, patterns.reasons...)
		if patterns.direction != 0 {
			if fv.direction == 0 {
				fv.direction = patterns.direction
				fv.strength = 0.34
			} else if fv.direction == patterns.direction {
				fv.strength = math.Min(1, fv.strength+0.2)
			}
		}
		verdicts[models.Interval15m] = fv
	}

	direction := alignedDirection(verdicts)
	if direction == 0 {
		g.logger.WithField("symbol", symbol).Debug("Timeframes not aligned, no signal")
		return nil, nil
	}

	var netScore float64
	var reasoning []string
	var indicatorTags, patternTags []string
	for _, interval := range []models.Interval{models.Interval4h, models.Interval1h, models.Interval15m} {
		v := verdicts[interval]
		if v.direction != direction {
			continue
		}
		netScore += timeframeWeights[interval] * v.strength * g.tagMultiplier(v.tags)
		reasoning = append(reasoning, v.reasons...)
		for _, tag := range v.tags {
			if patterns.owns(tag) {
				patternTags = append(patternTags, tag)
			} else {
				indicatorTags = append(indicatorTags, tag)
			}
		}
	}

	confidence := math.Min(100, math.Max(0, 50+45*netScore))
	if confidence < minSignalConfidence {
		g.logger.WithFields(logrus.Fields{
			"symbol":     symbol,
			"confidence": confidence,
		}).Debug("Confidence below emission floor, no signal")
		return nil, nil
	}

	atr := latestATR(mid)
	entry := fast[len(fast)-1].Close
	if atr <= 0 || entry <= 0 {
		return nil, nil
	}

	var side models.Side
	var stop, target float64
	risk := StopATRMultiple * atr
	if direction > 0 {
		side = models.SideLong
		stop = entry - risk
		target = entry + targetRiskMultiple*risk
	} else {
		side = models.SideShort
		stop = entry + risk
		target = entry - targetRiskMultiple*risk
	}
	if stop <= 0 || target <= 0 {
		return nil, nil
	}

	now := g.clock.Now()
	sig := &models.Signal{
		Symbol:           symbol,
		Side:             side,
		Entry:            entry,
		Stop:             stop,
		Target:           target,
		Confidence:       confidence,
		Tier:             models.TierForConfidence(confidence),
		CreatedAt:        now,
		ExpiresAt:        now.Add(models.DefaultSignalHorizon),
		Reasoning:        reasoning,
		IndicatorsUsed:   dedupe(indicatorTags),
		PatternsDetected: dedupe(patternTags),
	}
	if err := sig.Validate(); err != nil {
		g.logger.WithField("symbol", symbol).WithError(err).Warn("Generated signal failed validation")
		return nil, nil
	}

	g.logger.WithFields(logrus.Fields{
		"symbol":     symbol,
		"side":       side,
		"confidence": confidence,
		"tier":       sig.Tier,
		"rr":         sig.RewardRisk(),
	}).Info("Signal generated")

	return sig, nil
}

// tagMultiplier averages the strategy weights of the contributing tags.
func (g *SignalGenerator) tagMultiplier(tags []string) float64 {
	if len(tags) == 0 || g.weights == nil {
		return 1
	}
	var sum float64
	for _, tag := range tags {
		sum += g.weights.WeightFor(tag)
	}
	return sum / float64(len(tags))
}

// analyzeTimeframe votes on one timeframe using EMA trend, RSI and MACD.
func (g *SignalGenerator) analyzeTimeframe(candles []models.Candle, interval models.Interval) timeframeVerdict {
	if len(candles) < minFastCandles {
		return timeframeVerdict{}
	}

	closes := models.Closes(candles)
	lastClose := closes[len(closes)-1]

	emaFast := lastValue(helper.ChanToSlice(trend.NewEmaWithPeriod[float64](12).Compute(helper.SliceToChan(closes))))
	emaSlow := lastValue(helper.ChanToSlice(trend.NewEmaWithPeriod[float64](26).Compute(helper.SliceToChan(closes))))
	rsi := lastValue(helper.ChanToSlice(momentum.NewRsiWithPeriod[float64](14).Compute(helper.SliceToChan(closes))))

	macdLine, macdSignal := trend.NewMacdWithPeriod[float64](12, 26, 9).Compute(helper.SliceToChan(closes))
	macdValues := helper.ChanToSlice(macdLine)
	signalValues := helper.ChanToSlice(macdSignal)
	macd := lastValue(macdValues)
	macdSig := lastValue(signalValues)

	var votes int
	v := timeframeVerdict{}

	switch {
	case lastClose > emaSlow && emaFast > emaSlow:
		votes++
		v.tags = append(v.tags, "ema_trend")
		v.reasons = append(v.reasons, fmt.Sprintf("%s alcista: precio y EMA12 sobre EMA26", interval))
	case lastClose < emaSlow && emaFast < emaSlow:
		votes--
		v.tags = append(v.tags, "ema_trend")
		v.reasons = append(v.reasons, fmt.Sprintf("%s bajista: precio y EMA12 bajo EMA26", interval))
	}

	switch {
	case rsi < 30:
		votes++
		v.tags = append(v.tags, "rsi_oversold")
		v.reasons = append(v.reasons, fmt.Sprintf("RSI %.1f en sobreventa (%s)", rsi, interval))
	case rsi > 70:
		votes--
		v.tags = append(v.tags, "rsi_overbought")
		v.reasons = append(v.reasons, fmt.Sprintf("RSI %.1f en sobrecompra (%s)", rsi, interval))
	}

	if macd > macdSig {
		votes++
		v.tags = append(v.tags, "macd_cross")
		v.reasons = append(v.reasons, fmt.Sprintf("MACD sobre su señal (%s)", interval))
	} else if macd < macdSig {
		votes--
		v.tags = append(v.tags, "macd_cross")
		v.reasons = append(v.reasons, fmt.Sprintf("MACD bajo su señal (%s)", interval))
	}

	if votes > 0 {
		v.direction = 1
	} else if votes < 0 {
		v.direction = -1
	}
	v.strength = math.Abs(float64(votes)) / 3
	return v
}

// alignedDirection returns the direction at least two timeframes agree on,
// or 0 when there is no two-of-three agreement.
func alignedDirection(verdicts map[models.Interval]timeframeVerdict) int {
	var bulls, bears int
	for _, v := range verdicts {
		switch v.direction {
		case 1:
			bulls++
		case -1:
			bears++
		}
	}
	if bulls >= 2 && bulls > bears {
		return 1
	}
	if bears >= 2 && bears > bulls {
		return -1
	}
	return 0
}

// latestATR computes the last ATR value over a candle series.
func latestATR(candles []models.Candle) float64 {
	if len(candles) < minFastCandles {
		return 0
	}
	atr := volatility.NewAtr[float64]()
	result := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(models.Highs(candles)),
		helper.SliceToChan(models.Lows(candles)),
		helper.SliceToChan(models.Closes(candles)),
	))
	return lastValue(result)
}

func lastValue(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
