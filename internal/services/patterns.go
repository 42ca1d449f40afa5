package services

import (
	"fmt"

	"github.com/cryptodash/autopilot/internal/models"
)

// patternVerdict is the candlestick detector's vote over the latest bars of
// the fastest timeframe.
type patternVerdict struct {
	direction int
	tags      []string
	reasons   []string
}

func (p patternVerdict) owns(tag string) bool {
	for _, t := range p.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func body(c models.Candle) float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

func bullish(c models.Candle) bool { return c.Close > c.Open }
func bearish(c models.Candle) bool { return c.Close < c.Open }

// detectPatterns inspects the last candles for engulfing and star formations.
// The framing follows classical definitions; the vote only nudges the fast
// timeframe, it never creates a signal on its own.
func detectPatterns(candles []models.Candle) patternVerdict {
	v := patternVerdict{}
	if len(candles) < 3 {
		return v
	}

	a := candles[len(candles)-3]
	b := candles[len(candles)-2]
	c := candles[len(candles)-1]

	switch {
	case bearish(b) && bullish(c) && c.Open <= b.Close && c.Close >= b.Open:
		v.direction = 1
		v.tags = append(v.tags, "bullish_engulfing")
		v.reasons = append(v.reasons, "Vela envolvente alcista en 15m")
	case bullish(b) && bearish(c) && c.Open >= b.Close && c.Close <= b.Open:
		v.direction = -1
		v.tags = append(v.tags, "bearish_engulfing")
		v.reasons = append(v.reasons, "Vela envolvente bajista en 15m")
	}

	// Star formations: a wide candle, a small-bodied pause, then a reversal
	// candle closing past the midpoint of the first.
	smallBody := body(b) < body(a)*0.3
	if smallBody && bearish(a) && bullish(c) && c.Close > (a.Open+a.Close)/2 {
		v.direction = 1
		v.tags = append(v.tags, "morning_star")
		v.reasons = append(v.reasons, fmt.Sprintf("Estrella de la mañana en 15m (cierre %.4f)", c.Close))
	}
	if smallBody && bullish(a) && bearish(c) && c.Close < (a.Open+a.Close)/2 {
		v.direction = -1
		v.tags = append(v.tags, "evening_star")
		v.reasons = append(v.reasons, fmt.Sprintf("Estrella del atardecer en 15m (cierre %.4f)", c.Close))
	}

	return v
}
