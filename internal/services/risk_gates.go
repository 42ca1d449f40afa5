package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cryptodash/autopilot/internal/config"
	"github.com/cryptodash/autopilot/internal/models"
)

// OrderCandidate is the order the gate stack votes on.
type OrderCandidate struct {
	Signal              models.Signal
	Quantity            float64
	PortfolioValueUSD   float64
	ATRPct              float64
	AutoExecuteApproved bool
}

// DayStats are the per-day counters gates 2 and 4 read. The supervisor owns
// and resets them at UTC midnight.
type DayStats struct {
	OrdersExecuted  int
	RealizedLossUSD float64
}

// GateResult is one gate's verdict with its operator-facing message.
type GateResult struct {
	Name    string `json:"name"`
	Pass    bool   `json:"pass"`
	Message string `json:"message"`
}

// Verdict aggregates the full gate stack run. Pass is true only when every
// gate passed; Failures lists the gates that stopped the order.
type Verdict struct {
	Pass    bool         `json:"pass"`
	Results []GateResult `json:"results"`
}

// Failures returns the failing gate results.
func (v Verdict) Failures() []GateResult {
	var out []GateResult
	for _, r := range v.Results {
		if !r.Pass {
			out = append(out, r)
		}
	}
	return out
}

// RiskGates evaluates seven independent gates in fixed order. All gates must
// pass for an order to be dispatched.
type RiskGates struct {
	cfg config.RiskConfig
}

// NewRiskGates creates the gate stack from risk configuration.
func NewRiskGates(cfg config.RiskConfig) *RiskGates {
	return &RiskGates{cfg: cfg}
}

// Evaluate runs every gate and returns the aggregated verdict. Gates keep
// running after a failure so the caller can surface the full picture.
func (g *RiskGates) Evaluate(candidate OrderCandidate, day DayStats) Verdict {
	results := []GateResult{
		g.orderSizeGate(candidate),
		g.dailyOrdersGate(day),
		g.protectiveStopGate(candidate),
		g.dailyLossGate(candidate, day),
		g.positionSizeGate(candidate),
		g.volatilityGate(candidate),
		g.authorizationGate(candidate),
	}

	verdict := Verdict{Pass: true, Results: results}
	for _, r := range results {
		if !r.Pass {
			verdict.Pass = false
		}
	}
	return verdict
}

// Gate 1: order notional must not exceed the configured maximum.
func (g *RiskGates) orderSizeGate(c OrderCandidate) GateResult {
	orderUSD := decimal.NewFromFloat(c.Quantity).Mul(decimal.NewFromFloat(c.Signal.Entry))
	maxUSD := decimal.NewFromFloat(g.cfg.MaxOrderUSD)
	if orderUSD.GreaterThan(maxUSD) {
		return GateResult{
			Name: "order_size",
			Message: fmt.Sprintf("Tamaño orden %s USD supera el máximo %s USD",
				orderUSD.StringFixed(2), maxUSD.StringFixed(2)),
		}
	}
	return GateResult{
		Name: "order_size",
		Pass: true,
		Message: fmt.Sprintf("Tamaño orden %s USD dentro del límite %s USD",
			orderUSD.StringFixed(2), maxUSD.StringFixed(2)),
	}
}

// Gate 2: number of orders executed today must stay under the daily cap.
func (g *RiskGates) dailyOrdersGate(day DayStats) GateResult {
	if day.OrdersExecuted >= g.cfg.MaxDailyOrders {
		return GateResult{
			Name: "daily_orders",
			Message: fmt.Sprintf("Límite diario de órdenes alcanzado (%d/%d)",
				day.OrdersExecuted, g.cfg.MaxDailyOrders),
		}
	}
	return GateResult{
		Name: "daily_orders",
		Pass: true,
		Message: fmt.Sprintf("Órdenes hoy %d/%d",
			day.OrdersExecuted, g.cfg.MaxDailyOrders),
	}
}

// Gate 3: the protective stop distance must sit inside the allowed band.
// Rejects both too-tight and too-wide stops.
func (g *RiskGates) protectiveStopGate(c OrderCandidate) GateResult {
	entry := decimal.NewFromFloat(c.Signal.Entry)
	stop := decimal.NewFromFloat(c.Signal.Stop)
	if entry.IsZero() {
		return GateResult{Name: "protective_stop", Message: "Precio de entrada inválido"}
	}

	distPct := entry.Sub(stop).Abs().Div(entry).Mul(decimal.NewFromInt(100))
	minPct := decimal.NewFromFloat(g.cfg.MinStopLossPct)
	maxPct := decimal.NewFromFloat(g.cfg.MaxStopLossPct)

	if distPct.LessThan(minPct) {
		return GateResult{
			Name: "protective_stop",
			Message: fmt.Sprintf("Stop demasiado ajustado: %s%% < mínimo %s%%",
				distPct.StringFixed(2), minPct.StringFixed(2)),
		}
	}
	if distPct.GreaterThan(maxPct) {
		return GateResult{
			Name: "protective_stop",
			Message: fmt.Sprintf("Stop demasiado amplio: %s%% > máximo %s%%",
				distPct.StringFixed(2), maxPct.StringFixed(2)),
		}
	}
	return GateResult{
		Name: "protective_stop",
		Pass: true,
		Message: fmt.Sprintf("Stop al %s%% dentro de banda [%s%%, %s%%]",
			distPct.StringFixed(2), minPct.StringFixed(2), maxPct.StringFixed(2)),
	}
}

// Gate 4: projected worst-case loss plus today's realized losses must not
// exceed the daily loss budget as a fraction of portfolio value.
func (g *RiskGates) dailyLossGate(c OrderCandidate, day DayStats) GateResult {
	portfolio := decimal.NewFromFloat(c.PortfolioValueUSD)
	if portfolio.LessThanOrEqual(decimal.Zero) {
		return GateResult{Name: "daily_loss", Message: "Valor de cartera inválido"}
	}

	worstCase := decimal.NewFromFloat(c.Quantity).
		Mul(decimal.NewFromFloat(c.Signal.Entry).Sub(decimal.NewFromFloat(c.Signal.Stop)).Abs())
	projected := worstCase.Add(decimal.NewFromFloat(day.RealizedLossUSD))
	projectedPct := projected.Div(portfolio).Mul(decimal.NewFromInt(100))
	maxPct := decimal.NewFromFloat(g.cfg.MaxDailyLossPct)

	if projectedPct.GreaterThan(maxPct) {
		return GateResult{
			Name: "daily_loss",
			Message: fmt.Sprintf("Pérdida diaria proyectada %s%% supera el máximo %s%%",
				projectedPct.StringFixed(2), maxPct.StringFixed(2)),
		}
	}
	return GateResult{
		Name: "daily_loss",
		Pass: true,
		Message: fmt.Sprintf("Pérdida diaria proyectada %s%% dentro del límite %s%%",
			projectedPct.StringFixed(2), maxPct.StringFixed(2)),
	}
}

// Gate 5: position notional must not exceed the configured share of the
// portfolio.
func (g *RiskGates) positionSizeGate(c OrderCandidate) GateResult {
	portfolio := decimal.NewFromFloat(c.PortfolioValueUSD)
	if portfolio.LessThanOrEqual(decimal.Zero) {
		return GateResult{Name: "position_size", Message: "Valor de cartera inválido"}
	}

	positionPct := decimal.NewFromFloat(c.Quantity).
		Mul(decimal.NewFromFloat(c.Signal.Entry)).
		Div(portfolio).Mul(decimal.NewFromInt(100))
	maxPct := decimal.NewFromFloat(g.cfg.MaxPositionPct)

	if positionPct.GreaterThan(maxPct) {
		return GateResult{
			Name: "position_size",
			Message: fmt.Sprintf("Posición %s%% de la cartera supera el máximo %s%%",
				positionPct.StringFixed(2), maxPct.StringFixed(2)),
		}
	}
	return GateResult{
		Name: "position_size",
		Pass: true,
		Message: fmt.Sprintf("Posición %s%% de la cartera dentro del límite %s%%",
			positionPct.StringFixed(2), maxPct.StringFixed(2)),
	}
}

// Gate 6: current volatility (ATR as percent of price) must stay under the
// configured ceiling.
func (g *RiskGates) volatilityGate(c OrderCandidate) GateResult {
	if c.ATRPct > g.cfg.MaxATRPct {
		return GateResult{
			Name: "volatility",
			Message: fmt.Sprintf("Volatilidad ATR %.2f%% supera el máximo %.2f%%",
				c.ATRPct, g.cfg.MaxATRPct),
		}
	}
	return GateResult{
		Name: "volatility",
		Pass: true,
		Message: fmt.Sprintf("Volatilidad ATR %.2f%% dentro del límite %.2f%%",
			c.ATRPct, g.cfg.MaxATRPct),
	}
}

// Gate 7: the order must carry an explicit prior approval for automatic
// execution. Practice mode pre-approves every order.
func (g *RiskGates) authorizationGate(c OrderCandidate) GateResult {
	if !c.AutoExecuteApproved {
		return GateResult{
			Name:    "authorization",
			Message: "Ejecución automática no autorizada",
		}
	}
	return GateResult{
		Name:    "authorization",
		Pass:    true,
		Message: "Ejecución automática autorizada",
	}
}
