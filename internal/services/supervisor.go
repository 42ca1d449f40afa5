package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/config"
	"github.com/cryptodash/autopilot/internal/exchange"
	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/notify"
	"github.com/cryptodash/autopilot/internal/utils"
)

// SupervisorState is the lifecycle state of the automation loop.
type SupervisorState string

const (
	StateStopped  SupervisorState = "STOPPED"
	StateStarting SupervisorState = "STARTING"
	StateRunning  SupervisorState = "RUNNING"
	StateDraining SupervisorState = "DRAINING"
)

// Error categories surfaced in the status report.
const (
	errCatGenerator = "generator"
	errCatRisk      = "risk"
	errCatExecutor  = "executor"
	errCatStorage   = "storage"
)

// dayCounters are the UTC-day scoped limits the gates and the loss circuit
// read. Reset at the first tick after midnight.
type dayCounters struct {
	day               time.Time
	orders            int
	realizedLossUSD   float64
	consecutiveLosses int
}

// SupervisorStatus is the full status report exposed to the dashboard.
type SupervisorStatus struct {
	State           SupervisorState           `json:"state"`
	EmergencyStop   bool                      `json:"emergency_stop"`
	Degraded        bool                      `json:"degraded"`
	Practice        bool                      `json:"practice"`
	Settings        models.AutomationSettings `json:"settings"`
	Queue           models.QueueStatus        `json:"queue"`
	ActivePositions int                       `json:"active_positions"`
	OrdersToday     int                       `json:"orders_today"`
	LossesInARow    int                       `json:"losses_in_a_row"`
	LastErrors      map[string]string         `json:"last_errors,omitempty"`
	LastAlert       *notify.Alert             `json:"last_alert,omitempty"`
	Resources       ResourceStats             `json:"resources"`
}

// Supervisor owns the signal-to-execution loop: generate, queue, gate,
// execute, record. One instance runs at a time.
type Supervisor struct {
	automation config.AutomationConfig
	risk       config.RiskConfig

	market     exchange.MarketGateway
	generator  *SignalGenerator
	queue      *SignalQueue
	gates      *RiskGates
	executor   *Executor
	markers    *MarkerStore
	ledger     *LearningLedger
	backups    []*BackupManager
	dispatcher *notify.Dispatcher
	monitor    *PerformanceMonitor
	clock      Clock
	logger     *logrus.Logger

	emergency atomic.Bool

	mu         sync.Mutex
	state      SupervisorState
	settings   models.AutomationSettings
	day        dayCounters
	lastErrors map[string]string
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSupervisor wires the pipeline together. Backups listed here get their
// daily rotation and the guaranteed snapshot on stop.
func NewSupervisor(
	automation config.AutomationConfig,
	risk config.RiskConfig,
	market exchange.MarketGateway,
	generator *SignalGenerator,
	queue *SignalQueue,
	gates *RiskGates,
	executor *Executor,
	markers *MarkerStore,
	ledger *LearningLedger,
	backups []*BackupManager,
	dispatcher *notify.Dispatcher,
	monitor *PerformanceMonitor,
	clock Clock,
	logger *logrus.Logger,
) *Supervisor {
	return &Supervisor{
		automation: automation,
		risk:       risk,
		market:     market,
		generator:  generator,
		queue:      queue,
		gates:      gates,
		executor:   executor,
		markers:    markers,
		ledger:     ledger,
		backups:    backups,
		dispatcher: dispatcher,
		monitor:    monitor,
		clock:      clock,
		logger:     logger,
		state:      StateStopped,
		settings:   models.DefaultAutomationSettings(),
		lastErrors: make(map[string]string),
	}
}

// Start brings the loop up with the given settings. Returns false when the
// supervisor is already running; a second start never spawns a second loop.
func (s *Supervisor) Start(settings models.AutomationSettings) (bool, error) {
	if err := settings.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return false, nil
	}
	s.state = StateStarting
	s.settings = settings
	s.emergency.Store(false)
	s.lastErrors = make(map[string]string)
	s.day = dayCounters{day: utcDayStart(s.clock.Now())}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done, time.Duration(settings.CheckIntervalSec)*time.Second)

	s.state = StateRunning
	s.logger.WithFields(logrus.Fields{
		"interval_sec":   settings.CheckIntervalSec,
		"min_confidence": settings.MinConfidence,
		"practice":       s.executor.Practice(),
	}).Info("Automation loop started")
	return true, nil
}

// Stop drains the loop and takes a final snapshot of every backup source.
// Waits up to the configured grace timeout before giving up on the loop.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDraining
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	grace := time.Duration(s.automation.GraceTimeoutSec) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(grace):
			s.logger.Warn("Automation loop did not drain within grace timeout")
		case <-ctx.Done():
		}
	}

	// Final snapshots are unconditional so a restart always has a fresh
	// backup to fall back on.
	for _, b := range s.backups {
		if b == nil {
			continue
		}
		if _, err := b.Snapshot(); err != nil {
			s.logger.WithError(err).Warn("Final backup snapshot failed")
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.logger.Info("Automation loop stopped")
	return nil
}

// EmergencyStop halts all new executions immediately. The loop keeps
// ticking so expiry and status stay live, but nothing reaches the gateway
// until the next Start.
func (s *Supervisor) EmergencyStop(reason string) {
	if s.emergency.Swap(true) {
		return
	}
	s.logger.WithField("reason", reason).Error("Emergency stop engaged")
	if s.dispatcher != nil {
		s.dispatcher.Critical(context.Background(), "Emergency Stop", reason)
	}
}

// EmergencyStopped reports whether the emergency flag is set.
func (s *Supervisor) EmergencyStopped() bool {
	return s.emergency.Load()
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	now := s.clock.Now()
	s.rolloverIfNeeded(now)

	settings := s.currentSettings()
	params := models.AdmissionParams{
		MinConfidence: settings.MinConfidence,
		AllowedTiers:  settings.AllowedTiers,
	}

	for _, symbol := range s.automation.WatchedSymbols {
		if ctx.Err() != nil || s.emergency.Load() {
			break
		}
		sig, err := s.generator.Generate(ctx, symbol)
		if err != nil {
			var insufficient *utils.InsufficientDataError
			if errors.As(err, &insufficient) {
				s.logger.WithField("symbol", symbol).Debug(err.Error())
			} else {
				s.recordError(errCatGenerator, err)
				s.escalateIfFatal(err)
			}
			continue
		}
		if sig == nil {
			continue
		}
		s.queue.Offer(*sig, params)
	}

	for _, entry := range s.queue.DrainReady(s.clock.Now()) {
		if ctx.Err() != nil || s.emergency.Load() {
			break
		}
		s.dispatch(ctx, entry)
	}
}

// rolloverIfNeeded resets the day counters and rotates backups at the first
// tick after UTC midnight.
func (s *Supervisor) rolloverIfNeeded(now time.Time) {
	dayStart := utcDayStart(now)

	s.mu.Lock()
	rolled := dayStart.After(s.day.day)
	if rolled {
		s.day = dayCounters{day: dayStart}
	}
	s.mu.Unlock()

	if !rolled {
		return
	}
	s.logger.WithField("day", dayStart.Format("2006-01-02")).Info("Daily counters reset")
	for _, b := range s.backups {
		if b == nil {
			continue
		}
		if removed, err := b.Rotate(); err != nil {
			s.logger.WithError(err).Warn("Backup rotation failed")
		} else if removed > 0 {
			s.logger.WithField("removed", removed).Info("Old backups rotated out")
		}
	}
}

// dispatch runs one queue entry through the gates and, when approved, the
// executor. The entry is always marked with a terminal outcome.
func (s *Supervisor) dispatch(ctx context.Context, entry models.QueueEntry) {
	sig := entry.Signal
	settings := s.currentSettings()

	s.mu.Lock()
	day := DayStats{OrdersExecuted: s.day.orders, RealizedLossUSD: s.day.realizedLossUSD}
	ordersToday := s.day.orders
	s.mu.Unlock()

	if ordersToday >= settings.MaxDailyTrades {
		s.logger.WithField("symbol", sig.Symbol).Info("Daily trade cap reached, rejecting entry")
		s.queue.Mark(sig.Symbol, models.Outcome{State: models.EntryRejected})
		return
	}
	if s.automation.SinglePosition && s.markers.HasActiveForSymbol(sig.Symbol) {
		s.logger.WithField("symbol", sig.Symbol).Debug("Active position exists, rejecting entry")
		s.queue.Mark(sig.Symbol, models.Outcome{State: models.EntryRejected})
		return
	}

	qty := s.sizePosition(sig, settings)
	if qty <= 0 {
		s.queue.Mark(sig.Symbol, models.Outcome{State: models.EntryRejected})
		return
	}

	candidate := OrderCandidate{
		Signal:              sig,
		Quantity:            qty,
		PortfolioValueUSD:   s.automation.PortfolioUSD,
		ATRPct:              deriveATRPct(sig),
		AutoExecuteApproved: true,
	}
	verdict := s.gates.Evaluate(candidate, day)
	if !verdict.Pass {
		failures := verdict.Failures()
		for _, f := range failures {
			s.logger.WithFields(logrus.Fields{
				"symbol": sig.Symbol,
				"gate":   f.Name,
			}).Warn(f.Message)
		}
		s.recordErrorMessage(errCatRisk, failures[0].Message)
		s.queue.Mark(sig.Symbol, models.Outcome{State: models.EntryRejected})
		return
	}

	if s.emergency.Load() {
		s.queue.Mark(sig.Symbol, models.Outcome{State: models.EntryRejected})
		return
	}

	result, err := s.executor.Execute(ctx, sig, qty)
	if err != nil {
		s.recordError(errCatExecutor, err)
		s.queue.Mark(sig.Symbol, models.Outcome{State: models.EntryRejected})
		var unprotected *utils.CriticalUnprotectedPositionError
		if errors.As(err, &unprotected) && unprotected.FlattenError != nil {
			s.EmergencyStop(unprotected.Error())
		}
		s.escalateIfFatal(err)
		return
	}

	analysisID, err := s.ledger.RecordPrediction(sig)
	if err != nil {
		s.recordError(errCatStorage, err)
	}

	marker := models.NewMarker(sig, result.Fill.FillQty, s.clock.Now(), analysisID)
	marker.Entry = result.Fill.FillPrice
	if err := s.markers.Open(marker); err != nil {
		s.recordError(errCatStorage, err)
	}

	s.queue.Mark(sig.Symbol, models.Outcome{State: models.EntryExecuted, OrderID: result.Fill.OrderID})

	s.mu.Lock()
	s.day.orders++
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"symbol":   sig.Symbol,
		"side":     sig.Side,
		"qty":      result.Fill.FillQty,
		"order_id": result.Fill.OrderID,
	}).Info("Entry executed")
}

// sizePosition converts the USD budget into a base quantity. The budget is
// the tightest of the runtime cap, the hard order cap and the portfolio
// percentage cap.
func (s *Supervisor) sizePosition(sig models.Signal, settings models.AutomationSettings) float64 {
	budget := settings.MaxPositionSize
	if s.risk.MaxOrderUSD > 0 && s.risk.MaxOrderUSD < budget {
		budget = s.risk.MaxOrderUSD
	}
	if pctCap := s.risk.MaxPositionPct / 100 * s.automation.PortfolioUSD; pctCap > 0 && pctCap < budget {
		budget = pctCap
	}
	if sig.Entry <= 0 || budget <= 0 {
		return 0
	}
	return budget / sig.Entry
}

// deriveATRPct recovers the ATR as a percentage of entry from the stop
// distance, which the generator places at StopATRMultiple ATRs.
func deriveATRPct(sig models.Signal) float64 {
	if sig.Entry <= 0 {
		return 0
	}
	atr := math.Abs(sig.Entry-sig.Stop) / StopATRMultiple
	return atr / sig.Entry * 100
}

// ClosePosition exits an active marker at the current market price, records
// the outcome and feeds the day counters and loss circuit.
func (s *Supervisor) ClosePosition(ctx context.Context, markerID string, reason models.CloseReason) (models.Marker, error) {
	marker, ok := s.markers.Get(markerID)
	if !ok || marker.Status != models.MarkerActive {
		return models.Marker{}, utils.NewConfigError("marker_id", "no active position %q", markerID)
	}

	price, err := s.market.GetPrice(ctx, marker.Symbol)
	if err != nil {
		return models.Marker{}, err
	}

	if err := s.executor.Unwind(ctx, marker.Symbol, marker.Quantity); err != nil {
		s.recordError(errCatExecutor, err)
		s.escalateIfFatal(err)
		return models.Marker{}, err
	}

	pnlPct := (price - marker.Entry) / marker.Entry * 100
	if marker.Side == models.SideShort {
		pnlPct = -pnlPct
	}

	closed, err := s.markers.Close(markerID, price, pnlPct, reason)
	if err != nil {
		s.recordError(errCatStorage, err)
		return models.Marker{}, err
	}

	s.recordTradeOutcome(pnlPct, marker)
	return closed, nil
}

// recordTradeOutcome updates the realized loss and consecutive loss
// counters, tripping the emergency stop when the loss streak or the daily
// loss budget is exhausted.
func (s *Supervisor) recordTradeOutcome(pnlPct float64, marker models.Marker) {
	s.mu.Lock()
	if pnlPct < 0 {
		s.day.realizedLossUSD += math.Abs(pnlPct) / 100 * marker.Entry * marker.Quantity
		s.day.consecutiveLosses++
	} else if pnlPct > 0 {
		s.day.consecutiveLosses = 0
	}
	streak := s.day.consecutiveLosses
	realized := s.day.realizedLossUSD
	s.mu.Unlock()

	if s.risk.MaxConsecutiveLosses > 0 && streak >= s.risk.MaxConsecutiveLosses {
		s.EmergencyStop("consecutive loss limit reached")
	}
	if budget := s.risk.MaxDailyLossPct / 100 * s.automation.PortfolioUSD; budget > 0 && realized >= budget {
		s.EmergencyStop("daily loss budget exhausted")
	}
}

// escalateIfFatal engages the emergency stop on a fatal gateway error.
// Revoked credentials mean every further order would fail or, worse, land
// on a compromised account.
func (s *Supervisor) escalateIfFatal(err error) {
	var gw *utils.GatewayError
	if errors.As(err, &gw) && gw.Fatal {
		s.EmergencyStop("fatal gateway error: " + gw.Err.Error())
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settings returns the active runtime settings.
func (s *Supervisor) Settings() models.AutomationSettings {
	return s.currentSettings()
}

func (s *Supervisor) currentSettings() models.AutomationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Status assembles the dashboard status report.
func (s *Supervisor) Status() SupervisorStatus {
	s.mu.Lock()
	state := s.state
	settings := s.settings
	orders := s.day.orders
	streak := s.day.consecutiveLosses
	lastErrors := make(map[string]string, len(s.lastErrors))
	for k, v := range s.lastErrors {
		lastErrors[k] = v
	}
	s.mu.Unlock()

	status := SupervisorStatus{
		State:           state,
		EmergencyStop:   s.emergency.Load(),
		Degraded:        s.markers.Degraded() || s.ledger.Degraded(),
		Practice:        s.executor.Practice(),
		Settings:        settings,
		Queue:           s.queue.Status(),
		ActivePositions: len(s.markers.ActiveMarkers()),
		OrdersToday:     orders,
		LossesInARow:    streak,
		LastErrors:      lastErrors,
	}
	if s.monitor != nil {
		status.Resources = s.monitor.Stats()
	}
	if s.dispatcher != nil {
		if alert, ok := s.dispatcher.LastAlert(notify.LevelCritical); ok {
			status.LastAlert = &alert
		}
	}
	return status
}

func (s *Supervisor) recordError(category string, err error) {
	s.recordErrorMessage(category, err.Error())
	s.logger.WithField("category", category).Warn(err.Error())
}

func (s *Supervisor) recordErrorMessage(category, message string) {
	s.mu.Lock()
	s.lastErrors[category] = message
	s.mu.Unlock()
}

func utcDayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
