package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodash/autopilot/internal/config"
	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/notify"
	"github.com/cryptodash/autopilot/internal/utils"
)

type supervisorFixture struct {
	supervisor *Supervisor
	queue      *SignalQueue
	markers    *MarkerStore
	ledger     *LearningLedger
	market     *fakeMarket
	orders     *fakeOrders
	clock      *fakeClock
	dispatcher *notify.Dispatcher
}

func newSupervisorFixture(t *testing.T, risk config.RiskConfig) *supervisorFixture {
	t.Helper()
	dir := t.TempDir()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := testLogger()

	automation := config.AutomationConfig{
		WatchedSymbols:   []string{"BTCUSDT"},
		CheckIntervalSec: 30,
		QueueCapacity:    10,
		GraceTimeoutSec:  2,
		SinglePosition:   true,
		PracticeOnly:     true,
		PortfolioUSD:     1000,
	}

	market := &fakeMarket{price: 100}
	orders := &fakeOrders{}
	dispatcher := notify.NewDispatcher(logger, notify.NewLogSink(logger))

	markers := NewMarkerStore(filepath.Join(dir, "markers.json"), nil, true, clock, logger)
	ledger := NewLearningLedger(filepath.Join(dir, "ledger.json"), nil, nil, clock, logger)
	markers.SetResolver(ledger)

	generator := NewSignalGenerator(market, ledger, clock, logger)
	queue := NewSignalQueue(automation.QueueCapacity, clock, logger)
	gates := NewRiskGates(risk)
	executor := NewExecutor(orders, dispatcher, true, logger)

	supervisor := NewSupervisor(
		automation, risk,
		market, generator, queue, gates, executor, markers, ledger,
		nil, dispatcher, NewPerformanceMonitor(logger), clock, logger,
	)
	return &supervisorFixture{
		supervisor: supervisor,
		queue:      queue,
		markers:    markers,
		ledger:     ledger,
		market:     market,
		orders:     orders,
		clock:      clock,
		dispatcher: dispatcher,
	}
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	started, err := f.supervisor.Start(models.DefaultAutomationSettings())
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, StateRunning, f.supervisor.State())

	again, err := f.supervisor.Start(models.DefaultAutomationSettings())
	require.NoError(t, err)
	assert.False(t, again, "second start must not spawn a second loop")

	require.NoError(t, f.supervisor.Stop(context.Background()))
	assert.Equal(t, StateStopped, f.supervisor.State())

	started, err = f.supervisor.Start(models.DefaultAutomationSettings())
	require.NoError(t, err)
	assert.True(t, started)
	require.NoError(t, f.supervisor.Stop(context.Background()))
}

func TestSupervisor_StartRejectsInvalidSettings(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	settings := models.DefaultAutomationSettings()
	settings.MaxDailyTrades = 0

	started, err := f.supervisor.Start(settings)
	assert.Error(t, err)
	assert.False(t, started)
	assert.Equal(t, StateStopped, f.supervisor.State())
}

func TestSupervisor_TickDispatchesQueuedEntry(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	sig := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(sig, models.AdmissionParams{}))

	f.supervisor.tick(context.Background())

	status := f.supervisor.Status()
	assert.Equal(t, 1, status.OrdersToday)
	assert.Equal(t, 1, status.ActivePositions)

	active := f.markers.ActiveMarkers()
	require.Len(t, active, 1)
	assert.Equal(t, "ETHUSDT", active[0].Symbol)
	assert.NotEmpty(t, active[0].AnalysisID)

	assert.Equal(t, 1, f.ledger.Progress().Pending)

	// Practice mode: the order gateway is never touched.
	market, stop, _ := f.orders.counts()
	assert.Zero(t, market)
	assert.Zero(t, stop)
}

func TestSupervisor_EmergencyStopHaltsDispatch(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	sig := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(sig, models.AdmissionParams{}))

	f.supervisor.EmergencyStop("manual")
	f.supervisor.tick(context.Background())

	status := f.supervisor.Status()
	assert.True(t, status.EmergencyStop)
	assert.Zero(t, status.OrdersToday)
	assert.Empty(t, f.markers.ActiveMarkers())

	alert, ok := f.dispatcher.LastAlert(notify.LevelCritical)
	require.True(t, ok)
	assert.Contains(t, alert.Message, "manual")
}

func TestSupervisor_GateRejectionMarksEntry(t *testing.T) {
	risk := testRiskConfig()
	risk.MaxOrderUSD = 10 // sizing cannot shrink the stop distance band
	risk.MinStopLossPct = 4
	f := newSupervisorFixture(t, risk)

	sig := validSignal("ETHUSDT", f.clock.Now()) // 3% stop, below the 4% floor
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(sig, models.AdmissionParams{}))

	f.supervisor.tick(context.Background())

	assert.Empty(t, f.markers.ActiveMarkers())
	status := f.supervisor.Status()
	assert.Zero(t, status.OrdersToday)
	assert.Contains(t, status.LastErrors["risk"], "Stop demasiado ajustado")
}

func TestSupervisor_SinglePositionBlocksDuplicates(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	first := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(first, models.AdmissionParams{}))
	f.supervisor.tick(context.Background())
	require.Len(t, f.markers.ActiveMarkers(), 1)

	f.clock.Advance(time.Minute)
	second := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(second, models.AdmissionParams{}))
	f.supervisor.tick(context.Background())

	assert.Len(t, f.markers.ActiveMarkers(), 1)
	assert.Equal(t, 1, f.supervisor.Status().OrdersToday)
}

func TestSupervisor_ClosePositionFeedsLedgerAndCounters(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	sig := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(sig, models.AdmissionParams{}))
	f.supervisor.tick(context.Background())

	active := f.markers.ActiveMarkers()
	require.Len(t, active, 1)

	f.market.price = 109
	closed, err := f.supervisor.ClosePosition(context.Background(), active[0].ID, models.CloseManual)
	require.NoError(t, err)
	require.NotNil(t, closed.PnL)
	assert.InDelta(t, 9.0, *closed.PnL, 1e-9)

	progress := f.ledger.Progress()
	assert.Equal(t, 1, progress.Correct)
	assert.Zero(t, progress.Pending)
	assert.Zero(t, f.supervisor.Status().LossesInARow)
}

func TestSupervisor_LossStreakTripsEmergencyStop(t *testing.T) {
	risk := testRiskConfig()
	risk.MaxConsecutiveLosses = 1
	f := newSupervisorFixture(t, risk)

	sig := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(sig, models.AdmissionParams{}))
	f.supervisor.tick(context.Background())

	active := f.markers.ActiveMarkers()
	require.Len(t, active, 1)

	f.market.price = 97
	_, err := f.supervisor.ClosePosition(context.Background(), active[0].ID, models.CloseManual)
	require.NoError(t, err)

	assert.True(t, f.supervisor.EmergencyStopped())
	status := f.supervisor.Status()
	assert.Equal(t, 1, status.LossesInARow)
}

func TestSupervisor_FatalGatewayErrorTripsEmergencyStop(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	f.market.err = utils.NewFatalGatewayError("get_candles", errors.New("api key revoked"))
	f.supervisor.tick(context.Background())

	assert.True(t, f.supervisor.EmergencyStopped())
	alert, ok := f.dispatcher.LastAlert(notify.LevelCritical)
	require.True(t, ok)
	assert.Contains(t, alert.Message, "api key revoked")
}

func TestSupervisor_TransientGatewayErrorKeepsRunning(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	f.market.err = utils.NewTransientGatewayError("get_candles", errors.New("503 from venue"))
	f.supervisor.tick(context.Background())

	assert.False(t, f.supervisor.EmergencyStopped())
	assert.Contains(t, f.supervisor.Status().LastErrors["generator"], "503 from venue")
}

func TestSupervisor_FatalOrderErrorTripsEmergencyStop(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	orders := &fakeOrders{failMarket: utils.NewFatalGatewayError("place_market", errors.New("account suspended"))}
	f.supervisor.executor = NewExecutor(orders, f.dispatcher, false, testLogger())

	sig := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(sig, models.AdmissionParams{}))
	f.supervisor.tick(context.Background())

	assert.True(t, f.supervisor.EmergencyStopped())
	assert.Empty(t, f.markers.ActiveMarkers())
}

func TestSupervisor_DailyLossBudgetTripsEmergencyStop(t *testing.T) {
	risk := testRiskConfig()
	risk.MaxDailyLossPct = 0.5 // 5 USD on the fixture's 1000 USD portfolio
	f := newSupervisorFixture(t, risk)

	sig := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(sig, models.AdmissionParams{}))
	f.supervisor.tick(context.Background())

	active := f.markers.ActiveMarkers()
	require.Len(t, active, 1)

	// A 10% slide on a 50 USD position realizes the whole 5 USD budget.
	f.market.price = 90
	_, err := f.supervisor.ClosePosition(context.Background(), active[0].ID, models.CloseManual)
	require.NoError(t, err)

	assert.True(t, f.supervisor.EmergencyStopped())
	// One loss stays under the streak limit, so only the budget explains it.
	assert.Equal(t, 1, f.supervisor.Status().LossesInARow)
	alert, ok := f.dispatcher.LastAlert(notify.LevelCritical)
	require.True(t, ok)
	assert.Contains(t, alert.Message, "daily loss budget")
}

func TestSupervisor_DayCountersResetAtUTCMidnight(t *testing.T) {
	f := newSupervisorFixture(t, testRiskConfig())

	sig := validSignal("ETHUSDT", f.clock.Now())
	require.Equal(t, models.OfferAdmitted, f.queue.Offer(sig, models.AdmissionParams{}))
	f.supervisor.tick(context.Background())
	require.Equal(t, 1, f.supervisor.Status().OrdersToday)

	f.clock.Advance(13 * time.Hour) // past UTC midnight
	f.supervisor.tick(context.Background())

	assert.Zero(t, f.supervisor.Status().OrdersToday)
}
