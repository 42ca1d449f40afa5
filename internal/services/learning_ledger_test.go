package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodash/autopilot/internal/models"
)

func newTestLedger(t *testing.T) (*LearningLedger, string, *fakeClock) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "learning_ledger.json")
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backup := NewBackupManager(path, filepath.Join(dir, "backups"), 30, 0, clock, testLogger())
	return NewLearningLedger(path, backup, nil, clock, testLogger()), path, clock
}

func TestLearningLedger_RecordPrediction(t *testing.T) {
	ledger, _, clock := newTestLedger(t)

	sig := validSignal("BTCUSDT", clock.Now())
	id, err := ledger.RecordPrediction(sig)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	progress := ledger.Progress()
	assert.Equal(t, 1, progress.TotalAnalyses)
	assert.Equal(t, 1, progress.Pending)
	assert.Equal(t, 1, progress.Level)
	assert.Zero(t, progress.XP)

	snap := ledger.Performance()
	require.Len(t, snap.Analyses, 1)
	assert.Equal(t, models.PredictBuy, snap.Analyses[0].Direction)
	require.NotNil(t, snap.Analyses[0].Prediction)
	assert.False(t, snap.Analyses[0].Prediction.Resolved())
}

func TestLearningLedger_ShortSignalPredictsSell(t *testing.T) {
	ledger, _, clock := newTestLedger(t)

	sig := validSignal("BTCUSDT", clock.Now())
	sig.Side = models.SideShort
	sig.Stop, sig.Target = 103, 91

	id, err := ledger.RecordPrediction(sig)
	require.NoError(t, err)

	snap := ledger.Performance()
	require.Len(t, snap.Analyses, 1)
	assert.Equal(t, id, snap.Analyses[0].ID)
	assert.Equal(t, models.PredictSell, snap.Analyses[0].Direction)
}

func TestLearningLedger_ResolveCorrectAwardsXPAndWeights(t *testing.T) {
	ledger, _, clock := newTestLedger(t)

	sig := validSignal("BTCUSDT", clock.Now()) // confidence 80
	id, err := ledger.RecordPrediction(sig)
	require.NoError(t, err)

	require.NoError(t, ledger.ResolvePrediction(id, models.ActualUp, 9))

	progress := ledger.Progress()
	assert.Equal(t, 1, progress.Correct)
	assert.Equal(t, 0, progress.Pending)
	assert.Equal(t, 100+2*80, progress.XP)
	assert.Equal(t, 1.0, progress.Accuracy)

	assert.InDelta(t, 1.05, ledger.WeightFor("ema_trend"), 1e-9)
	assert.InDelta(t, 1.05, ledger.WeightFor("macd_cross"), 1e-9)
	assert.Equal(t, models.DefaultStrategyWeight, ledger.WeightFor("rsi_oversold"))

	snap := ledger.Performance()
	assert.Equal(t, 1, snap.TotalTrades)
	assert.Equal(t, 1, snap.WinningTrades)
	assert.Equal(t, 9.0, snap.TotalPnL)
	assert.Equal(t, 1.0, snap.WinRate)
	assert.Equal(t, 1, snap.PatternsLearned["ema_trend"].Wins)
}

func TestLearningLedger_ResolveIncorrectPenalizes(t *testing.T) {
	ledger, _, clock := newTestLedger(t)

	sig := validSignal("BTCUSDT", clock.Now())
	id, err := ledger.RecordPrediction(sig)
	require.NoError(t, err)

	require.NoError(t, ledger.ResolvePrediction(id, models.ActualDown, -3))

	progress := ledger.Progress()
	assert.Equal(t, 1, progress.Incorrect)
	assert.Equal(t, 50, progress.XP)
	assert.Equal(t, 0.0, progress.Accuracy)

	assert.InDelta(t, 0.95, ledger.WeightFor("ema_trend"), 1e-9)

	snap := ledger.Performance()
	assert.Equal(t, 1, snap.LosingTrades)
	assert.Equal(t, 1, snap.PatternsLearned["ema_trend"].Losses)
}

func TestLearningLedger_BuyWithPositivePnLCountsCorrect(t *testing.T) {
	ledger, _, clock := newTestLedger(t)

	sig := validSignal("BTCUSDT", clock.Now())
	id, err := ledger.RecordPrediction(sig)
	require.NoError(t, err)

	// Direction snapshot says DOWN but the trade closed green; the
	// profitable close wins the argument.
	require.NoError(t, ledger.ResolvePrediction(id, models.ActualDown, 2))
	assert.Equal(t, 1, ledger.Progress().Correct)
}

func TestLearningLedger_ResolveIsIdempotentPerAnalysis(t *testing.T) {
	ledger, _, clock := newTestLedger(t)

	sig := validSignal("BTCUSDT", clock.Now())
	id, err := ledger.RecordPrediction(sig)
	require.NoError(t, err)

	require.NoError(t, ledger.ResolvePrediction(id, models.ActualUp, 9))
	assert.Error(t, ledger.ResolvePrediction(id, models.ActualUp, 9))
	assert.Error(t, ledger.ResolvePrediction("missing", models.ActualUp, 9))
}

func TestLearningLedger_WeightsClampAfterLongStreaks(t *testing.T) {
	ledger, _, clock := newTestLedger(t)

	for i := 0; i < 80; i++ {
		sig := validSignal("BTCUSDT", clock.Now())
		id, err := ledger.RecordPrediction(sig)
		require.NoError(t, err)
		require.NoError(t, ledger.ResolvePrediction(id, models.ActualDown, -1))
		clock.Advance(time.Minute)
	}

	assert.Equal(t, models.MinStrategyWeight, ledger.WeightFor("ema_trend"))
}

func TestLearningLedger_LevelAdvancesWithXP(t *testing.T) {
	ledger, _, clock := newTestLedger(t)

	// Four correct 80-confidence predictions earn 1040 XP.
	for i := 0; i < 4; i++ {
		sig := validSignal("BTCUSDT", clock.Now())
		id, err := ledger.RecordPrediction(sig)
		require.NoError(t, err)
		require.NoError(t, ledger.ResolvePrediction(id, models.ActualUp, 5))
		clock.Advance(time.Minute)
	}

	progress := ledger.Progress()
	assert.Equal(t, 1040, progress.XP)
	assert.Equal(t, 2, progress.Level)
}

func TestLearningLedger_PersistsAcrossRestart(t *testing.T) {
	ledger, path, clock := newTestLedger(t)

	sig := validSignal("BTCUSDT", clock.Now())
	id, err := ledger.RecordPrediction(sig)
	require.NoError(t, err)
	require.NoError(t, ledger.ResolvePrediction(id, models.ActualUp, 9))

	reloaded := NewLearningLedger(path, nil, nil, clock, testLogger())
	assert.False(t, reloaded.Degraded())

	progress := reloaded.Progress()
	assert.Equal(t, 1, progress.Correct)
	assert.Equal(t, 260, progress.XP)
	assert.InDelta(t, 1.05, reloaded.WeightFor("ema_trend"), 1e-9)
}

func TestLearningLedger_CorruptSnapshotWithoutBackupDegrades(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "learning_ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("]]"), 0o644))

	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewLearningLedger(path, nil, nil, clock, testLogger())

	assert.True(t, ledger.Degraded())
	assert.Zero(t, ledger.Progress().TotalAnalyses)
}
