package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/utils"
)

// XP rewards per resolved prediction.
const (
	xpBasePerCorrect   = 100
	xpConfidenceFactor = 2
	xpPerIncorrect     = 50

	// A HOLD call is correct when the move stayed inside this band.
	holdFlatBandPct = 1.0

	weightRewardFactor  = 1.05
	weightPenaltyFactor = 0.95

	mirrorTimeout = 5 * time.Second
)

// AnalysisMirror is the optional relational projection of the ledger.
// Mirror failures never block the ledger itself.
type AnalysisMirror interface {
	MirrorAnalysis(ctx context.Context, a models.AIAnalysis) error
	MirrorResolution(ctx context.Context, p models.Prediction) error
	MirrorProgress(ctx context.Context, pr models.Progress) error
}

// LearningLedger accumulates analyses, resolved predictions, strategy
// weights and operator progress. The JSON snapshot on disk is the source of
// truth; the mirror is a best-effort projection.
type LearningLedger struct {
	mu       sync.Mutex
	path     string
	backup   *BackupManager
	mirror   AnalysisMirror
	clock    Clock
	logger   *logrus.Logger
	degraded bool

	totalTrades   int
	winningTrades int
	losingTrades  int
	totalPnL      float64
	patterns      map[string]models.PatternOutcome
	weights       map[string]float64
	analyses      []models.AIAnalysis
	progress      models.Progress
}

// NewLearningLedger loads (or initializes) the ledger at path. Corrupt
// snapshots go through the backup restore path before the ledger gives up
// and starts empty in degraded mode.
func NewLearningLedger(path string, backup *BackupManager, mirror AnalysisMirror, clock Clock, logger *logrus.Logger) *LearningLedger {
	l := &LearningLedger{
		path:     path,
		backup:   backup,
		mirror:   mirror,
		clock:    clock,
		logger:   logger,
		patterns: make(map[string]models.PatternOutcome),
		weights:  make(map[string]float64),
	}
	l.load()
	l.progress.Recompute()
	return l
}

func (l *LearningLedger) load() {
	if err := l.loadFrom(l.path); err == nil {
		return
	} else if os.IsNotExist(err) {
		return
	} else {
		l.logger.WithField("path", l.path).WithError(err).Warn("Learning snapshot unreadable, attempting backup restore")
	}

	if l.backup != nil {
		if err := l.backup.Restore(""); err == nil {
			if err := l.loadFrom(l.path); err == nil {
				l.logger.Info("Learning ledger restored from backup")
				return
			}
		}
	}

	l.degraded = true
	l.patterns = make(map[string]models.PatternOutcome)
	l.weights = make(map[string]float64)
	l.analyses = nil
	l.progress = models.Progress{}
	l.progress.Recompute()
	l.logger.Warn("Learning ledger starting empty after failed restore")
}

func (l *LearningLedger) loadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap models.LearningSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return &utils.PersistenceError{Path: path, Op: "parse", Err: err}
	}
	l.totalTrades = snap.TotalTrades
	l.winningTrades = snap.WinningTrades
	l.losingTrades = snap.LosingTrades
	l.totalPnL = snap.TotalPnL
	l.patterns = snap.PatternsLearned
	if l.patterns == nil {
		l.patterns = make(map[string]models.PatternOutcome)
	}
	l.weights = snap.StrategyWeights
	if l.weights == nil {
		l.weights = make(map[string]float64)
	}
	l.analyses = snap.Analyses
	l.progress = snap.Progress
	l.progress.Recompute()
	return nil
}

func (l *LearningLedger) snapshotLocked() models.LearningSnapshot {
	winRate := 0.0
	if l.totalTrades > 0 {
		winRate = float64(l.winningTrades) / float64(l.totalTrades)
	}
	return models.LearningSnapshot{
		TotalTrades:     l.totalTrades,
		WinningTrades:   l.winningTrades,
		LosingTrades:    l.losingTrades,
		TotalPnL:        l.totalPnL,
		WinRate:         winRate,
		PatternsLearned: l.patterns,
		StrategyWeights: l.weights,
		Analyses:        l.analyses,
		Progress:        l.progress,
		LastUpdated:     l.clock.Now(),
	}
}

func (l *LearningLedger) persistLocked() error {
	data, err := json.MarshalIndent(l.snapshotLocked(), "", "  ")
	if err != nil {
		return &utils.PersistenceError{Path: l.path, Op: "marshal", Err: err}
	}
	if err := utils.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return err
	}
	if l.backup != nil {
		if _, err := l.backup.SnapshotIfDue(); err != nil {
			l.logger.WithError(err).Warn("Learning backup snapshot failed")
		}
	}
	return nil
}

// RecordPrediction registers a new analysis from a dispatched signal and
// returns its analysis ID for the marker to carry.
func (l *LearningLedger) RecordPrediction(sig models.Signal) (string, error) {
	direction := models.PredictBuy
	if sig.Side == models.SideShort {
		direction = models.PredictSell
	}

	analysis := models.AIAnalysis{
		ID:               uuid.NewString(),
		Symbol:           sig.Symbol,
		Direction:        direction,
		Confidence:       sig.Confidence,
		Entry:            sig.Entry,
		Stop:             sig.Stop,
		Target:           sig.Target,
		Reasoning:        sig.Reasoning,
		IndicatorsUsed:   sig.IndicatorsUsed,
		PatternsDetected: sig.PatternsDetected,
		CreatedAt:        l.clock.Now(),
		Prediction: &models.Prediction{
			PredictedDirection:  direction,
			PredictedConfidence: sig.Confidence,
		},
	}
	analysis.Prediction.AnalysisID = analysis.ID

	l.mu.Lock()
	l.analyses = append(l.analyses, analysis)
	l.progress.TotalAnalyses++
	l.progress.Pending++
	l.progress.Recompute()
	if err := l.persistLocked(); err != nil {
		l.analyses = l.analyses[:len(l.analyses)-1]
		l.progress.TotalAnalyses--
		l.progress.Pending--
		l.progress.Recompute()
		l.mu.Unlock()
		return "", err
	}
	l.mu.Unlock()

	l.mirrorAnalysis(analysis)

	l.logger.WithFields(logrus.Fields{
		"analysis_id": analysis.ID,
		"symbol":      sig.Symbol,
		"direction":   direction,
	}).Info("Prediction recorded")
	return analysis.ID, nil
}

// ResolvePrediction settles an open prediction against the observed outcome
// and folds the result into weights, pattern counters and progress.
func (l *LearningLedger) ResolvePrediction(analysisID string, actual models.ActualDirection, pnlPct float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.analyses {
		if l.analyses[i].ID == analysisID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("analysis %s not found", analysisID)
	}
	analysis := &l.analyses[idx]
	if analysis.Prediction == nil {
		return fmt.Errorf("analysis %s has no prediction", analysisID)
	}
	if analysis.Prediction.Resolved() {
		return fmt.Errorf("analysis %s already resolved", analysisID)
	}

	correct := predictionCorrect(analysis.Direction, actual, pnlPct)
	now := l.clock.Now()
	analysis.Prediction.ActualDirection = &actual
	analysis.Prediction.ActualPnLPct = &pnlPct
	analysis.Prediction.WasCorrect = &correct
	analysis.Prediction.ResolvedAt = &now

	l.progress.Pending--
	if correct {
		l.progress.Correct++
		l.progress.XP += xpBasePerCorrect + xpConfidenceFactor*int(analysis.Confidence)
	} else {
		l.progress.Incorrect++
		l.progress.XP += xpPerIncorrect
	}
	l.progress.Recompute()

	tags := append(append([]string{}, analysis.IndicatorsUsed...), analysis.PatternsDetected...)
	for _, tag := range uniqueTags(tags) {
		w, ok := l.weights[tag]
		if !ok {
			w = models.DefaultStrategyWeight
		}
		if correct {
			w *= weightRewardFactor
		} else {
			w *= weightPenaltyFactor
		}
		l.weights[tag] = models.ClampWeight(w)

		outcome := l.patterns[tag]
		outcome.Total++
		if correct {
			outcome.Wins++
		} else {
			outcome.Losses++
		}
		l.patterns[tag] = outcome
	}

	l.totalTrades++
	l.totalPnL += pnlPct
	if pnlPct > 0 {
		l.winningTrades++
	} else {
		l.losingTrades++
	}

	if err := l.persistLocked(); err != nil {
		return err
	}

	l.mirrorResolution(*analysis.Prediction, l.progress)

	l.logger.WithFields(logrus.Fields{
		"analysis_id": analysisID,
		"correct":     correct,
		"pnl":         pnlPct,
		"level":       l.progress.Level,
	}).Info("Prediction resolved")
	return nil
}

// predictionCorrect applies the resolution truth table. A directional call
// also counts when the trade closed profitably even if the snapshot
// direction flag disagrees.
func predictionCorrect(predicted models.PredictedDirection, actual models.ActualDirection, pnlPct float64) bool {
	switch predicted {
	case models.PredictBuy:
		return actual == models.ActualUp || pnlPct > 0
	case models.PredictSell:
		return actual == models.ActualDown || pnlPct > 0
	case models.PredictHold:
		return math.Abs(pnlPct) < holdFlatBandPct
	default:
		return false
	}
}

func uniqueTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// WeightFor returns the learned weight for a strategy tag, defaulting to
// the neutral weight for tags the ledger has not seen resolve yet.
func (l *LearningLedger) WeightFor(tag string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.weights[tag]; ok {
		return w
	}
	return models.DefaultStrategyWeight
}

// Performance returns a copy of the current ledger state.
func (l *LearningLedger) Performance() models.LearningSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshotLocked()
	snap.PatternsLearned = make(map[string]models.PatternOutcome, len(l.patterns))
	for k, v := range l.patterns {
		snap.PatternsLearned[k] = v
	}
	snap.StrategyWeights = make(map[string]float64, len(l.weights))
	for k, v := range l.weights {
		snap.StrategyWeights[k] = v
	}
	snap.Analyses = make([]models.AIAnalysis, len(l.analyses))
	copy(snap.Analyses, l.analyses)
	return snap
}

// Progress returns the operator-facing level and accuracy counters.
func (l *LearningLedger) Progress() models.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

// Degraded reports whether the ledger lost its snapshot and is running from
// memory only.
func (l *LearningLedger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

func (l *LearningLedger) mirrorAnalysis(a models.AIAnalysis) {
	if l.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := l.mirror.MirrorAnalysis(ctx, a); err != nil {
		l.logger.WithField("analysis_id", a.ID).WithError(err).Warn("Analysis mirror write failed")
	}
}

func (l *LearningLedger) mirrorResolution(p models.Prediction, pr models.Progress) {
	if l.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := l.mirror.MirrorResolution(ctx, p); err != nil {
		l.logger.WithField("analysis_id", p.AnalysisID).WithError(err).Warn("Resolution mirror write failed")
	}
	if err := l.mirror.MirrorProgress(ctx, pr); err != nil {
		l.logger.WithError(err).Warn("Progress mirror write failed")
	}
}
