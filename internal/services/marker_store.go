package services

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/models"
	"github.com/cryptodash/autopilot/internal/utils"
)

// PredictionResolver closes the loop from a finished trade back into the
// learning ledger.
type PredictionResolver interface {
	ResolvePrediction(analysisID string, actual models.ActualDirection, pnlPct float64) error
}

// MarkerStore is the durable record of open and closed positions. Every
// mutation persists the full state atomically before returning.
type MarkerStore struct {
	mu             sync.Mutex
	path           string
	active         map[string]models.Marker
	history        []models.Marker
	backup         *BackupManager
	resolver       PredictionResolver
	singlePosition bool
	degraded       bool
	clock          Clock
	logger         *logrus.Logger
}

// NewMarkerStore loads (or initializes) the store at path. A corrupt
// snapshot is replaced from the most recent backup; when that also fails the
// store starts empty and reports itself degraded.
func NewMarkerStore(path string, backup *BackupManager, singlePosition bool, clock Clock, logger *logrus.Logger) *MarkerStore {
	s := &MarkerStore{
		path:           path,
		active:         make(map[string]models.Marker),
		backup:         backup,
		singlePosition: singlePosition,
		clock:          clock,
		logger:         logger,
	}
	s.load()
	return s
}

// SetResolver wires the learning ledger in after construction.
func (s *MarkerStore) SetResolver(r PredictionResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver = r
}

func (s *MarkerStore) load() {
	if err := s.loadFrom(s.path); err == nil {
		return
	} else if os.IsNotExist(err) {
		return
	} else {
		s.logger.WithField("path", s.path).WithError(err).Warn("Marker snapshot unreadable, attempting backup restore")
	}

	if s.backup != nil {
		if err := s.backup.Restore(""); err == nil {
			if err := s.loadFrom(s.path); err == nil {
				s.logger.Info("Marker store restored from backup")
				return
			}
		}
	}

	s.degraded = true
	s.active = make(map[string]models.Marker)
	s.history = nil
	s.logger.Warn("Marker store starting empty after failed restore")
}

func (s *MarkerStore) loadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap models.MarkerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return &utils.PersistenceError{Path: path, Op: "parse", Err: err}
	}
	active := make(map[string]models.Marker, len(snap.ActiveTrades))
	for _, m := range snap.ActiveTrades {
		active[m.ID] = m
	}
	s.active = active
	s.history = snap.HistoricalTrades
	return nil
}

// persistLocked writes the full snapshot atomically and lets the backup
// manager decide whether a rotation snapshot is due.
func (s *MarkerStore) persistLocked() error {
	snap := models.MarkerSnapshot{
		ActiveTrades:     s.sortedActiveLocked(),
		HistoricalTrades: s.history,
		LastUpdated:      s.clock.Now(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &utils.PersistenceError{Path: s.path, Op: "marshal", Err: err}
	}
	if err := utils.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return err
	}
	if s.backup != nil {
		if _, err := s.backup.SnapshotIfDue(); err != nil {
			s.logger.WithError(err).Warn("Marker backup snapshot failed")
		}
	}
	return nil
}

func (s *MarkerStore) sortedActiveLocked() []models.Marker {
	out := make([]models.Marker, 0, len(s.active))
	for _, m := range s.active {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Open records a new ACTIVE marker and persists before returning.
func (s *MarkerStore) Open(m models.Marker) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Status != models.MarkerActive {
		return fmt.Errorf("marker %s: open requires ACTIVE status, got %s", m.ID, m.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[m.ID]; exists {
		return fmt.Errorf("marker %s already open", m.ID)
	}
	if s.singlePosition {
		for _, existing := range s.active {
			if existing.Symbol == m.Symbol {
				return fmt.Errorf("symbol %s already has an active position (%s)", m.Symbol, existing.ID)
			}
		}
	}

	s.active[m.ID] = m
	if err := s.persistLocked(); err != nil {
		delete(s.active, m.ID)
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"marker": m.ID,
		"symbol": m.Symbol,
		"side":   m.Side,
		"entry":  m.Entry,
	}).Info("Marker opened")
	return nil
}

// Close transitions an active marker to its terminal state, persists, then
// resolves the linked prediction. PnL is percent of entry.
func (s *MarkerStore) Close(id string, exitPrice, pnlPct float64, reason models.CloseReason) (models.Marker, error) {
	s.mu.Lock()

	m, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return models.Marker{}, fmt.Errorf("marker %s is not active", id)
	}

	closed := m.Closed(exitPrice, pnlPct, reason, s.clock.Now())
	delete(s.active, id)
	s.history = append(s.history, closed)

	if err := s.persistLocked(); err != nil {
		// Roll back the in-memory transition so a retry can succeed.
		s.active[id] = m
		s.history = s.history[:len(s.history)-1]
		s.mu.Unlock()
		return models.Marker{}, err
	}

	resolver := s.resolver
	analysisID := m.AnalysisID
	s.mu.Unlock()

	if resolver != nil && analysisID != "" {
		actual := models.ActualDown
		if exitPrice > m.Entry {
			actual = models.ActualUp
		}
		if err := resolver.ResolvePrediction(analysisID, actual, pnlPct); err != nil {
			s.logger.WithField("analysis_id", analysisID).WithError(err).Warn("Failed to resolve prediction for closed marker")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"marker": id,
		"status": closed.Status,
		"pnl":    pnlPct,
	}).Info("Marker closed")
	return closed, nil
}

// DeleteIfActive removes an active marker without recording history. Used
// when an order is rolled back right after opening.
func (s *MarkerStore) DeleteIfActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.active[id]
	if !ok {
		return false
	}
	delete(s.active, id)
	if err := s.persistLocked(); err != nil {
		s.active[id] = m
		s.logger.WithField("marker", id).WithError(err).Warn("Failed to persist marker deletion")
		return false
	}
	return true
}

// Get returns a marker by ID from the active set or history.
func (s *MarkerStore) Get(id string) (models.Marker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.active[id]; ok {
		return m, true
	}
	for _, m := range s.history {
		if m.ID == id {
			return m, true
		}
	}
	return models.Marker{}, false
}

// ActiveMarkers returns a copy of the active set ordered by open time.
func (s *MarkerStore) ActiveMarkers() []models.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedActiveLocked()
}

// HasActiveForSymbol reports whether the symbol has an open position.
func (s *MarkerStore) HasActiveForSymbol(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.active {
		if m.Symbol == symbol {
			return true
		}
	}
	return false
}

// History returns a copy of the closed markers.
func (s *MarkerStore) History() []models.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Marker, len(s.history))
	copy(out, s.history)
	return out
}

// SymbolStats aggregates closed-trade performance for one symbol.
func (s *MarkerStore) SymbolStats(symbol string) models.SymbolStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.SymbolStats{Symbol: symbol}
	for _, m := range s.history {
		if m.Symbol != symbol || m.PnL == nil {
			continue
		}
		pnl := *m.PnL
		if stats.Trades == 0 {
			stats.BestPnL = pnl
			stats.WorstPnL = pnl
		} else {
			if pnl > stats.BestPnL {
				stats.BestPnL = pnl
			}
			if pnl < stats.WorstPnL {
				stats.WorstPnL = pnl
			}
		}
		stats.Trades++
		stats.AvgPnL += pnl
		if pnl > 0 {
			stats.Wins++
		}
	}
	if stats.Trades > 0 {
		stats.AvgPnL /= float64(stats.Trades)
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
	}
	return stats
}

// Annotations projects markers into the chart layer's shape.
func (s *MarkerStore) Annotations(symbol string) []models.ChartAnnotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ChartAnnotation
	appendMarker := func(m models.Marker) {
		if symbol != "" && m.Symbol != symbol {
			return
		}
		ann := models.ChartAnnotation{
			MarkerID:   m.ID,
			Symbol:     m.Symbol,
			Side:       m.Side,
			EntryTime:  m.OpenedAt,
			EntryPrice: m.Entry,
			StopLine:   m.Stop,
			TargetLine: m.Target,
			Label:      fmt.Sprintf("%s %s @ %.4f", m.Side, m.Symbol, m.Entry),
		}
		if m.Status.Terminal() {
			ann.ExitTime = m.ClosedAt
			ann.ExitPrice = m.ExitPrice
		}
		out = append(out, ann)
	}
	for _, m := range s.sortedActiveLocked() {
		appendMarker(m)
	}
	for _, m := range s.history {
		appendMarker(m)
	}
	return out
}

// Degraded reports whether the store lost its snapshot and is running from
// memory only.
func (s *MarkerStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}
