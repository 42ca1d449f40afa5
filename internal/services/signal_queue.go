package services

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/models"
)

// DefaultQueueCapacity bounds the number of queued signals.
const DefaultQueueCapacity = 50

// outcomeRingSize is how many terminal outcomes feed the 24h success rate.
const outcomeRingSize = 100

type outcomeRecord struct {
	state models.EntryState
	at    time.Time
}

// SignalQueue is the bounded, policy-filtered admission queue between the
// signal generator and the executor. At most one PENDING entry exists per
// symbol; on overflow the oldest PENDING entry is evicted.
type SignalQueue struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*models.QueueEntry
	outcomes []outcomeRecord
	clock    Clock
	logger   *logrus.Logger
}

// NewSignalQueue creates a queue with the given capacity (DefaultQueueCapacity
// when zero).
func NewSignalQueue(capacity int, clock Clock, logger *logrus.Logger) *SignalQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &SignalQueue{
		capacity: capacity,
		entries:  make(map[string]*models.QueueEntry),
		clock:    clock,
		logger:   logger,
	}
}

// Offer admits a signal under the given admission params. A PENDING entry for
// the same symbol is replaced; a full queue evicts its oldest PENDING entry.
func (q *SignalQueue) Offer(sig models.Signal, params models.AdmissionParams) models.OfferResult {
	if err := sig.Validate(); err != nil {
		q.logger.WithField("symbol", sig.Symbol).WithError(err).Debug("Signal rejected by validation")
		return models.OfferRejected
	}
	if sig.Confidence < params.MinConfidence || !params.AllowsTier(sig.Tier) {
		return models.OfferRejected
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	result := models.OfferAdmitted

	if existing, ok := q.entries[sig.Symbol]; ok {
		if existing.State == models.EntryPending {
			result = models.OfferReplaced
		}
		delete(q.entries, sig.Symbol)
	}

	if len(q.entries) >= q.capacity {
		q.evictOldestLocked()
	}

	q.entries[sig.Symbol] = &models.QueueEntry{
		Signal:     sig,
		AdmittedAt: now,
		ExpiresAt:  sig.ExpiresAt,
		Params:     params,
		State:      models.EntryPending,
	}

	q.logger.WithFields(logrus.Fields{
		"symbol":     sig.Symbol,
		"tier":       sig.Tier,
		"confidence": sig.Confidence,
		"result":     result,
	}).Info("Signal offered to queue")

	return result
}

// evictOldestLocked removes the PENDING entry with the oldest admission time.
// Terminal leftovers are purged first since they no longer occupy a slot that
// matters.
func (q *SignalQueue) evictOldestLocked() {
	for symbol, entry := range q.entries {
		if entry.State != models.EntryPending {
			delete(q.entries, symbol)
			return
		}
	}

	var oldestSymbol string
	var oldestAt time.Time
	for symbol, entry := range q.entries {
		if oldestSymbol == "" || entry.AdmittedAt.Before(oldestAt) {
			oldestSymbol = symbol
			oldestAt = entry.AdmittedAt
		}
	}
	if oldestSymbol != "" {
		q.logger.WithField("symbol", oldestSymbol).Info("Evicting oldest pending signal")
		delete(q.entries, oldestSymbol)
	}
}

// DrainReady returns the PENDING entries that are still live and pass the
// late admission re-check, ordered by admission time. Expired entries
// transition to EXPIRED and are purged.
func (q *SignalQueue) DrainReady(now time.Time) []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []models.QueueEntry
	for symbol, entry := range q.entries {
		if entry.State != models.EntryPending {
			delete(q.entries, symbol)
			continue
		}
		if !now.Before(entry.ExpiresAt) {
			entry.State = models.EntryExpired
			q.recordOutcomeLocked(models.EntryExpired, now)
			delete(q.entries, symbol)
			continue
		}
		if entry.Signal.Confidence < entry.Params.MinConfidence || !entry.Params.AllowsTier(entry.Signal.Tier) {
			continue
		}
		ready = append(ready, *entry)
	}

	sort.Slice(ready, func(i, j int) bool {
		return ready[i].AdmittedAt.Before(ready[j].AdmittedAt)
	})
	return ready
}

// Mark records the terminal outcome the supervisor reports for a symbol.
func (q *SignalQueue) Mark(symbol string, outcome models.Outcome) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[symbol]
	if !ok || entry.State != models.EntryPending {
		return
	}
	entry.State = outcome.State
	entry.OrderID = outcome.OrderID
	q.recordOutcomeLocked(outcome.State, q.clock.Now())
}

func (q *SignalQueue) recordOutcomeLocked(state models.EntryState, at time.Time) {
	q.outcomes = append(q.outcomes, outcomeRecord{state: state, at: at})
	if len(q.outcomes) > outcomeRingSize {
		q.outcomes = q.outcomes[len(q.outcomes)-outcomeRingSize:]
	}
}

// Status reports queue size, pending count, today's executions and the
// 24-hour success rate over the terminal history ring.
func (q *SignalQueue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	status := models.QueueStatus{Size: len(q.entries)}

	for _, entry := range q.entries {
		if entry.State == models.EntryPending {
			status.Pending++
		}
	}

	var recent, executed int
	day := now.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	for _, rec := range q.outcomes {
		if rec.state == models.EntryExecuted && !rec.at.Before(dayStart) {
			status.ExecutedToday++
		}
		if now.Sub(rec.at) <= 24*time.Hour {
			recent++
			if rec.state == models.EntryExecuted {
				executed++
			}
		}
	}
	if recent > 0 {
		status.SuccessRate = float64(executed) / float64(recent)
	}

	return status
}

// Entries returns a copy of the current queue contents for the API layer.
func (q *SignalQueue) Entries() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.QueueEntry, 0, len(q.entries))
	for _, entry := range q.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AdmittedAt.Before(out[j].AdmittedAt)
	})
	return out
}
