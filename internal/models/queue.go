package models

import "time"

// EntryState is the lifecycle state of a queued signal.
type EntryState string

const (
	EntryPending  EntryState = "PENDING"
	EntryExecuted EntryState = "EXECUTED"
	EntryExpired  EntryState = "EXPIRED"
	EntryRejected EntryState = "REJECTED"
)

// OfferResult reports how the queue handled an offered signal.
type OfferResult string

const (
	OfferAdmitted OfferResult = "ADMITTED"
	OfferReplaced OfferResult = "REPLACED"
	OfferRejected OfferResult = "REJECTED"
)

// AdmissionParams filter which signals a symbol's queue slot accepts.
type AdmissionParams struct {
	MinConfidence float64 `json:"min_confidence"`
	AllowedTiers  []Tier  `json:"allowed_tiers"`
}

// AllowsTier reports whether the tier passes the allowed-tiers filter.
// An empty filter admits every tier.
func (p AdmissionParams) AllowsTier(t Tier) bool {
	if len(p.AllowedTiers) == 0 {
		return true
	}
	for _, allowed := range p.AllowedTiers {
		if allowed == t {
			return true
		}
	}
	return false
}

// QueueEntry wraps a pending signal together with its admission metadata.
type QueueEntry struct {
	Signal     Signal          `json:"signal"`
	AdmittedAt time.Time       `json:"admitted_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Params     AdmissionParams `json:"params"`
	State      EntryState      `json:"state"`
	OrderID    string          `json:"order_id,omitempty"`
}

// Outcome records the terminal result the supervisor reports back to the queue.
type Outcome struct {
	State   EntryState `json:"state"`
	OrderID string     `json:"order_id,omitempty"`
}

// QueueStatus is a point-in-time snapshot of queue health.
type QueueStatus struct {
	Size          int     `json:"size"`
	Pending       int     `json:"pending"`
	ExecutedToday int     `json:"executed_today"`
	SuccessRate   float64 `json:"success_rate_24h"`
}
