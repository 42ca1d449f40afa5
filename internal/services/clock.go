package services

import "time"

// Clock abstracts wall-clock time so tests can control daily resets,
// expirations and snapshot names.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// NewRealClock returns the system clock in UTC.
func NewRealClock() Clock {
	return realClock{}
}
