package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AlertLevel classifies outbound alerts.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "INFO"
	LevelWarning  AlertLevel = "WARNING"
	LevelCritical AlertLevel = "CRITICAL"
)

// Alert is a single outbound notification.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	SentAt  time.Time  `json:"sent_at"`
}

// Sink delivers alerts to one channel (Telegram, log, ...).
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// Dispatcher fans alerts out to every configured sink and remembers the most
// recent alert per level for the status endpoint.
type Dispatcher struct {
	sinks  []Sink
	logger *logrus.Logger

	mu        sync.RWMutex
	lastAlert map[AlertLevel]Alert
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(logger *logrus.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:     sinks,
		logger:    logger,
		lastAlert: make(map[AlertLevel]Alert),
	}
}

// Dispatch records and delivers an alert. Sink failures are logged, never
// propagated; an alert must not take the pipeline down.
func (d *Dispatcher) Dispatch(ctx context.Context, level AlertLevel, title, message string) {
	alert := Alert{
		Level:   level,
		Title:   formatTitle(level, title),
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	d.mu.Lock()
	d.lastAlert[level] = alert
	d.mu.Unlock()

	for _, sink := range d.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			d.logger.WithFields(logrus.Fields{
				"level": level,
				"title": title,
			}).WithError(err).Warn("Failed to deliver alert")
		}
	}
}

// Critical dispatches a CRITICAL alert.
func (d *Dispatcher) Critical(ctx context.Context, title, message string) {
	d.Dispatch(ctx, LevelCritical, title, message)
}

// Warning dispatches a WARNING alert.
func (d *Dispatcher) Warning(ctx context.Context, title, message string) {
	d.Dispatch(ctx, LevelWarning, title, message)
}

// LastAlert returns the most recent alert at the given level.
func (d *Dispatcher) LastAlert(level AlertLevel) (Alert, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	alert, ok := d.lastAlert[level]
	return alert, ok
}

// formatTitle renders "CRITICAL: Unprotected Position" style headings.
func formatTitle(level AlertLevel, title string) string {
	titled := cases.Title(language.English).String(strings.ToLower(title))
	return string(level) + ": " + titled
}
