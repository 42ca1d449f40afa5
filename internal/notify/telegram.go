package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
)

// TelegramSink delivers alerts to a Telegram chat.
type TelegramSink struct {
	bot    *bot.Bot
	chatID int64
	logger *logrus.Logger
}

// NewTelegramSink creates a sink for the configured bot token and chat.
func NewTelegramSink(token string, chatID int64, logger *logrus.Logger) (*TelegramSink, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramSink{bot: b, chatID: chatID, logger: logger}, nil
}

// Send delivers one alert message.
func (s *TelegramSink) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("%s\n\n%s", alert.Title, alert.Message)
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	return nil
}

// LogSink writes alerts to the process log. Used when Telegram is not
// configured so CRITICAL alerts always land somewhere.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send logs the alert at a level matching its severity.
func (s *LogSink) Send(_ context.Context, alert Alert) error {
	entry := s.logger.WithFields(logrus.Fields{
		"alert_level": alert.Level,
		"title":       alert.Title,
	})
	switch alert.Level {
	case LevelCritical:
		entry.Error(alert.Message)
	case LevelWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
	return nil
}
