package notification

import (
	"context"
	"log/slog"
)

// Notification kinds emitted by the core. Delivery, templating and retries
// belong to the downstream notification system, never to the emitter.
const (
	KindTransferCompleted = "transfer_completed"
	KindTransferFailed    = "transfer_failed"
	KindVerificationCode  = "verification_code"
	KindScheduleExecuted  = "schedule_executed"
	KindScheduleFailed    = "schedule_failed"
)

// Intent describes a notification the core wants delivered to a user.
type Intent struct {
	UserID  string
	Kind    string
	Payload map[string]string
}

// Notifier accepts notification intents for downstream delivery.
type Notifier interface {
	Send(ctx context.Context, intent Intent) error
}

// LoggerNotifier is a stub implementation that writes intents to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the intent to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, intent Intent) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{"kind", intent.Kind, "user_id", intent.UserID}
	for k, v := range intent.Payload {
		if k == "code" {
			// Never log verification secrets.
			continue
		}
		attrs = append(attrs, k, v)
	}
	n.logger.Info("notification intent", attrs...)
	return nil
}
