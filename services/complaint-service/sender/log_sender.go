package sender

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of sending them. Used when
// FCM is disabled in local development.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) (SendResult, error) {
	id := "log-" + uuid.NewString()
	s.logger.Info("push notification (not sent, FCM disabled)",
		zap.String("message_id", id),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.Any("data", msg.Data),
	)
	return SendResult{MessageID: id, SentAt: time.Now().UTC()}, nil
}
