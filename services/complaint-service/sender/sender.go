package sender

import (
	"context"
	"time"
)

// Message is a push notification addressed to one device token.
type Message struct {
	Token string
	Title string
	Body  string
	Icon  string
	Data  map[string]string
}

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// PushSender delivers a message through the push service.
type PushSender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}
