package sender

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/messaging"
)

// FCMClient is the part of *messaging.Client the sender needs.
type FCMClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender sends through Firebase Cloud Messaging.
type FCMSender struct {
	client FCMClient
}

func NewFCMSender(client FCMClient) *FCMSender {
	return &FCMSender{client: client}
}

func (s *FCMSender) Send(ctx context.Context, msg Message) (SendResult, error) {
	id, err := s.client.Send(ctx, BuildFCMMessage(msg))
	if err != nil {
		return SendResult{}, fmt.Errorf("fcm send: %w", err)
	}
	return SendResult{MessageID: id, SentAt: time.Now().UTC()}, nil
}

// BuildFCMMessage maps msg onto the FCM payload. Android and APNs get high
// priority so status updates show while the app is backgrounded.
func BuildFCMMessage(msg Message) *messaging.Message {
	return &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Icon:        msg.Icon,
				ClickAction: msg.Data["clickAction"],
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Icon:  msg.Icon,
			},
			FcmOptions: webpushOptions(msg.Data["clickAction"]),
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: msg.Title,
						Body:  msg.Body,
					},
					Sound: "default",
				},
			},
		},
	}
}

func webpushOptions(link string) *messaging.WebpushFcmOptions {
	if link == "" {
		return nil
	}
	return &messaging.WebpushFcmOptions{Link: link}
}
