package models

import "time"

// Notification kinds.
const (
	KindConfirmation   = "confirmation"
	KindAcknowledgment = "acknowledgment"
	KindResolution     = "resolution"
	KindCustom         = "custom"
)

// Delivery states of a notification log entry.
const (
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDelivered = "delivered"
)

// NotificationLog records one push attempt.
type NotificationLog struct {
	ID          string    `json:"id" firestore:"-" dynamodbav:"id"`
	UserID      string    `json:"userId" firestore:"userId" dynamodbav:"userId"`
	ComplaintID string    `json:"complaintId" firestore:"complaintId" dynamodbav:"complaintId"`
	Type        string    `json:"type" firestore:"type" dynamodbav:"type"`
	Title       string    `json:"title" firestore:"title" dynamodbav:"title"`
	Body        string    `json:"body" firestore:"body" dynamodbav:"body"`
	SentAt      time.Time `json:"sentAt" firestore:"sentAt" dynamodbav:"sentAt"`
	Status      string    `json:"status" firestore:"status" dynamodbav:"status"`
	Token       string    `json:"token" firestore:"token" dynamodbav:"token"`
	MessageID   string    `json:"messageId,omitempty" firestore:"messageId,omitempty" dynamodbav:"messageId,omitempty"`
	Error       string    `json:"error,omitempty" firestore:"error,omitempty" dynamodbav:"error,omitempty"`
}

// NotificationFilter narrows log listings.
type NotificationFilter struct {
	UserID      string
	ComplaintID string
	Status      string
	Type        string
	Limit       int
}

// ValidKind reports whether k is a known notification kind.
func ValidKind(k string) bool {
	switch k {
	case KindConfirmation, KindAcknowledgment, KindResolution, KindCustom:
		return true
	}
	return false
}

// CustomNotificationRequest is the body of the callable manual-send endpoint.
type CustomNotificationRequest struct {
	UserID      string `json:"userId"`
	ComplaintID string `json:"complaintId"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Type        string `json:"type"`
}

// SendResponse is returned by the callable manual-send endpoint.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}
