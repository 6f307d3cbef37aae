package sender_test

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/sender"
)

type fakeFCM struct {
	got *messaging.Message
	id  string
	err error
}

func (f *fakeFCM) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.got = m
	return f.id, f.err
}

func TestFCMSender_Send(t *testing.T) {
	fcm := &fakeFCM{id: "projects/p/messages/1"}
	s := sender.NewFCMSender(fcm)

	res, err := s.Send(context.Background(), sender.Message{
		Token: "tok-1",
		Title: "Complaint Resolved",
		Body:  "Your Pothole complaint (ISS-1) has been resolved.",
		Icon:  "/icons/civic.png",
		Data: map[string]string{
			"complaintId": "ISS-1",
			"type":        "resolution",
			"action":      "view_complaint",
			"clickAction": "https://portal.example.gov/complaints/ISS-1",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/messages/1", res.MessageID)
	assert.False(t, res.SentAt.IsZero())

	require.NotNil(t, fcm.got)
	assert.Equal(t, "tok-1", fcm.got.Token)
	assert.Equal(t, "Complaint Resolved", fcm.got.Notification.Title)
	assert.Equal(t, "ISS-1", fcm.got.Data["complaintId"])
	assert.Equal(t, "high", fcm.got.Android.Priority)
	assert.Equal(t, "/icons/civic.png", fcm.got.Android.Notification.Icon)
	assert.Equal(t, "https://portal.example.gov/complaints/ISS-1", fcm.got.Webpush.FcmOptions.Link)
}

func TestFCMSender_Error(t *testing.T) {
	s := sender.NewFCMSender(&fakeFCM{err: errors.New("registration-token-not-registered")})
	_, err := s.Send(context.Background(), sender.Message{Token: "stale"})
	assert.ErrorContains(t, err, "registration-token-not-registered")
}
