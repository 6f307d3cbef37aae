package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

// newEmulatorStore connects to the Firestore emulator under a fresh project
// so tests never see each other's documents.
func newEmulatorStore(t *testing.T) (*Store, *firestore.Client) {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	project := "civic-test-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	client, err := firestore.NewClient(context.Background(), project)
	require.NoError(t, err)
	store := NewFirestoreStore(client)
	t.Cleanup(func() { store.Close() })
	return store, client
}

func seedComplaint(t *testing.T, client *firestore.Client, id string, extra map[string]interface{}) {
	t.Helper()
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	doc := map[string]interface{}{
		"userId":    "citizen-1",
		"category":  "Pothole",
		"priority":  models.PriorityHigh,
		"status":    models.StatusSubmitted,
		"createdAt": created,
		"updatedAt": created,
	}
	for k, v := range extra {
		doc[k] = v
	}
	_, err := client.Collection(CollectionComplaints).Doc(id).Set(context.Background(), doc)
	require.NoError(t, err)
}

func startWork(now time.Time) MutateFunc {
	return func(c *models.Complaint) (*models.StatusHistory, error) {
		prev := c.Status
		c.Status = models.StatusInProgress
		c.Department = "Public Works"
		c.UpdatedAt = now
		c.UpdatedBy = "admin-1"
		return &models.StatusHistory{
			ComplaintID:    c.ID,
			PreviousStatus: prev,
			NewStatus:      c.Status,
			UpdatedBy:      "admin-1",
			Timestamp:      now,
		}, nil
	}
}

func TestFirestoreApplyUpdate_CommitsComplaintAndHistory(t *testing.T) {
	store, client := newEmulatorStore(t)
	ctx := context.Background()
	seedComplaint(t, client, "ISS-1", map[string]interface{}{
		"photoUrl":    "https://cdn.example/p.jpg",
		"coordinates": map[string]interface{}{"lat": 19.07, "lng": 72.87},
	})
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	before, after, err := store.Complaints.ApplyUpdate(ctx, "ISS-1", startWork(now))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, before.Status)
	assert.Equal(t, models.StatusInProgress, after.Status)

	snap, err := client.Collection(CollectionComplaints).Doc("ISS-1").Get(ctx)
	require.NoError(t, err)
	data := snap.Data()
	assert.Equal(t, models.StatusInProgress, data["status"])
	assert.Equal(t, "Public Works", data["department"])
	assert.Equal(t, "https://cdn.example/p.jpg", data["photoUrl"])
	assert.Contains(t, data, "coordinates")
	assert.Equal(t, "Pothole", data["category"])

	history, err := store.Complaints.ListHistory(ctx, "ISS-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusSubmitted, history[0].PreviousStatus)
	assert.Equal(t, models.StatusInProgress, history[0].NewStatus)
	assert.NotEmpty(t, history[0].ID)
}

func TestFirestoreApplyUpdate_MissingComplaintWritesNothing(t *testing.T) {
	store, _ := newEmulatorStore(t)
	ctx := context.Background()

	_, _, err := store.Complaints.ApplyUpdate(ctx, "ISS-0000", startWork(time.Now().UTC()))
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := store.Complaints.ListHistory(ctx, "ISS-0000")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFirestoreApplyUpdate_RejectedMutationWritesNothing(t *testing.T) {
	store, client := newEmulatorStore(t)
	ctx := context.Background()
	seedComplaint(t, client, "ISS-1", nil)
	rejected := errors.New("transition not allowed")

	_, _, err := store.Complaints.ApplyUpdate(ctx, "ISS-1", func(c *models.Complaint) (*models.StatusHistory, error) {
		c.Status = models.StatusClosed
		return nil, rejected
	})
	assert.ErrorIs(t, err, rejected)

	got, err := store.Complaints.FindByID(ctx, "ISS-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)

	history, err := store.Complaints.ListHistory(ctx, "ISS-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFirestoreMarkEscalated_OnlyOnce(t *testing.T) {
	store, client := newEmulatorStore(t)
	ctx := context.Background()
	seedComplaint(t, client, "ISS-1", nil)
	at := time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)

	won, err := store.Complaints.MarkEscalated(ctx, "ISS-1", at)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Complaints.MarkEscalated(ctx, "ISS-1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, won)

	got, err := store.Complaints.FindByID(ctx, "ISS-1")
	require.NoError(t, err)
	require.NotNil(t, got.EscalatedAt)
	assert.True(t, got.EscalatedAt.Equal(at))

	_, err = store.Complaints.MarkEscalated(ctx, "ISS-0000", at)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFirestoreDeleteOlderThan_Batches(t *testing.T) {
	store, _ := newEmulatorStore(t)
	ctx := context.Background()
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	cutoff := now.Add(-30 * 24 * time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Logs.SaveLog(ctx, &models.NotificationLog{
			UserID: "citizen-1", ComplaintID: "ISS-1", Type: models.KindAcknowledgment,
			Status: models.StatusSent, SentAt: cutoff.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, store.Logs.SaveLog(ctx, &models.NotificationLog{
			UserID: "citizen-1", ComplaintID: "ISS-1", Type: models.KindResolution,
			Status: models.StatusSent, SentAt: now.Add(-time.Duration(i) * time.Hour),
		}))
	}

	n, err := store.Logs.DeleteOlderThan(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	left, err := store.Logs.GetLogs(ctx, models.NotificationFilter{UserID: "citizen-1"})
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, l := range left {
		assert.Equal(t, models.KindResolution, l.Type)
	}
}

func TestFirestoreTokens_UpsertAndDeactivate(t *testing.T) {
	store, _ := newEmulatorStore(t)
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Tokens.Upsert(ctx, &models.DeviceToken{
		UserID: "citizen-1", Token: "web-1", DeviceClass: models.DeviceWeb, Active: true,
		CreatedAt: first, UpdatedAt: first,
	}))
	require.NoError(t, store.Tokens.Upsert(ctx, &models.DeviceToken{
		UserID: "citizen-1", Token: "web-2", DeviceClass: models.DeviceWeb, Active: true,
		CreatedAt: first.Add(time.Hour), UpdatedAt: first.Add(time.Hour),
	}))

	tok, err := store.Tokens.FindActive(ctx, "citizen-1")
	require.NoError(t, err)
	assert.Equal(t, "web-2", tok.Token)
	assert.True(t, tok.CreatedAt.Equal(first))

	n, err := store.Tokens.DeactivateAll(ctx, "citizen-1", first.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Tokens.FindActive(ctx, "citizen-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
