package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

// NewFirestoreStore returns repositories backed by the Firestore collections
// the portal and its mobile app share.
func NewFirestoreStore(client *firestore.Client) *Store {
	return &Store{
		Complaints:  &firestoreComplaints{client: client},
		Tokens:      &firestoreTokens{client: client},
		Logs:        &firestoreLogs{client: client},
		CivicIssues: &firestoreCivicIssues{client: client},
		closeFn:     client.Close,
	}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// ---- complaints ----

type firestoreComplaints struct {
	client *firestore.Client
}

func (r *firestoreComplaints) col() *firestore.CollectionRef {
	return r.client.Collection(CollectionComplaints)
}

func (r *firestoreComplaints) Create(ctx context.Context, c *models.Complaint) error {
	ref := r.col().Doc(c.ID)
	if _, err := ref.Create(ctx, c); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("complaint %s: %w", c.ID, ErrConflict)
		}
		return fmt.Errorf("firestore create complaint: %w", err)
	}
	return nil
}

func (r *firestoreComplaints) FindByID(ctx context.Context, id string) (*models.Complaint, error) {
	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore get complaint: %w", err)
	}
	return decodeComplaint(snap)
}

func decodeComplaint(snap *firestore.DocumentSnapshot) (*models.Complaint, error) {
	var c models.Complaint
	if err := snap.DataTo(&c); err != nil {
		return nil, fmt.Errorf("decode complaint %s: %w", snap.Ref.ID, err)
	}
	c.ID = snap.Ref.ID
	return &c, nil
}

func (r *firestoreComplaints) List(ctx context.Context, filter models.ComplaintFilter) ([]models.Complaint, error) {
	q := r.col().Query
	switch len(filter.Statuses) {
	case 0:
	case 1:
		q = q.Where("status", "==", filter.Statuses[0])
	default:
		q = q.Where("status", "in", filter.Statuses)
	}
	if filter.Department != "" {
		q = q.Where("department", "==", filter.Department)
	}
	if filter.UserID != "" {
		q = q.Where("userId", "==", filter.UserID)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.Complaint
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list complaints: %w", err)
		}
		c, err := decodeComplaint(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}

	// Ordered in memory so the query needs no composite index.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *firestoreComplaints) ApplyUpdate(ctx context.Context, id string, mutate MutateFunc) (*models.Complaint, *models.Complaint, error) {
	ref := r.col().Doc(id)
	var before, after *models.Complaint

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		current, err := decodeComplaint(snap)
		if err != nil {
			return err
		}
		prev := *current

		entry, err := mutate(current)
		if err != nil {
			return err
		}
		changes := complaintChanges(current)
		updates := make([]firestore.Update, 0, len(changes))
		for _, ch := range changes {
			updates = append(updates, firestore.Update{Path: ch.Path, Value: ch.Value})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		if entry != nil {
			histRef := r.client.Collection(CollectionStatusHistory).NewDoc()
			entry.ID = histRef.ID
			if err := tx.Create(histRef, entry); err != nil {
				return err
			}
		}
		before, after = &prev, current
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("firestore update complaint %s: %w", id, err)
	}
	return before, after, nil
}

func (r *firestoreComplaints) ListHistory(ctx context.Context, complaintID string) ([]models.StatusHistory, error) {
	iter := r.client.Collection(CollectionStatusHistory).
		Where("complaintId", "==", complaintID).
		Documents(ctx)
	defer iter.Stop()

	var out []models.StatusHistory
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list history: %w", err)
		}
		var h models.StatusHistory
		if err := snap.DataTo(&h); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", snap.Ref.ID, err)
		}
		h.ID = snap.Ref.ID
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *firestoreComplaints) MarkEscalated(ctx context.Context, id string, at time.Time) (bool, error) {
	ref := r.col().Doc(id)
	won := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		won = false
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		if v, err := snap.DataAt("escalatedAt"); err == nil && v != nil {
			return nil
		}
		won = true
		return tx.Update(ref, []firestore.Update{{Path: "escalatedAt", Value: at}})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("firestore mark escalated %s: %w", id, err)
	}
	return won, nil
}

// ---- device tokens ----

type firestoreTokens struct {
	client *firestore.Client
}

func (r *firestoreTokens) forUser(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	snaps, err := r.client.Collection(CollectionDeviceTokens).
		Where("userId", "==", userID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore list tokens: %w", err)
	}
	out := make([]models.DeviceToken, 0, len(snaps))
	for _, snap := range snaps {
		var t models.DeviceToken
		if err := snap.DataTo(&t); err != nil {
			return nil, fmt.Errorf("decode token %s: %w", snap.Ref.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *firestoreTokens) FindActive(ctx context.Context, userID string) (*models.DeviceToken, error) {
	tokens, err := r.forUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if t := pickLatest(tokens, true); t != nil {
		return t, nil
	}
	return nil, ErrNotFound
}

func (r *firestoreTokens) FindLatest(ctx context.Context, userID string) (*models.DeviceToken, error) {
	tokens, err := r.forUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if t := pickLatest(tokens, false); t != nil {
		return t, nil
	}
	return nil, ErrNotFound
}

func (r *firestoreTokens) Upsert(ctx context.Context, t *models.DeviceToken) error {
	ref := r.client.Collection(CollectionDeviceTokens).Doc(t.ID())
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil && snap.Exists() {
			var existing models.DeviceToken
			if err := snap.DataTo(&existing); err == nil && !existing.CreatedAt.IsZero() {
				t.CreatedAt = existing.CreatedAt
			}
		}
		return tx.Set(ref, t)
	})
	if err != nil {
		return fmt.Errorf("firestore upsert token: %w", err)
	}
	return nil
}

func (r *firestoreTokens) DeactivateAll(ctx context.Context, userID string, at time.Time) (int, error) {
	snaps, err := r.client.Collection(CollectionDeviceTokens).
		Where("userId", "==", userID).
		Where("active", "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("firestore list tokens: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	for _, snap := range snaps {
		job, err := bw.Update(snap.Ref, []firestore.Update{
			{Path: "active", Value: false},
			{Path: "updatedAt", Value: at},
		})
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("queue token update: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	n := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return n, fmt.Errorf("deactivate token: %w", err)
		}
		n++
	}
	return n, nil
}

// ---- notification logs ----

type firestoreLogs struct {
	client *firestore.Client
}

func (r *firestoreLogs) SaveLog(ctx context.Context, log *models.NotificationLog) error {
	ref := r.client.Collection(CollectionNotificationLogs).NewDoc()
	log.ID = ref.ID
	if _, err := ref.Create(ctx, log); err != nil {
		return fmt.Errorf("firestore save notification log: %w", err)
	}
	return nil
}

func (r *firestoreLogs) GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, error) {
	q := r.client.Collection(CollectionNotificationLogs).Query
	if filter.UserID != "" {
		q = q.Where("userId", "==", filter.UserID)
	}
	if filter.ComplaintID != "" {
		q = q.Where("complaintId", "==", filter.ComplaintID)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.NotificationLog
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list notification logs: %w", err)
		}
		var l models.NotificationLog
		if err := snap.DataTo(&l); err != nil {
			return nil, fmt.Errorf("decode notification log %s: %w", snap.Ref.ID, err)
		}
		l.ID = snap.Ref.ID
		if matchesLog(&l, filter) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *firestoreLogs) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	deleted := 0
	for {
		snaps, err := r.client.Collection(CollectionNotificationLogs).
			Where("sentAt", "<", cutoff).
			Limit(batchSize).
			Documents(ctx).GetAll()
		if err != nil {
			return deleted, fmt.Errorf("firestore list expired logs: %w", err)
		}
		if len(snaps) == 0 {
			return deleted, nil
		}

		bw := r.client.BulkWriter(ctx)
		jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
		for _, snap := range snaps {
			job, err := bw.Delete(snap.Ref)
			if err != nil {
				bw.End()
				return deleted, fmt.Errorf("queue log delete: %w", err)
			}
			jobs = append(jobs, job)
		}
		bw.End()

		for _, job := range jobs {
			if _, err := job.Results(); err != nil {
				return deleted, fmt.Errorf("delete log: %w", err)
			}
			deleted++
		}
		if len(snaps) < batchSize {
			return deleted, nil
		}
	}
}

// ---- civic issues ----

type firestoreCivicIssues struct {
	client *firestore.Client
}

func (r *firestoreCivicIssues) FindByCity(ctx context.Context, city string) (*models.CivicIssue, error) {
	snap, err := r.client.Collection(CollectionCivicIssues).Doc(models.CivicIssueID(city)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore get civic issue: %w", err)
	}
	var ci models.CivicIssue
	if err := snap.DataTo(&ci); err != nil {
		return nil, fmt.Errorf("decode civic issue: %w", err)
	}
	if ci.City == "" {
		ci.City = city
	}
	return &ci, nil
}
