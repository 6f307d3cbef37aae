package repository

import (
	"context"
	"errors"
	"time"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record modified concurrently")
)

// Collection (and DynamoDB table) names.
const (
	CollectionComplaints       = "complaints"
	CollectionStatusHistory    = "statusHistory"
	CollectionDeviceTokens     = "fcmTokens"
	CollectionNotificationLogs = "notificationLogs"
	CollectionCivicIssues      = "civic_issues"
)

// MutateFunc changes the complaint in place and returns the history entry to
// append with it. Returning an error aborts the update. It may be invoked
// more than once when the store retries on contention.
type MutateFunc func(c *models.Complaint) (*models.StatusHistory, error)

type ComplaintRepository interface {
	Create(ctx context.Context, c *models.Complaint) error
	FindByID(ctx context.Context, id string) (*models.Complaint, error)
	List(ctx context.Context, filter models.ComplaintFilter) ([]models.Complaint, error)
	// ApplyUpdate writes the mutated complaint and its history entry in one
	// atomic commit and returns the complaint before and after the change.
	ApplyUpdate(ctx context.Context, id string, mutate MutateFunc) (before, after *models.Complaint, err error)
	ListHistory(ctx context.Context, complaintID string) ([]models.StatusHistory, error)
	// MarkEscalated sets escalatedAt when it is unset. It reports false when
	// another caller got there first.
	MarkEscalated(ctx context.Context, id string, at time.Time) (bool, error)
}

type TokenRepository interface {
	// FindActive returns the most recently updated active token of userID.
	FindActive(ctx context.Context, userID string) (*models.DeviceToken, error)
	// FindLatest returns the most recently updated token regardless of state.
	FindLatest(ctx context.Context, userID string) (*models.DeviceToken, error)
	Upsert(ctx context.Context, t *models.DeviceToken) error
	DeactivateAll(ctx context.Context, userID string, at time.Time) (int, error)
}

type NotificationLogRepository interface {
	SaveLog(ctx context.Context, log *models.NotificationLog) error
	GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

type CivicIssueRepository interface {
	FindByCity(ctx context.Context, city string) (*models.CivicIssue, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Complaints  ComplaintRepository
	Tokens      TokenRepository
	Logs        NotificationLogRepository
	CivicIssues CivicIssueRepository
	closeFn     func() error
}

// Close releases the backend's connections.
func (s *Store) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// pickLatest returns the most recently updated token, optionally only among
// active ones.
func pickLatest(tokens []models.DeviceToken, activeOnly bool) *models.DeviceToken {
	var best *models.DeviceToken
	for i := range tokens {
		t := &tokens[i]
		if activeOnly && !t.Active {
			continue
		}
		if best == nil || t.UpdatedAt.After(best.UpdatedAt) {
			best = t
		}
	}
	return best
}

// fieldChange is one stored attribute written by a status update.
type fieldChange struct {
	Path  string
	Value interface{}
}

// complaintChanges lists the attributes a status update owns. Empty optional
// fields are left out so the write never blanks values set by other clients,
// and attributes this service does not model are never touched.
func complaintChanges(c *models.Complaint) []fieldChange {
	changes := []fieldChange{
		{Path: "status", Value: c.Status},
		{Path: "updatedAt", Value: c.UpdatedAt},
	}
	optional := []fieldChange{
		{Path: "updatedBy", Value: c.UpdatedBy},
		{Path: "assignedTo", Value: c.AssignedTo},
		{Path: "department", Value: c.Department},
		{Path: "resolutionImage", Value: c.ResolutionImage},
		{Path: "resolutionNotes", Value: c.ResolutionNotes},
	}
	for _, f := range optional {
		if f.Value != "" {
			changes = append(changes, f)
		}
	}
	return changes
}

func statusIn(status string, statuses []string) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func matchesLog(l *models.NotificationLog, f models.NotificationFilter) bool {
	return (f.UserID == "" || l.UserID == f.UserID) &&
		(f.ComplaintID == "" || l.ComplaintID == f.ComplaintID) &&
		(f.Status == "" || l.Status == f.Status) &&
		(f.Type == "" || l.Type == f.Type)
}
