package services

import (
	"fmt"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

var allowedTransitions = map[string]map[string]struct{}{
	models.StatusSubmitted: {
		models.StatusInProgress: {},
		models.StatusResolved:   {},
		models.StatusClosed:     {},
	},
	models.StatusInProgress: {
		models.StatusResolved: {},
		models.StatusClosed:   {},
	},
	models.StatusResolved: {
		models.StatusInProgress: {},
		models.StatusClosed:     {},
	},
	models.StatusClosed: {},
}

// CanTransition reports whether a complaint may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return models.ValidStatus(to)
	}
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// KindForTransition derives the notification kind a write to a complaint
// calls for. before is nil when the write created the document. An empty
// result means no notification is due.
func KindForTransition(before *models.Complaint, after *models.Complaint) string {
	if after == nil {
		return ""
	}
	if before == nil {
		switch after.Status {
		case models.StatusSubmitted:
			return models.KindConfirmation
		case models.StatusInProgress:
			return models.KindAcknowledgment
		case models.StatusResolved:
			return models.KindResolution
		}
		return ""
	}
	if before.Status == after.Status {
		return ""
	}
	switch after.Status {
	case models.StatusInProgress:
		return models.KindAcknowledgment
	case models.StatusResolved:
		return models.KindResolution
	}
	return ""
}

// DedupeKey identifies one notification-worthy transition of a complaint.
func DedupeKey(complaintID, status string) string {
	return fmt.Sprintf("%s:%s", complaintID, status)
}
