package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
)

// UpdateStatusInput is one status change requested by a member of staff.
// Empty optional fields leave the stored value untouched.
type UpdateStatusInput struct {
	ComplaintID     string
	Status          string
	UpdatedBy       string
	AssignedTo      string
	Department      string
	ResolutionNotes string
	ResolutionImage string
	Notes           string
	Actor           models.Principal
}

// StatusService is the only writer of complaint status.
type StatusService struct {
	complaints repository.ComplaintRepository
	images     ImageStore
	notifier   *changeNotifier
	metrics    *awspkg.MetricsClient
	logger     *zap.Logger
	now        func() time.Time
}

// StatusServiceOptions wires the optional collaborators of StatusService.
type StatusServiceOptions struct {
	Dispatcher *Dispatcher
	// DirectDispatch notifies from the request path in addition to any
	// trigger consumer. Dispatch is deduplicated, so both may be on.
	DirectDispatch bool
	Publisher      ChangePublisher
	Images         ImageStore
	Metrics        *awspkg.MetricsClient
	Logger         *zap.Logger
}

func NewStatusService(complaints repository.ComplaintRepository, opts StatusServiceOptions) *StatusService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{
		complaints: complaints,
		images:     opts.Images,
		notifier:   newChangeNotifier(opts.Dispatcher, opts.Publisher, opts.DirectDispatch, logger),
		metrics:    opts.Metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// UpdateStatus merges in into the complaint, appends one history entry in the
// same commit and then notifies the submitter.
func (s *StatusService) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*models.Complaint, error) {
	in.ComplaintID = strings.TrimSpace(in.ComplaintID)
	in.ResolutionNotes = strings.TrimSpace(in.ResolutionNotes)
	if in.UpdatedBy == "" {
		in.UpdatedBy = in.Actor.UserID
	}
	if err := validateUpdate(in); err != nil {
		return nil, err
	}
	if !in.Actor.IsStaff() {
		return nil, apperrors.PermissionDenied("only staff may update complaint status")
	}

	if isDataURL(in.ResolutionImage) {
		ref, err := s.storeInlineImage(ctx, in.ComplaintID, in.ResolutionImage)
		if err != nil {
			return nil, err
		}
		in.ResolutionImage = ref
	}

	now := s.now().Truncate(time.Millisecond)
	before, after, err := s.complaints.ApplyUpdate(ctx, in.ComplaintID, func(c *models.Complaint) (*models.StatusHistory, error) {
		return applyStatusChange(c, in, now)
	})
	if err != nil {
		return nil, translateUpdateError(in.ComplaintID, err)
	}

	s.logger.Info("complaint status updated",
		zap.String("complaint_id", after.ID),
		zap.String("from", before.Status),
		zap.String("to", after.Status),
		zap.String("updated_by", after.UpdatedBy),
	)
	s.metrics.RecordCount(ctx, awspkg.MetricStatusUpdates, map[string]string{"Status": after.Status})

	s.notifier.afterWrite(ctx, before, after)
	return after, nil
}

func validateUpdate(in UpdateStatusInput) error {
	if in.ComplaintID == "" {
		return apperrors.InvalidArgument("complaint id is required")
	}
	if in.Status != "" && !models.ValidStatus(in.Status) {
		return apperrors.InvalidArgument(fmt.Sprintf("invalid status %q", in.Status))
	}
	if in.UpdatedBy == "" {
		return apperrors.InvalidArgument("updatedBy is required")
	}
	// Resolution notes and image may already be on the complaint, so they are
	// checked inside the update.
	return nil
}

// applyStatusChange is the mutate step of UpdateStatus. It may run more than
// once when the store retries.
func applyStatusChange(c *models.Complaint, in UpdateStatusInput, now time.Time) (*models.StatusHistory, error) {
	if !in.Actor.CanAccess(c) {
		return nil, apperrors.PermissionDenied("complaint belongs to another department")
	}

	target := in.Status
	if target == "" {
		target = c.Status
		if c.Status == models.StatusSubmitted && (in.Department != "" || in.AssignedTo != "") {
			target = models.StatusInProgress
		}
	}
	if !CanTransition(c.Status, target) {
		return nil, apperrors.FailedPrecondition(fmt.Sprintf("cannot move complaint from %s to %s", c.Status, target))
	}
	if target == models.StatusResolved {
		if in.ResolutionImage == "" && c.ResolutionImage == "" {
			return nil, apperrors.InvalidArgument("a resolution image is required to resolve a complaint")
		}
		if in.ResolutionNotes == "" && c.ResolutionNotes == "" {
			return nil, apperrors.InvalidArgument("resolution notes are required to resolve a complaint")
		}
	}

	previous := c.Status
	if in.AssignedTo != "" {
		c.AssignedTo = in.AssignedTo
	}
	if in.Department != "" {
		c.Department = in.Department
	}
	if in.ResolutionNotes != "" {
		c.ResolutionNotes = in.ResolutionNotes
	}
	if in.ResolutionImage != "" {
		c.ResolutionImage = in.ResolutionImage
	}
	c.Status = target
	c.UpdatedAt = now
	c.UpdatedBy = in.UpdatedBy

	return &models.StatusHistory{
		ComplaintID:    c.ID,
		PreviousStatus: previous,
		NewStatus:      target,
		UpdatedBy:      in.UpdatedBy,
		Timestamp:      now,
		Notes:          in.Notes,
	}, nil
}

func (s *StatusService) storeInlineImage(ctx context.Context, complaintID, dataURL string) (string, error) {
	if s.images == nil {
		s.logger.Warn("no object store configured, storing resolution image inline",
			zap.String("complaint_id", complaintID),
			zap.Int("bytes", len(dataURL)),
		)
		return dataURL, nil
	}
	contentType, body, err := decodeDataURL(dataURL)
	if err != nil {
		return "", apperrors.InvalidArgument(fmt.Sprintf("invalid resolution image: %v", err))
	}
	// Upload only for complaints that exist.
	if _, err := s.complaints.FindByID(ctx, complaintID); err != nil {
		return "", translateUpdateError(complaintID, err)
	}
	key := resolutionImageKey(complaintID, contentType)
	if err := s.images.PutObject(ctx, key, contentType, body); err != nil {
		return "", apperrors.Internal("failed to store resolution image", err)
	}
	return key, nil
}

func translateUpdateError(id string, err error) error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(fmt.Sprintf("complaint %s not found", id))
	case errors.Is(err, repository.ErrConflict):
		return apperrors.FailedPrecondition("complaint was modified concurrently, retry the update")
	default:
		return apperrors.Internal("failed to update complaint", err)
	}
}
