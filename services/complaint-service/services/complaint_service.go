package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
)

const maxCreateAttempts = 3

type ComplaintServiceOptions struct {
	Dispatcher     *Dispatcher
	DirectDispatch bool
	Publisher      ChangePublisher
	Images         ImageStore
	UploadExpiry   time.Duration
	SLA            SLAPolicy
	Metrics        *awspkg.MetricsClient
	Logger         *zap.Logger
}

// ComplaintService serves complaint intake and the read side of the
// dashboard.
type ComplaintService struct {
	complaints   repository.ComplaintRepository
	civicIssues  repository.CivicIssueRepository
	images       ImageStore
	uploadExpiry time.Duration
	sla          SLAPolicy
	notifier     *changeNotifier
	metrics      *awspkg.MetricsClient
	logger       *zap.Logger
	now          func() time.Time
}

func NewComplaintService(complaints repository.ComplaintRepository, civicIssues repository.CivicIssueRepository, opts ComplaintServiceOptions) *ComplaintService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UploadExpiry <= 0 {
		opts.UploadExpiry = 15 * time.Minute
	}
	if opts.SLA.Name == "" {
		opts.SLA = PrioritySLAPolicy()
	}
	return &ComplaintService{
		complaints:   complaints,
		civicIssues:  civicIssues,
		images:       opts.Images,
		uploadExpiry: opts.UploadExpiry,
		sla:          opts.SLA,
		notifier:     newChangeNotifier(opts.Dispatcher, opts.Publisher, opts.DirectDispatch, logger),
		metrics:      opts.Metrics,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// NewComplaintID returns an identifier of the form ISS-XXXXXXXX.
func NewComplaintID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ISS-" + strings.ToUpper(hex[:8])
}

// Create files a new complaint in the submitted state.
func (s *ComplaintService) Create(ctx context.Context, actor models.Principal, req models.CreateComplaintRequest) (*models.Complaint, error) {
	if strings.TrimSpace(req.Category) == "" || strings.TrimSpace(req.Description) == "" {
		return nil, apperrors.InvalidArgument("category and description are required")
	}
	if actor.UserID == "" {
		return nil, apperrors.Unauthenticated("authentication required")
	}

	now := s.now().Truncate(time.Millisecond)
	c := &models.Complaint{
		UserID:      actor.UserID,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		City:        strings.TrimSpace(req.City),
		Location:    req.Location,
		Priority:    models.NormalizePriority(req.Priority),
		Status:      models.StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   actor.UserID,
	}
	c.Department = s.suggestDepartment(ctx, c.City, c.Category)

	var err error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		c.ID = NewComplaintID()
		if err = s.complaints.Create(ctx, c); !errors.Is(err, repository.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, apperrors.Internal("failed to create complaint", err)
	}

	s.logger.Info("complaint created",
		zap.String("complaint_id", c.ID),
		zap.String("category", c.Category),
		zap.String("department", c.Department),
	)
	s.metrics.RecordCount(ctx, awspkg.MetricComplaintsCreated, map[string]string{"Category": c.Category})

	s.notifier.afterWrite(ctx, nil, c)
	return c, nil
}

func (s *ComplaintService) suggestDepartment(ctx context.Context, city, category string) string {
	if city == "" || s.civicIssues == nil {
		return ""
	}
	issue, err := s.civicIssues.FindByCity(ctx, city)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("civic issue lookup failed", zap.String("city", city), zap.Error(err))
		}
		return ""
	}
	return issue.DepartmentFor(category)
}

// Get returns the complaint if actor may see it. Complaints outside the
// actor's scope are reported as missing.
func (s *ComplaintService) Get(ctx context.Context, actor models.Principal, id string) (*models.Complaint, error) {
	c, err := s.complaints.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("complaint %s not found", id))
		}
		return nil, apperrors.Internal("failed to load complaint", err)
	}
	if !actor.CanAccess(c) {
		return nil, apperrors.NotFound(fmt.Sprintf("complaint %s not found", id))
	}
	return c, nil
}

func (s *ComplaintService) List(ctx context.Context, actor models.Principal, filter models.ComplaintFilter) ([]models.Complaint, error) {
	for _, st := range filter.Statuses {
		if !models.ValidStatus(st) {
			return nil, apperrors.InvalidArgument(fmt.Sprintf("invalid status %q", st))
		}
	}
	switch {
	case actor.Role == models.RoleStaff && actor.Department != "":
		filter.Department = actor.Department
	case !actor.IsStaff():
		filter.UserID = actor.UserID
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	list, err := s.complaints.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list complaints", err)
	}
	return list, nil
}

func (s *ComplaintService) History(ctx context.Context, actor models.Principal, id string) ([]models.StatusHistory, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	history, err := s.complaints.ListHistory(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("failed to load status history", err)
	}
	return history, nil
}

// SLA reports the deadline view of one complaint under the active policy.
func (s *ComplaintService) SLA(ctx context.Context, actor models.Principal, id string) (*models.SLAStatus, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	st := s.sla.Status(c, s.now())
	return &st, nil
}

// PresignResolutionUpload returns a presigned PUT for a proof image of
// complaint id.
func (s *ComplaintService) PresignResolutionUpload(ctx context.Context, actor models.Principal, id, contentType string) (*PresignedUpload, error) {
	if s.images == nil {
		return nil, apperrors.FailedPrecondition("resolution image storage is not configured")
	}
	if _, ok := imageExtensions[contentType]; !ok {
		return nil, apperrors.InvalidArgument(fmt.Sprintf("unsupported image type %q", contentType))
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	key := resolutionImageKey(id, contentType)
	url, headers, err := s.images.GeneratePresignedPutURL(ctx, key, contentType, s.uploadExpiry)
	if err != nil {
		return nil, apperrors.Internal("failed to presign upload", err)
	}
	return &PresignedUpload{
		Key:       key,
		URL:       url,
		Headers:   headers,
		ExpiresAt: s.now().Add(s.uploadExpiry),
	}, nil
}

// CivicIssue returns the department/category table of city.
func (s *ComplaintService) CivicIssue(ctx context.Context, city string) (*models.CivicIssue, error) {
	if strings.TrimSpace(city) == "" {
		return nil, apperrors.InvalidArgument("city is required")
	}
	issue, err := s.civicIssues.FindByCity(ctx, city)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound(fmt.Sprintf("no civic issue table for %s", city))
		}
		return nil, apperrors.Internal("failed to load civic issues", err)
	}
	return issue, nil
}
