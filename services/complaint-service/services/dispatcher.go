package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	awspkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/sender"
)

// Outcomes of a dispatch.
const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
)

// DispatchResult describes what a dispatch did.
type DispatchResult struct {
	Outcome   string
	Kind      string
	MessageID string
	LogID     string
	Reason    string
}

type notificationTemplate struct {
	title string
	body  *template.Template
}

var templates = map[string]notificationTemplate{
	models.KindConfirmation: {
		title: "Complaint Received",
		body: template.Must(template.New(models.KindConfirmation).Parse(
			"Your {{.Category}} complaint ({{.ID}}) has been received and will be reviewed shortly.")),
	},
	models.KindAcknowledgment: {
		title: "Complaint In Progress",
		body: template.Must(template.New(models.KindAcknowledgment).Parse(
			"Your {{.Category}} complaint ({{.ID}}) is now being worked on{{if .Department}} by {{.Department}}{{end}}.")),
	},
	models.KindResolution: {
		title: "Complaint Resolved",
		body: template.Must(template.New(models.KindResolution).Parse(
			"Your {{.Category}} complaint ({{.ID}}) has been resolved. Thank you for helping improve your city.")),
	},
}

// RenderNotification returns the title and body of the fixed template for kind.
func RenderNotification(kind string, c *models.Complaint) (string, string, error) {
	tpl, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("no template for notification kind %q", kind)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, c); err != nil {
		return "", "", fmt.Errorf("render %s notification: %w", kind, err)
	}
	return tpl.title, buf.String(), nil
}

type DispatcherConfig struct {
	// ClickActionBaseURL is the dashboard origin notifications link back to.
	ClickActionBaseURL string
	Icon               string
}

// Dispatcher turns complaint transitions into push notifications and logs
// every attempt.
type Dispatcher struct {
	complaints repository.ComplaintRepository
	tokens     repository.TokenRepository
	logs       repository.NotificationLogRepository
	sender     sender.PushSender
	dedupe     repository.Deduper
	metrics    *awspkg.MetricsClient
	logger     *zap.Logger
	tracer     trace.Tracer
	cfg        DispatcherConfig
	now        func() time.Time
}

func NewDispatcher(
	complaints repository.ComplaintRepository,
	tokens repository.TokenRepository,
	logs repository.NotificationLogRepository,
	push sender.PushSender,
	dedupe repository.Deduper,
	metrics *awspkg.MetricsClient,
	logger *zap.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedupe == nil {
		dedupe = repository.NewMemoryDeduper(repository.DefaultDedupeTTL)
	}
	return &Dispatcher{
		complaints: complaints,
		tokens:     tokens,
		logs:       logs,
		sender:     push,
		dedupe:     dedupe,
		metrics:    metrics,
		logger:     logger,
		tracer:     otel.Tracer("complaint-service/dispatch"),
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch notifies the submitter of c about a transition of the given kind.
// Delivery is best effort: problems are logged and reported in the result,
// never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, c *models.Complaint) DispatchResult {
	ctx, span := d.tracer.Start(ctx, "notification.dispatch", trace.WithAttributes(
		attribute.String("complaint.id", c.ID),
		attribute.String("notification.kind", kind),
	))
	defer span.End()

	res := d.dispatch(ctx, kind, c)
	span.SetAttributes(attribute.String("notification.outcome", res.Outcome))
	if res.Outcome == OutcomeFailed {
		span.SetStatus(codes.Error, res.Reason)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, kind string, c *models.Complaint) DispatchResult {
	log := d.logger.With(zap.String("complaint_id", c.ID), zap.String("kind", kind))
	res := DispatchResult{Kind: kind}

	token, err := d.tokens.FindActive(ctx, c.UserID)
	if err != nil {
		res.Outcome = OutcomeSkipped
		if errors.Is(err, repository.ErrNotFound) {
			res.Reason = "no active device token"
			log.Debug("no active device token, skipping notification", zap.String("user_id", c.UserID))
		} else {
			res.Reason = err.Error()
			log.Error("device token lookup failed", zap.Error(err))
		}
		d.metrics.RecordCount(ctx, awspkg.MetricNotificationsSkipped, map[string]string{"Kind": kind})
		return res
	}

	claimed, err := d.dedupe.Claim(ctx, DedupeKey(c.ID, c.Status))
	if err != nil {
		// Unclaimed keys are never sent.
		log.Error("dedupe claim failed, skipping notification", zap.Error(err))
		res.Outcome = OutcomeSkipped
		res.Reason = err.Error()
		return res
	}
	if !claimed {
		log.Info("notification already sent for this transition")
		res.Outcome = OutcomeDuplicate
		return res
	}

	title, body, err := RenderNotification(kind, c)
	if err != nil {
		log.Error("render notification", zap.Error(err))
		res.Outcome = OutcomeSkipped
		res.Reason = err.Error()
		return res
	}

	entry := d.deliver(ctx, sender.Message{
		Token: token.Token,
		Title: title,
		Body:  body,
		Icon:  d.cfg.Icon,
		Data:  d.payloadData(kind, c.ID),
	}, c.UserID, c.ID, kind)

	res.Outcome = entry.Status
	res.MessageID = entry.MessageID
	res.LogID = entry.ID
	res.Reason = entry.Error
	return res
}

// deliver sends msg and appends the matching log entry.
func (d *Dispatcher) deliver(ctx context.Context, msg sender.Message, userID, complaintID, kind string) *models.NotificationLog {
	start := time.Now()
	result, sendErr := d.sender.Send(ctx, msg)
	d.metrics.RecordLatency(ctx, awspkg.MetricNotificationLatency, time.Since(start), map[string]string{"Kind": kind})

	entry := &models.NotificationLog{
		UserID:      userID,
		ComplaintID: complaintID,
		Type:        kind,
		Title:       msg.Title,
		Body:        msg.Body,
		SentAt:      d.now(),
		Token:       msg.Token,
	}
	if sendErr != nil {
		entry.Status = models.StatusFailed
		entry.Error = sendErr.Error()
		d.metrics.RecordCount(ctx, awspkg.MetricNotificationsFailed, map[string]string{"Kind": kind})
		d.logger.Warn("push send failed",
			zap.String("complaint_id", complaintID),
			zap.String("kind", kind),
			zap.Error(sendErr),
		)
	} else {
		entry.Status = models.StatusSent
		entry.MessageID = result.MessageID
		if !result.SentAt.IsZero() {
			entry.SentAt = result.SentAt
		}
		d.metrics.RecordCount(ctx, awspkg.MetricNotificationsSent, map[string]string{"Kind": kind})
	}

	if err := d.logs.SaveLog(ctx, entry); err != nil {
		d.logger.Error("failed to save notification log",
			zap.String("complaint_id", complaintID),
			zap.String("status", entry.Status),
			zap.Error(err),
		)
	}
	return entry
}

func (d *Dispatcher) payloadData(kind, complaintID string) map[string]string {
	return map[string]string{
		"complaintId": complaintID,
		"type":        kind,
		"action":      "view_complaint",
		"clickAction": strings.TrimRight(d.cfg.ClickActionBaseURL, "/") + "/complaints/" + complaintID,
	}
}

// SendCustom sends a free-form notification to a user on behalf of staff.
func (d *Dispatcher) SendCustom(ctx context.Context, req models.CustomNotificationRequest) (*models.SendResponse, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ComplaintID = strings.TrimSpace(req.ComplaintID)
	if req.UserID == "" || req.ComplaintID == "" || strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		return nil, apperrors.InvalidArgument("userId, complaintId, title and body are required")
	}
	if req.Type == "" {
		req.Type = models.KindCustom
	}
	if !models.ValidKind(req.Type) {
		return nil, apperrors.InvalidArgument(fmt.Sprintf("unknown notification type %q", req.Type))
	}

	if _, err := d.complaints.FindByID(ctx, req.ComplaintID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("complaint not found")
		}
		return nil, apperrors.Internal("failed to load complaint", err)
	}

	token, err := d.tokens.FindLatest(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("no device token registered for user")
		}
		return nil, apperrors.Internal("failed to load device token", err)
	}
	if !token.Active {
		return nil, apperrors.FailedPrecondition("device token is inactive")
	}

	entry := d.deliver(ctx, sender.Message{
		Token: token.Token,
		Title: req.Title,
		Body:  req.Body,
		Icon:  d.cfg.Icon,
		Data:  d.payloadData(req.Type, req.ComplaintID),
	}, req.UserID, req.ComplaintID, req.Type)

	if entry.Status == models.StatusFailed {
		return nil, apperrors.Internal("failed to send notification", errors.New(entry.Error))
	}
	return &models.SendResponse{Success: true, MessageID: entry.MessageID}, nil
}

// GetLogs lists notification log entries, newest first.
func (d *Dispatcher) GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	logs, err := d.logs.GetLogs(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list notification logs", err)
	}
	return logs, nil
}
