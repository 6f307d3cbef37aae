package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
)

// Escalation is sent to the higher authority for a breached complaint.
type Escalation struct {
	ComplaintID string    `json:"complaintId"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	Department  string    `json:"department,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	Deadline    time.Time `json:"deadline"`
	EscalatedAt time.Time `json:"escalatedAt"`
	Policy      string    `json:"policy"`
}

// Escalator notifies the higher authority.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}

// SNSEscalator publishes escalations to an SNS topic.
type SNSEscalator struct {
	publisher awspkg.SNSPublisher
	topicArn  string
}

func NewSNSEscalator(publisher awspkg.SNSPublisher, topicArn string) *SNSEscalator {
	return &SNSEscalator{publisher: publisher, topicArn: topicArn}
}

func (e *SNSEscalator) Escalate(ctx context.Context, esc Escalation) error {
	body, err := json.Marshal(esc)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	return e.publisher.Publish(ctx, e.topicArn, body, map[string]string{
		"eventType":  "complaint.sla_breached",
		"priority":   esc.Priority,
		"department": esc.Department,
	})
}

// LogEscalator only logs escalations.
type LogEscalator struct {
	logger *zap.Logger
}

func NewLogEscalator(logger *zap.Logger) *LogEscalator {
	return &LogEscalator{logger: logger}
}

func (e *LogEscalator) Escalate(_ context.Context, esc Escalation) error {
	e.logger.Warn("SLA breached, escalation topic not configured",
		zap.String("complaint_id", esc.ComplaintID),
		zap.String("priority", esc.Priority),
		zap.Time("deadline", esc.Deadline),
	)
	return nil
}

// SLAMonitor escalates open complaints past their deadline, once each.
type SLAMonitor struct {
	complaints repository.ComplaintRepository
	policy     SLAPolicy
	escalator  Escalator
	metrics    *awspkg.MetricsClient
	logger     *zap.Logger
}

func NewSLAMonitor(complaints repository.ComplaintRepository, policy SLAPolicy, escalator Escalator, metrics *awspkg.MetricsClient, logger *zap.Logger) *SLAMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if escalator == nil {
		escalator = NewLogEscalator(logger)
	}
	return &SLAMonitor{complaints: complaints, policy: policy, escalator: escalator, metrics: metrics, logger: logger}
}

// Scan escalates every breached, not yet escalated complaint and returns how
// many it escalated. The escalatedAt claim is taken before notifying, so a
// failed notification is not retried.
func (m *SLAMonitor) Scan(ctx context.Context, now time.Time) (int, error) {
	open, err := m.complaints.List(ctx, models.ComplaintFilter{
		Statuses: []string{models.StatusSubmitted, models.StatusInProgress},
	})
	if err != nil {
		return 0, fmt.Errorf("list open complaints: %w", err)
	}

	escalated := 0
	for i := range open {
		c := &open[i]
		if c.EscalatedAt != nil || !m.policy.IsBreached(c, now) {
			continue
		}
		won, err := m.complaints.MarkEscalated(ctx, c.ID, now)
		if err != nil {
			m.logger.Error("failed to mark complaint escalated", zap.String("complaint_id", c.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}
		m.metrics.RecordCount(ctx, awspkg.MetricSLABreaches, map[string]string{"Priority": models.NormalizePriority(c.Priority)})

		err = m.escalator.Escalate(ctx, Escalation{
			ComplaintID: c.ID,
			Category:    c.Category,
			Priority:    models.NormalizePriority(c.Priority),
			Department:  c.Department,
			Status:      c.Status,
			CreatedAt:   c.CreatedAt,
			Deadline:    m.policy.Deadline(c),
			EscalatedAt: now,
			Policy:      m.policy.Name,
		})
		if err != nil {
			m.logger.Error("escalation failed", zap.String("complaint_id", c.ID), zap.Error(err))
			continue
		}
		m.metrics.RecordCount(ctx, awspkg.MetricEscalationsPublished, nil)
		escalated++
	}
	return escalated, nil
}

// Run scans every interval until ctx is done.
func (m *SLAMonitor) Run(ctx context.Context, interval time.Duration) {
	runEvery(ctx, interval, func(ctx context.Context) {
		n, err := m.Scan(ctx, time.Now().UTC())
		if err != nil {
			m.logger.Error("SLA scan failed", zap.Error(err))
			return
		}
		if n > 0 {
			m.logger.Info("SLA scan escalated complaints", zap.Int("count", n))
		}
	})
}

// runEvery calls fn immediately and then on every tick until ctx is done.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
