package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
)

const (
	DefaultLogRetention = 30 * 24 * time.Hour
	purgeBatchSize      = 200
)

// RetentionService deletes notification logs past the retention window.
type RetentionService struct {
	logs      repository.NotificationLogRepository
	retention time.Duration
	metrics   *awspkg.MetricsClient
	logger    *zap.Logger
}

func NewRetentionService(logs repository.NotificationLogRepository, retention time.Duration, metrics *awspkg.MetricsClient, logger *zap.Logger) *RetentionService {
	if retention <= 0 {
		retention = DefaultLogRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionService{logs: logs, retention: retention, metrics: metrics, logger: logger}
}

// Purge deletes logs sent before now minus the retention window.
func (r *RetentionService) Purge(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.retention)
	n, err := r.logs.DeleteOlderThan(ctx, cutoff, purgeBatchSize)
	if err != nil {
		return n, fmt.Errorf("purge notification logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	r.metrics.RecordValue(ctx, awspkg.MetricNotificationLogsPurge, float64(n), nil)
	r.logger.Info("notification logs purged", zap.Int("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Run purges every interval until ctx is done.
func (r *RetentionService) Run(ctx context.Context, interval time.Duration) {
	runEvery(ctx, interval, func(ctx context.Context) {
		if _, err := r.Purge(ctx, time.Now().UTC()); err != nil {
			r.logger.Error("notification log purge failed", zap.Error(err))
		}
	})
}
