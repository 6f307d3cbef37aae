package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

// ChangePublisher forwards complaint writes to the trigger pipeline.
type ChangePublisher interface {
	PublishChange(ctx context.Context, evt models.ChangeEvent) error
}

// changeNotifier runs the side effects that follow a committed complaint
// write. None of them can fail the write.
type changeNotifier struct {
	dispatcher *Dispatcher
	publisher  ChangePublisher
	direct     bool
	logger     *zap.Logger
}

func newChangeNotifier(dispatcher *Dispatcher, publisher ChangePublisher, direct bool, logger *zap.Logger) *changeNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &changeNotifier{dispatcher: dispatcher, publisher: publisher, direct: direct, logger: logger}
}

func (n *changeNotifier) afterWrite(ctx context.Context, before, after *models.Complaint) {
	if n == nil || after == nil {
		return
	}
	if n.direct && n.dispatcher != nil {
		if kind := KindForTransition(before, after); kind != "" {
			res := n.dispatcher.Dispatch(ctx, kind, after)
			n.logger.Debug("direct dispatch",
				zap.String("complaint_id", after.ID),
				zap.String("kind", kind),
				zap.String("outcome", res.Outcome),
			)
		}
	}
	if n.publisher != nil {
		if err := n.publisher.PublishChange(ctx, models.ChangeEvent{Before: before, After: after}); err != nil {
			n.logger.Error("failed to publish complaint change",
				zap.String("complaint_id", after.ID),
				zap.Error(err),
			)
		}
	}
}
