package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	awspkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

// ErrNoAfterImage is returned for change events without the written document.
var ErrNoAfterImage = errors.New("change event has no after image")

// TriggerHandler reacts to every write of a complaint, whichever code path
// produced it. It may see the same write more than once.
type TriggerHandler struct {
	dispatcher *Dispatcher
	metrics    *awspkg.MetricsClient
	logger     *zap.Logger
}

func NewTriggerHandler(dispatcher *Dispatcher, metrics *awspkg.MetricsClient, logger *zap.Logger) *TriggerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerHandler{dispatcher: dispatcher, metrics: metrics, logger: logger}
}

// HandleChange dispatches the notification the write calls for, if any.
func (h *TriggerHandler) HandleChange(ctx context.Context, evt models.ChangeEvent) (DispatchResult, error) {
	if evt.After == nil {
		return DispatchResult{}, ErrNoAfterImage
	}
	h.metrics.RecordCount(ctx, awspkg.MetricTriggerEvents, nil)

	kind := KindForTransition(evt.Before, evt.After)
	if kind == "" {
		return DispatchResult{Outcome: OutcomeSkipped, Reason: "no notification for this change"}, nil
	}
	res := h.dispatcher.Dispatch(ctx, kind, evt.After)
	h.logger.Info("trigger dispatched notification",
		zap.String("complaint_id", evt.After.ID),
		zap.String("kind", kind),
		zap.String("outcome", res.Outcome),
	)
	return res, nil
}
