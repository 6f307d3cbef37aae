package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	awspkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/services"
)

// ChangeHandler reacts to one complaint write.
type ChangeHandler interface {
	HandleChange(ctx context.Context, evt models.ChangeEvent) (services.DispatchResult, error)
}

// Poller delivers queue message bodies to a handler until ctx is done.
type Poller interface {
	StartPolling(ctx context.Context, handler awspkg.MessageHandler) error
}

// SQSTrigger feeds complaint change events from an SQS queue to the trigger
// handler. Delivery is at least once.
type SQSTrigger struct {
	poller  Poller
	handler ChangeHandler
	logger  *zap.Logger
}

func NewSQSTrigger(poller Poller, handler ChangeHandler, logger *zap.Logger) *SQSTrigger {
	return &SQSTrigger{poller: poller, handler: handler, logger: logger}
}

func (t *SQSTrigger) Start(ctx context.Context) error {
	t.logger.Info("SQS trigger consumer started")
	return t.poller.StartPolling(ctx, t.handleMessage)
}

func (t *SQSTrigger) handleMessage(ctx context.Context, body string) error {
	evt, err := ParseChangeEvent(body)
	if err != nil {
		return fmt.Errorf("parse change event: %v: %w", err, awspkg.ErrDiscard)
	}

	res, err := t.handler.HandleChange(ctx, evt)
	if err != nil {
		if errors.Is(err, services.ErrNoAfterImage) {
			return fmt.Errorf("%v: %w", err, awspkg.ErrDiscard)
		}
		return err
	}
	t.logger.Debug("change event processed",
		zap.String("complaint_id", evt.After.ID),
		zap.String("outcome", res.Outcome),
	)
	return nil
}

// snsEnvelope unwraps the SNS → SQS message wrapper
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// ParseChangeEvent decodes a change event, unwrapping an SNS envelope when
// the queue is subscribed to a topic.
func ParseChangeEvent(body string) (models.ChangeEvent, error) {
	var evt models.ChangeEvent
	if body == "" {
		return evt, errors.New("empty message body")
	}

	payload := []byte(body)
	var envelope snsEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return evt, err
	}
	if envelope.Type == "Notification" && envelope.Message != "" {
		payload = []byte(envelope.Message)
	}

	if err := json.Unmarshal(payload, &evt); err != nil {
		return evt, err
	}
	if evt.After == nil || evt.After.ID == "" {
		return evt, errors.New("change event without after image")
	}
	return evt, nil
}

// MessageSender sends one message body to a queue.
type MessageSender interface {
	SendMessage(ctx context.Context, body string) error
}

// SQSChangePublisher enqueues complaint writes for the SQS trigger.
type SQSChangePublisher struct {
	sender MessageSender
}

func NewSQSChangePublisher(sender MessageSender) *SQSChangePublisher {
	return &SQSChangePublisher{sender: sender}
}

func (p *SQSChangePublisher) PublishChange(ctx context.Context, evt models.ChangeEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	return p.sender.SendMessage(ctx, string(body))
}
