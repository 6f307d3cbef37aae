package consumer

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
)

// docChange is one complaint change from a snapshot.
type docChange struct {
	kind      firestore.DocumentChangeKind
	complaint models.Complaint
}

// changeStream yields the decoded changes of successive query snapshots.
type changeStream interface {
	Next() ([]docChange, error)
	Stop()
}

const (
	minRestartBackoff = 2 * time.Second
	maxRestartBackoff = 2 * time.Minute
)

// FirestoreTrigger listens to the complaints collection and hands every
// write to the trigger handler. Before-images come from the last status the
// listener saw; the very first snapshot only seeds them.
type FirestoreTrigger struct {
	open       func(ctx context.Context) changeStream
	handler    ChangeHandler
	logger     *zap.Logger
	lastSeen   map[string]models.Complaint
	seeded     bool
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewFirestoreTrigger(client *firestore.Client, handler ChangeHandler, logger *zap.Logger) *FirestoreTrigger {
	t := &FirestoreTrigger{
		handler:    handler,
		logger:     logger,
		lastSeen:   make(map[string]models.Complaint),
		minBackoff: minRestartBackoff,
		maxBackoff: maxRestartBackoff,
	}
	t.open = func(ctx context.Context) changeStream {
		return &snapshotStream{
			it:     client.Collection(repository.CollectionComplaints).Snapshots(ctx),
			logger: logger,
		}
	}
	return t
}

// Run blocks until ctx is cancelled. A failed snapshot stream is reopened
// with exponential backoff.
func (t *FirestoreTrigger) Run(ctx context.Context) error {
	t.logger.Info("firestore trigger listening", zap.String("collection", repository.CollectionComplaints))
	backoff := t.minBackoff
	for {
		received, err := t.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			backoff = t.minBackoff
		}
		t.logger.Error("firestore trigger stream stopped, restarting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, t.maxBackoff)
	}
}

// listen consumes one stream until it fails. It reports whether any snapshot
// arrived.
func (t *FirestoreTrigger) listen(ctx context.Context) (bool, error) {
	stream := t.open(ctx)
	defer stream.Stop()

	received := false
	for {
		changes, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return received, nil
			}
			return received, fmt.Errorf("complaints snapshot: %w", err)
		}
		if !received {
			received = true
			t.resync(ctx, changes)
			continue
		}
		t.apply(ctx, changes)
	}
}

// resync handles the first snapshot of a stream, which lists every complaint.
// On startup it only seeds lastSeen. After a restart it fires for complaints
// whose status moved while the stream was down and for new ones.
func (t *FirestoreTrigger) resync(ctx context.Context, changes []docChange) {
	if !t.seeded {
		for _, ch := range changes {
			t.lastSeen[ch.complaint.ID] = ch.complaint
		}
		t.seeded = true
		t.logger.Info("firestore trigger seeded", zap.Int("complaints", len(changes)))
		return
	}

	current := make(map[string]models.Complaint, len(changes))
	for _, ch := range changes {
		current[ch.complaint.ID] = ch.complaint
	}
	fired := 0
	for id, after := range current {
		after := after // per-iteration copy; go.mod targets go1.21 loop semantics
		prev, known := t.lastSeen[id]
		if known && prev.Status == after.Status {
			continue
		}
		var before *models.Complaint
		if known {
			before = &prev
		}
		t.handle(ctx, models.ChangeEvent{Before: before, After: &after})
		fired++
	}
	t.lastSeen = current
	t.logger.Info("firestore trigger resynced",
		zap.Int("complaints", len(current)),
		zap.Int("missed_changes", fired),
	)
}

// apply handles the incremental changes of a live stream.
func (t *FirestoreTrigger) apply(ctx context.Context, changes []docChange) {
	for _, ch := range changes {
		id := ch.complaint.ID
		if ch.kind == firestore.DocumentRemoved {
			delete(t.lastSeen, id)
			continue
		}

		var before *models.Complaint
		if prev, ok := t.lastSeen[id]; ok && ch.kind == firestore.DocumentModified {
			before = &prev
		}
		after := ch.complaint
		t.lastSeen[id] = after
		t.handle(ctx, models.ChangeEvent{Before: before, After: &after})
	}
}

func (t *FirestoreTrigger) handle(ctx context.Context, evt models.ChangeEvent) {
	if _, err := t.handler.HandleChange(ctx, evt); err != nil {
		t.logger.Error("trigger handler failed", zap.String("complaint_id", evt.After.ID), zap.Error(err))
	}
}

// snapshotStream decodes Firestore query snapshots into complaint changes.
type snapshotStream struct {
	it     *firestore.QuerySnapshotIterator
	logger *zap.Logger
}

func (s *snapshotStream) Next() ([]docChange, error) {
	snap, err := s.it.Next()
	if err != nil {
		return nil, err
	}
	changes := make([]docChange, 0, len(snap.Changes))
	for _, ch := range snap.Changes {
		var c models.Complaint
		if err := ch.Doc.DataTo(&c); err != nil {
			s.logger.Error("failed to decode complaint", zap.String("complaint_id", ch.Doc.Ref.ID), zap.Error(err))
			continue
		}
		c.ID = ch.Doc.Ref.ID
		changes = append(changes, docChange{kind: ch.Kind, complaint: c})
	}
	return changes, nil
}

func (s *snapshotStream) Stop() { s.it.Stop() }
