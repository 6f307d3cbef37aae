package services_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/services"
)

func newStatusService(f *fixture, direct bool, images services.ImageStore) *services.StatusService {
	return services.NewStatusService(f.complaints, services.StatusServiceOptions{
		Dispatcher:     f.dispatcher,
		DirectDispatch: direct,
		Images:         images,
	})
}

func TestUpdateStatus_UnknownComplaint(t *testing.T) {
	f := newFixture().withToken("citizen-1", "tok-1")
	svc := newStatusService(f, true, nil)

	_, err := svc.UpdateStatus(context.Background(), services.UpdateStatusInput{
		ComplaintID: "ISS-0000",
		Status:      models.StatusInProgress,
		Actor:       admin,
	})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.Zero(t, f.complaints.historyCount())
	assert.Zero(t, f.sender.count())
	assert.Zero(t, f.logs.count())
}

func TestUpdateStatus_ResolvedRoundTrip(t *testing.T) {
	c := sampleComplaint(models.StatusInProgress)
	f := newFixture(c).withToken("citizen-1", "tok-1")
	svc := newStatusService(f, true, nil)

	const image = "resolutions/ISS-1A2B3C4D/proof.jpg"
	_, err := svc.UpdateStatus(context.Background(), services.UpdateStatusInput{
		ComplaintID:     c.ID,
		Status:          models.StatusResolved,
		ResolutionNotes: "fixed",
		ResolutionImage: image,
		Actor:           admin,
	})
	require.NoError(t, err)

	got, err := f.complaints.FindByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Equal(t, "fixed", got.ResolutionNotes)
	assert.Equal(t, image, got.ResolutionImage)
	assert.Equal(t, admin.UserID, got.UpdatedBy)

	history, err := f.complaints.ListHistory(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusInProgress, history[0].PreviousStatus)
	assert.Equal(t, models.StatusResolved, history[0].NewStatus)

	assert.Len(t, f.logs.ofKind(models.KindResolution), 1)
}

func TestUpdateStatus_InlineImageUploaded(t *testing.T) {
	c := sampleComplaint(models.StatusInProgress)
	f := newFixture(c)
	images := &fakeImages{}
	svc := newStatusService(f, false, images)

	payload := []byte{0x89, 'P', 'N', 'G'}
	got, err := svc.UpdateStatus(context.Background(), services.UpdateStatusInput{
		ComplaintID:     c.ID,
		Status:          models.StatusResolved,
		ResolutionNotes: "patched",
		ResolutionImage: "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload),
		Actor:           admin,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got.ResolutionImage, "resolutions/ISS-1A2B3C4D/"))
	assert.True(t, strings.HasSuffix(got.ResolutionImage, ".png"))
	assert.Equal(t, payload, images.objects[got.ResolutionImage])
}

func TestUpdateStatus_Validation(t *testing.T) {
	cases := []struct {
		name  string
		start string
		in    services.UpdateStatusInput
		kind  apperrors.Kind
	}{
		{
			name:  "resolve without notes",
			start: models.StatusInProgress,
			in:    services.UpdateStatusInput{Status: models.StatusResolved, ResolutionImage: "img", Actor: admin},
			kind:  apperrors.KindInvalidArgument,
		},
		{
			name:  "resolve without image",
			start: models.StatusInProgress,
			in:    services.UpdateStatusInput{Status: models.StatusResolved, ResolutionNotes: "done", Actor: admin},
			kind:  apperrors.KindInvalidArgument,
		},
		{
			name:  "unknown status",
			start: models.StatusSubmitted,
			in:    services.UpdateStatusInput{Status: "archived", Actor: admin},
			kind:  apperrors.KindInvalidArgument,
		},
		{
			name:  "closed is final",
			start: models.StatusClosed,
			in:    services.UpdateStatusInput{Status: models.StatusInProgress, Actor: admin},
			kind:  apperrors.KindFailedPrecondition,
		},
		{
			name:  "citizen cannot update",
			start: models.StatusSubmitted,
			in:    services.UpdateStatusInput{Status: models.StatusInProgress, Actor: citizen},
			kind:  apperrors.KindPermissionDenied,
		},
		{
			name:  "other department",
			start: models.StatusSubmitted,
			in: services.UpdateStatusInput{
				Status: models.StatusInProgress,
				Actor:  models.Principal{UserID: "s1", Role: models.RoleStaff, Department: "Sanitation"},
			},
			kind: apperrors.KindPermissionDenied,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := sampleComplaint(tc.start)
			c.Department = "Roads"
			f := newFixture(c).withToken("citizen-1", "tok-1")
			svc := newStatusService(f, true, nil)

			tc.in.ComplaintID = c.ID
			_, err := svc.UpdateStatus(context.Background(), tc.in)

			require.Error(t, err)
			assert.Equal(t, tc.kind, apperrors.KindOf(err))
			assert.Zero(t, f.complaints.historyCount())
			assert.Zero(t, f.sender.count())

			stored, _ := f.complaints.FindByID(context.Background(), c.ID)
			assert.Equal(t, tc.start, stored.Status)
		})
	}
}

func TestUpdateStatus_ResolveReusesStoredNotes(t *testing.T) {
	c := sampleComplaint(models.StatusInProgress)
	c.ResolutionNotes = "crew filled the pothole"
	c.ResolutionImage = "resolutions/ISS-1A2B3C4D/proof.jpg"
	f := newFixture(c).withToken("citizen-1", "tok-1")
	svc := newStatusService(f, true, nil)

	got, err := svc.UpdateStatus(context.Background(), services.UpdateStatusInput{
		ComplaintID: c.ID,
		Status:      models.StatusResolved,
		Actor:       admin,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Equal(t, "crew filled the pothole", got.ResolutionNotes)
	assert.Equal(t, 1, f.complaints.historyCount())
}

func TestUpdateStatus_AssignmentStartsWork(t *testing.T) {
	c := sampleComplaint(models.StatusSubmitted)
	f := newFixture(c)
	svc := newStatusService(f, false, nil)

	got, err := svc.UpdateStatus(context.Background(), services.UpdateStatusInput{
		ComplaintID: c.ID,
		Department:  "Public Works",
		AssignedTo:  "crew-7",
		Actor:       admin,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, "Public Works", got.Department)
	assert.Equal(t, "crew-7", got.AssignedTo)
}

func TestUpdateStatus_SameStatusAppendsHistoryWithoutNotification(t *testing.T) {
	c := sampleComplaint(models.StatusInProgress)
	f := newFixture(c).withToken("citizen-1", "tok-1")
	svc := newStatusService(f, true, nil)

	_, err := svc.UpdateStatus(context.Background(), services.UpdateStatusInput{
		ComplaintID: c.ID,
		AssignedTo:  "crew-9",
		Notes:       "handover",
		Actor:       admin,
	})
	require.NoError(t, err)

	history, _ := f.complaints.ListHistory(context.Background(), c.ID)
	require.Len(t, history, 1)
	assert.Equal(t, history[0].PreviousStatus, history[0].NewStatus)
	assert.Equal(t, "handover", history[0].Notes)
	assert.Zero(t, f.sender.count())
}

func TestUpdateStatus_PublishesChange(t *testing.T) {
	c := sampleComplaint(models.StatusSubmitted)
	f := newFixture(c)
	pub := &fakePublisher{}
	svc := services.NewStatusService(f.complaints, services.StatusServiceOptions{Publisher: pub})

	_, err := svc.UpdateStatus(context.Background(), services.UpdateStatusInput{
		ComplaintID: c.ID, Status: models.StatusInProgress, Actor: admin,
	})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.StatusSubmitted, pub.events[0].Before.Status)
	assert.Equal(t, models.StatusInProgress, pub.events[0].After.Status)
}

// A complaint created, then assigned, observed by both the direct path and
// the trigger, produces one confirmation and one acknowledgment.
func TestScenario_AssignToPublicWorks(t *testing.T) {
	f := newFixture().withToken("citizen-1", "tok-1")
	pub := &fakePublisher{}
	complaints := services.NewComplaintService(f.complaints, memCivicIssues{}, services.ComplaintServiceOptions{
		Dispatcher: f.dispatcher, DirectDispatch: true, Publisher: pub,
	})
	status := services.NewStatusService(f.complaints, services.StatusServiceOptions{
		Dispatcher: f.dispatcher, DirectDispatch: true, Publisher: pub,
	})
	trigger := services.NewTriggerHandler(f.dispatcher, nil, nil)
	ctx := context.Background()

	c1, err := complaints.Create(ctx, citizen, models.CreateComplaintRequest{
		Category: "Streetlight", Description: "Light out on Main St",
	})
	require.NoError(t, err)

	_, err = status.UpdateStatus(ctx, services.UpdateStatusInput{
		ComplaintID: c1.ID, Department: "Public Works", Actor: admin,
	})
	require.NoError(t, err)

	// The trigger sees every write, some of them twice.
	for _, evt := range append(pub.events, pub.events...) {
		_, err := trigger.HandleChange(ctx, evt)
		require.NoError(t, err)
	}

	assert.Len(t, f.logs.ofKind(models.KindConfirmation), 1)
	acks := f.logs.ofKind(models.KindAcknowledgment)
	require.Len(t, acks, 1)
	assert.Equal(t, c1.ID, acks[0].ComplaintID)
	assert.Equal(t, 2, f.sender.count())
}

func TestTriggerHandler(t *testing.T) {
	f := newFixture().withToken("citizen-1", "tok-1")
	trigger := services.NewTriggerHandler(f.dispatcher, nil, nil)
	ctx := context.Background()

	_, err := trigger.HandleChange(ctx, models.ChangeEvent{})
	assert.ErrorIs(t, err, services.ErrNoAfterImage)

	before := sampleComplaint(models.StatusResolved)
	after := sampleComplaint(models.StatusClosed)
	res, err := trigger.HandleChange(ctx, models.ChangeEvent{Before: &before, After: &after})
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeSkipped, res.Outcome)
	assert.Zero(t, f.sender.count())

	created := sampleComplaint(models.StatusSubmitted)
	res, err = trigger.HandleChange(ctx, models.ChangeEvent{After: &created})
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeSent, res.Outcome)
	assert.Equal(t, models.KindConfirmation, res.Kind)
}
