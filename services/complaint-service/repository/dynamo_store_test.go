package repository

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

// fakeDynamo serves a single complaint item and records writes.
type fakeDynamo struct {
	item          map[string]types.AttributeValue
	transactErrs  []error
	transactCalls []*dynamodb.TransactWriteItemsInput
	updateErr     error
	batchCalls    int
	scanItems     []map[string]types.AttributeValue
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}
func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.item = in.Item
	return &dynamodb.PutItemOutput{}, nil
}
func (f *fakeDynamo) UpdateItem(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}
func (f *fakeDynamo) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}
func (f *fakeDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return &dynamodb.ScanOutput{Items: f.scanItems}, nil
}
func (f *fakeDynamo) BatchWriteItem(_ context.Context, _ *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchCalls++
	return &dynamodb.BatchWriteItemOutput{}, nil
}
func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactCalls = append(f.transactCalls, in)
	if len(f.transactErrs) > 0 {
		err := f.transactErrs[0]
		f.transactErrs = f.transactErrs[1:]
		return nil, err
	}
	for _, w := range in.TransactItems {
		if w.Update != nil {
			if err := f.applyUpdate(w.Update); err != nil {
				return nil, err
			}
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// applyUpdate evaluates the updatedAt guard and the SET clauses the complaint
// store emits against the single stored item.
func (f *fakeDynamo) applyUpdate(u *types.Update) error {
	cancelled := &types.TransactionCanceledException{}
	if len(f.item) == 0 {
		return cancelled
	}
	cond := aws.ToString(u.ConditionExpression)
	stored, has := f.item["updatedAt"]
	switch {
	case strings.Contains(cond, "attribute_not_exists(#updatedAt)"):
		if has {
			return cancelled
		}
	case strings.Contains(cond, "#updatedAt = :prev"):
		if !has || !reflect.DeepEqual(stored, u.ExpressionAttributeValues[":prev"]) {
			return cancelled
		}
	}
	set := strings.TrimPrefix(aws.ToString(u.UpdateExpression), "SET ")
	for _, clause := range strings.Split(set, ", ") {
		parts := strings.SplitN(clause, " = ", 2)
		f.item[u.ExpressionAttributeNames[parts[0]]] = u.ExpressionAttributeValues[parts[1]]
	}
	return nil
}

func complaintItem(t *testing.T) map[string]types.AttributeValue {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	item, err := attributevalue.MarshalMap(models.Complaint{
		ID: "ISS-1", UserID: "u1", Category: "Pothole", Status: models.StatusSubmitted,
		Priority: models.PriorityHigh, CreatedAt: created, UpdatedAt: created,
	})
	require.NoError(t, err)
	return item
}

func TestDynamoApplyUpdate_RetriesOnConflict(t *testing.T) {
	fake := &fakeDynamo{
		item:         complaintItem(t),
		transactErrs: []error{&types.TransactionCanceledException{}},
	}
	store := NewDynamoStore(fake, "test-")

	calls := 0
	before, after, err := store.Complaints.ApplyUpdate(context.Background(), "ISS-1", func(c *models.Complaint) (*models.StatusHistory, error) {
		calls++
		prev := c.Status
		c.Status = models.StatusInProgress
		c.Department = "Public Works"
		c.UpdatedAt = c.UpdatedAt.Add(time.Minute)
		return &models.StatusHistory{ComplaintID: c.ID, PreviousStatus: prev, NewStatus: c.Status}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, models.StatusSubmitted, before.Status)
	assert.Equal(t, models.StatusInProgress, after.Status)
	require.Len(t, fake.transactCalls, 2)

	last := fake.transactCalls[1]
	require.Len(t, last.TransactItems, 2)
	assert.Equal(t, "test-complaints", *last.TransactItems[0].Update.TableName)
	assert.Equal(t, "test-statusHistory", *last.TransactItems[1].Put.TableName)
}

func TestDynamoApplyUpdate_KeepsUnmodelledAttributes(t *testing.T) {
	item := complaintItem(t)
	item["photoUrl"] = &types.AttributeValueMemberS{Value: "https://cdn.example/p.jpg"}
	fake := &fakeDynamo{item: item}
	store := NewDynamoStore(fake, "")

	_, after, err := store.Complaints.ApplyUpdate(context.Background(), "ISS-1", func(c *models.Complaint) (*models.StatusHistory, error) {
		c.Status = models.StatusInProgress
		c.AssignedTo = "crew-7"
		c.UpdatedAt = c.UpdatedAt.Add(time.Minute)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, after.Status)

	require.Len(t, fake.transactCalls, 1)
	assert.Nil(t, fake.transactCalls[0].TransactItems[0].Put)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "https://cdn.example/p.jpg"}, fake.item["photoUrl"])

	stored, err := store.Complaints.FindByID(context.Background(), "ISS-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.Equal(t, "crew-7", stored.AssignedTo)
	assert.Equal(t, "Pothole", stored.Category)
}

func TestDynamoApplyUpdate_ItemWithoutUpdatedAt(t *testing.T) {
	item := complaintItem(t)
	delete(item, "updatedAt")
	fake := &fakeDynamo{item: item}
	store := NewDynamoStore(fake, "")
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	_, after, err := store.Complaints.ApplyUpdate(context.Background(), "ISS-1", func(c *models.Complaint) (*models.StatusHistory, error) {
		prev := c.Status
		c.Status = models.StatusInProgress
		c.UpdatedAt = now
		return &models.StatusHistory{ComplaintID: c.ID, PreviousStatus: prev, NewStatus: c.Status, Timestamp: now}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, after.Status)
	require.Len(t, fake.transactCalls, 1)
	assert.Contains(t, *fake.transactCalls[0].TransactItems[0].Update.ConditionExpression, "attribute_not_exists(#updatedAt)")

	stored, err := store.Complaints.FindByID(context.Background(), "ISS-1")
	require.NoError(t, err)
	assert.True(t, stored.UpdatedAt.Equal(now))
}

func TestDynamoApplyUpdate_StaleReadIsRetried(t *testing.T) {
	fake := &fakeDynamo{item: complaintItem(t)}
	store := NewDynamoStore(fake, "")

	calls := 0
	_, _, err := store.Complaints.ApplyUpdate(context.Background(), "ISS-1", func(c *models.Complaint) (*models.StatusHistory, error) {
		calls++
		if calls == 1 {
			// Another writer commits between our read and write.
			moved, err := attributevalue.Marshal(c.UpdatedAt.Add(time.Second))
			require.NoError(t, err)
			fake.item["updatedAt"] = moved
		}
		c.Status = models.StatusInProgress
		c.UpdatedAt = c.UpdatedAt.Add(time.Hour)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, fake.transactCalls, 2)
}

func TestDynamoApplyUpdate_GivesUpAfterRepeatedConflicts(t *testing.T) {
	conflict := &types.TransactionCanceledException{}
	fake := &fakeDynamo{item: complaintItem(t), transactErrs: []error{conflict, conflict, conflict}}
	store := NewDynamoStore(fake, "")

	_, _, err := store.Complaints.ApplyUpdate(context.Background(), "ISS-1", func(c *models.Complaint) (*models.StatusHistory, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDynamoApplyUpdate_NotFound(t *testing.T) {
	store := NewDynamoStore(&fakeDynamo{}, "")
	_, _, err := store.Complaints.ApplyUpdate(context.Background(), "ISS-0000", func(c *models.Complaint) (*models.StatusHistory, error) {
		t.Fatal("mutate must not run for a missing complaint")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoMarkEscalated(t *testing.T) {
	fake := &fakeDynamo{item: complaintItem(t)}
	store := NewDynamoStore(fake, "")
	at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	won, err := store.Complaints.MarkEscalated(context.Background(), "ISS-1", at)
	require.NoError(t, err)
	assert.True(t, won)

	fake.updateErr = &types.ConditionalCheckFailedException{}
	won, err = store.Complaints.MarkEscalated(context.Background(), "ISS-1", at)
	require.NoError(t, err)
	assert.False(t, won)

	fake.item = nil
	_, err = store.Complaints.MarkEscalated(context.Background(), "ISS-1", at)
	assert.ErrorIs(t, err, ErrNotFound)

	fake.updateErr = errors.New("throttled")
	_, err = store.Complaints.MarkEscalated(context.Background(), "ISS-1", at)
	assert.Error(t, err)
}

func TestDynamoDeleteOlderThan_Chunks(t *testing.T) {
	var items []map[string]types.AttributeValue
	for i := 0; i < 30; i++ {
		items = append(items, map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: time.Duration(i).String()},
		})
	}
	fake := &fakeDynamo{scanItems: items}
	store := NewDynamoStore(fake, "")

	n, err := store.Logs.DeleteOlderThan(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, 2, fake.batchCalls)
}
