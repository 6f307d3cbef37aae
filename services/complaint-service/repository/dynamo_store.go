package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	ddbpkg "github.com/civicdesk/civic-portal/backend/pkg/dynamodb"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
)

// Secondary indexes the DynamoDB tables are expected to carry.
const (
	IndexHistoryByComplaint = "complaintId-index"
	IndexTokensByUser       = "userId-index"
)

const maxUpdateAttempts = 3

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// NewDynamoStore returns repositories backed by one DynamoDB table per
// collection, named tablePrefix+collection.
func NewDynamoStore(client DynamoAPI, tablePrefix string) *Store {
	t := func(name string) string { return ddbpkg.TableName(tablePrefix, name) }
	return &Store{
		Complaints: &dynamoComplaints{
			client:       client,
			table:        t(CollectionComplaints),
			historyTable: t(CollectionStatusHistory),
		},
		Tokens:      &dynamoTokens{client: client, table: t(CollectionDeviceTokens)},
		Logs:        &dynamoLogs{client: client, table: t(CollectionNotificationLogs)},
		CivicIssues: &dynamoCivicIssues{client: client, table: t(CollectionCivicIssues)},
	}
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

// ---- complaints ----

type dynamoComplaints struct {
	client       DynamoAPI
	table        string
	historyTable string
}

func (r *dynamoComplaints) Create(ctx context.Context, c *models.Complaint) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal complaint: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.table,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("complaint %s: %w", c.ID, ErrConflict)
		}
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (r *dynamoComplaints) FindByID(ctx context.Context, id string) (*models.Complaint, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.table,
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var c models.Complaint
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal complaint: %w", err)
	}
	return &c, nil
}

func (r *dynamoComplaints) List(ctx context.Context, filter models.ComplaintFilter) ([]models.Complaint, error) {
	var out []models.Complaint
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{TableName: &r.table})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan complaints failed: %w", err)
		}
		var batch []models.Complaint
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal complaints: %w", err)
		}
		for _, c := range batch {
			if !statusIn(c.Status, filter.Statuses) {
				continue
			}
			if filter.Department != "" && c.Department != filter.Department {
				continue
			}
			if filter.UserID != "" && c.UserID != filter.UserID {
				continue
			}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ApplyUpdate commits the changed complaint attributes and the history entry
// with TransactWriteItems. The update is conditioned on the updatedAt value
// that was read, so a concurrent writer causes a retry instead of a lost
// update. Attributes the service does not model are left as they are.
func (r *dynamoComplaints) ApplyUpdate(ctx context.Context, id string, mutate MutateFunc) (*models.Complaint, *models.Complaint, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		prev := *current

		entry, err := mutate(current)
		if err != nil {
			return nil, nil, err
		}

		update, err := r.complaintUpdate(id, prev.UpdatedAt, current)
		if err != nil {
			return nil, nil, err
		}
		writes := []types.TransactWriteItem{{Update: update}}
		if entry != nil {
			entry.ID = uuid.NewString()
			hist, err := attributevalue.MarshalMap(entry)
			if err != nil {
				return nil, nil, fmt.Errorf("marshal history: %w", err)
			}
			writes = append(writes, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           &r.historyTable,
					Item:                hist,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			})
		}

		_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
		if err == nil {
			return &prev, current, nil
		}
		var cancelled *types.TransactionCanceledException
		if !errors.As(err, &cancelled) {
			return nil, nil, fmt.Errorf("dynamodb TransactWriteItems failed: %w", err)
		}
	}
	return nil, nil, fmt.Errorf("complaint %s: %w", id, ErrConflict)
}

// complaintUpdate builds the SET expression for the attributes a status
// update owns. Items written without updatedAt are matched by its absence.
func (r *dynamoComplaints) complaintUpdate(id string, prevUpdated time.Time, c *models.Complaint) (*types.Update, error) {
	names := map[string]string{"#updatedAt": "updatedAt"}
	values := map[string]types.AttributeValue{}
	sets := make([]string, 0, 8)
	for i, ch := range complaintChanges(c) {
		name, placeholder := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
		v, err := attributevalue.Marshal(ch.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", ch.Path, err)
		}
		names[name] = ch.Path
		values[placeholder] = v
		sets = append(sets, name+" = "+placeholder)
	}

	cond := "attribute_exists(id) AND attribute_not_exists(#updatedAt)"
	if !prevUpdated.IsZero() {
		prev, err := attributevalue.Marshal(prevUpdated)
		if err != nil {
			return nil, fmt.Errorf("marshal updatedAt: %w", err)
		}
		values[":prev"] = prev
		cond = "attribute_exists(id) AND #updatedAt = :prev"
	}

	return &types.Update{
		TableName:                 &r.table,
		Key:                       idKey(id),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

func (r *dynamoComplaints) ListHistory(ctx context.Context, complaintID string) ([]models.StatusHistory, error) {
	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              &r.historyTable,
		IndexName:              aws.String(IndexHistoryByComplaint),
		KeyConditionExpression: aws.String("complaintId = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: complaintID},
		},
	})
	var out []models.StatusHistory
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query history failed: %w", err)
		}
		var batch []models.StatusHistory
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
		out = append(out, batch...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *dynamoComplaints) MarkEscalated(ctx context.Context, id string, at time.Time) (bool, error) {
	atVal, err := attributevalue.Marshal(at)
	if err != nil {
		return false, fmt.Errorf("marshal escalatedAt: %w", err)
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &r.table,
		Key:                       idKey(id),
		UpdateExpression:          aws.String("SET escalatedAt = :at"),
		ConditionExpression:       aws.String("attribute_exists(id) AND attribute_not_exists(escalatedAt)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":at": atVal},
	})
	if err == nil {
		return true, nil
	}
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return false, fmt.Errorf("dynamodb UpdateItem failed: %w", err)
	}
	// Either already escalated or the complaint is gone.
	if _, err := r.FindByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ---- device tokens ----

type dynamoTokens struct {
	client DynamoAPI
	table  string
}

type ddbToken struct {
	ID string `dynamodbav:"id"`
	models.DeviceToken
}

func (r *dynamoTokens) forUser(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &r.table,
		IndexName:              aws.String(IndexTokensByUser),
		KeyConditionExpression: aws.String("userId = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query tokens failed: %w", err)
	}
	var rows []ddbToken
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal tokens: %w", err)
	}
	tokens := make([]models.DeviceToken, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, row.DeviceToken)
	}
	return tokens, nil
}

func (r *dynamoTokens) FindActive(ctx context.Context, userID string) (*models.DeviceToken, error) {
	tokens, err := r.forUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if t := pickLatest(tokens, true); t != nil {
		return t, nil
	}
	return nil, ErrNotFound
}

func (r *dynamoTokens) FindLatest(ctx context.Context, userID string) (*models.DeviceToken, error) {
	tokens, err := r.forUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if t := pickLatest(tokens, false); t != nil {
		return t, nil
	}
	return nil, ErrNotFound
}

func (r *dynamoTokens) Upsert(ctx context.Context, t *models.DeviceToken) error {
	item, err := attributevalue.MarshalMap(ddbToken{ID: t.ID(), DeviceToken: *t})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	createdAt := item["createdAt"]
	delete(item, "createdAt")

	// Keep createdAt of an existing record; everything else is overwritten.
	names := map[string]string{}
	values := map[string]types.AttributeValue{":createdAt": createdAt}
	expr := "SET createdAt = if_not_exists(createdAt, :createdAt)"
	i := 0
	for k, v := range item {
		if k == "id" {
			continue
		}
		n, p := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
		names[n] = k
		values[p] = v
		expr += fmt.Sprintf(", %s = %s", n, p)
		i++
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &r.table,
		Key:                       idKey(t.ID()),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("dynamodb UpdateItem failed: %w", err)
	}
	return nil
}

func (r *dynamoTokens) DeactivateAll(ctx context.Context, userID string, at time.Time) (int, error) {
	tokens, err := r.forUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	atVal, err := attributevalue.Marshal(at)
	if err != nil {
		return 0, fmt.Errorf("marshal updatedAt: %w", err)
	}
	n := 0
	for _, t := range tokens {
		if !t.Active {
			continue
		}
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        &r.table,
			Key:              idKey(t.ID()),
			UpdateExpression: aws.String("SET active = :f, updatedAt = :at"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f":  &types.AttributeValueMemberBOOL{Value: false},
				":at": atVal,
			},
		})
		if err != nil {
			return n, fmt.Errorf("deactivate token %s: %w", t.ID(), err)
		}
		n++
	}
	return n, nil
}

// ---- notification logs ----

type dynamoLogs struct {
	client DynamoAPI
	table  string
}

// ddbLog stores sentAt a second time as epoch milliseconds so the retention
// scan can compare numerically.
type ddbLog struct {
	models.NotificationLog
	SentAtMillis int64 `dynamodbav:"sentAtMillis"`
}

func (r *dynamoLogs) SaveLog(ctx context.Context, log *models.NotificationLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	item, err := attributevalue.MarshalMap(ddbLog{NotificationLog: *log, SentAtMillis: log.SentAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal notification log: %w", err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &r.table, Item: item}); err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (r *dynamoLogs) GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, error) {
	var out []models.NotificationLog
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{TableName: &r.table})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan notification logs failed: %w", err)
		}
		var rows []ddbLog
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &rows); err != nil {
			return nil, fmt.Errorf("unmarshal notification logs: %w", err)
		}
		for _, row := range rows {
			if matchesLog(&row.NotificationLog, filter) {
				out = append(out, row.NotificationLog)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteOlderThan removes expired entries with BatchWriteItem in chunks of 25.
func (r *dynamoLogs) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	const chunkSize = 25

	if batchSize <= 0 {
		batchSize = 500
	}

	var ids []string
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:            &r.table,
		Limit:                aws.Int32(int32(batchSize)),
		ProjectionExpression: aws.String("id"),
		FilterExpression:     aws.String("sentAtMillis < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", cutoff.UnixMilli())},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("scan expired logs failed: %w", err)
		}
		for _, it := range page.Items {
			if v, ok := it["id"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
	}

	deleted := 0
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		reqs := make([]types.WriteRequest, 0, end-i)
		for _, id := range ids[i:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: idKey(id)}})
		}
		pending := map[string][]types.WriteRequest{r.table: reqs}
		for attempt := 0; len(pending) > 0 && attempt < 5; attempt++ {
			out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return deleted, fmt.Errorf("dynamodb BatchWriteItem failed: %w", err)
			}
			pending = out.UnprocessedItems
		}
		if len(pending) > 0 {
			return deleted, fmt.Errorf("batch delete left %d unprocessed items", len(pending[r.table]))
		}
		deleted += end - i
	}
	return deleted, nil
}

// ---- civic issues ----

type dynamoCivicIssues struct {
	client DynamoAPI
	table  string
}

func (r *dynamoCivicIssues) FindByCity(ctx context.Context, city string) (*models.CivicIssue, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &r.table,
		Key:       idKey(models.CivicIssueID(city)),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var ci models.CivicIssue
	if err := attributevalue.UnmarshalMap(out.Item, &ci); err != nil {
		return nil, fmt.Errorf("unmarshal civic issue: %w", err)
	}
	return &ci, nil
}
