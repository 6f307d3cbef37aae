// Command migrate-firestore-to-ddb copies the portal's Firestore collections
// into the DynamoDB tables used by STORE_BACKEND=dynamodb. Re-running it is
// safe: existing complaints are skipped and everything else is overwritten.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	ddbpkg "github.com/civicdesk/civic-portal/backend/pkg/dynamodb"
	fbpkg "github.com/civicdesk/civic-portal/backend/pkg/firebase"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
)

type migrator struct {
	fs     *firestore.Client
	ddb    *dynamodb.Client
	store  *repository.Store
	prefix string
	dryRun bool
	logger *zap.Logger
}

func main() {
	var projectID, credsFile, prefix string
	var dryRun bool
	flag.StringVar(&projectID, "project", os.Getenv("FIREBASE_PROJECT_ID"), "Firebase project ID")
	flag.StringVar(&credsFile, "credentials", os.Getenv("FIREBASE_CREDENTIALS_FILE"), "service account JSON file")
	flag.StringVar(&prefix, "table-prefix", os.Getenv("DDB_TABLE_PREFIX"), "DynamoDB table name prefix")
	flag.BoolVar(&dryRun, "dry-run", false, "read and decode only, write nothing")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	ctx := context.Background()

	app, err := fbpkg.NewApp(ctx, fbpkg.Config{ProjectID: projectID, CredentialsFile: credsFile})
	if err != nil {
		logger.Fatal("firebase init", zap.Error(err))
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		logger.Fatal("firestore client", zap.Error(err))
	}
	defer fs.Close()

	ddb, err := ddbpkg.NewClient(ctx)
	if err != nil {
		logger.Fatal("dynamodb client", zap.Error(err))
	}

	m := &migrator{
		fs:     fs,
		ddb:    ddb,
		store:  repository.NewDynamoStore(ddb, prefix),
		prefix: prefix,
		dryRun: dryRun,
		logger: logger,
	}

	steps := []struct {
		collection string
		copyDoc    func(context.Context, *firestore.DocumentSnapshot) error
	}{
		{repository.CollectionCivicIssues, m.copyCivicIssue},
		{repository.CollectionComplaints, m.copyComplaint},
		{repository.CollectionStatusHistory, m.copyHistory},
		{repository.CollectionDeviceTokens, m.copyToken},
		{repository.CollectionNotificationLogs, m.copyLog},
	}
	for _, s := range steps {
		copied, failed, err := m.migrate(ctx, s.collection, s.copyDoc)
		if err != nil {
			logger.Fatal("migration aborted", zap.String("collection", s.collection), zap.Error(err))
		}
		logger.Info("collection migrated",
			zap.String("collection", s.collection),
			zap.Int("copied", copied),
			zap.Int("failed", failed),
			zap.Bool("dry_run", dryRun),
		)
	}
}

// migrate streams every document of collection through copyDoc. Per-document
// failures are logged and counted; only read errors abort.
func (m *migrator) migrate(ctx context.Context, collection string, copyDoc func(context.Context, *firestore.DocumentSnapshot) error) (int, int, error) {
	it := m.fs.Collection(collection).Documents(ctx)
	defer it.Stop()

	var copied, failed int
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return copied, failed, nil
		}
		if err != nil {
			return copied, failed, fmt.Errorf("read %s: %w", collection, err)
		}
		if err := copyDoc(ctx, snap); err != nil {
			m.logger.Warn("document not migrated",
				zap.String("collection", collection),
				zap.String("doc_id", snap.Ref.ID),
				zap.Error(err),
			)
			failed++
			continue
		}
		copied++
	}
}

func (m *migrator) copyComplaint(ctx context.Context, snap *firestore.DocumentSnapshot) error {
	var c models.Complaint
	if err := snap.DataTo(&c); err != nil {
		return err
	}
	c.ID = snap.Ref.ID
	if m.dryRun {
		return nil
	}
	err := m.store.Complaints.Create(ctx, &c)
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	return err
}

func (m *migrator) copyToken(ctx context.Context, snap *firestore.DocumentSnapshot) error {
	var t models.DeviceToken
	if err := snap.DataTo(&t); err != nil {
		return err
	}
	if m.dryRun {
		return nil
	}
	return m.store.Tokens.Upsert(ctx, &t)
}

func (m *migrator) copyLog(ctx context.Context, snap *firestore.DocumentSnapshot) error {
	var l models.NotificationLog
	if err := snap.DataTo(&l); err != nil {
		return err
	}
	l.ID = snap.Ref.ID
	if m.dryRun {
		return nil
	}
	return m.store.Logs.SaveLog(ctx, &l)
}

// History entries and civic issues have no write path in the repositories,
// so they are put directly.

func (m *migrator) copyHistory(ctx context.Context, snap *firestore.DocumentSnapshot) error {
	var h models.StatusHistory
	if err := snap.DataTo(&h); err != nil {
		return err
	}
	h.ID = snap.Ref.ID
	item, err := attributevalue.MarshalMap(h)
	if err != nil {
		return err
	}
	return m.put(ctx, repository.CollectionStatusHistory, item)
}

func (m *migrator) copyCivicIssue(ctx context.Context, snap *firestore.DocumentSnapshot) error {
	var ci models.CivicIssue
	if err := snap.DataTo(&ci); err != nil {
		return err
	}
	if ci.City == "" {
		ci.City = snap.Ref.ID
	}
	item, err := attributevalue.MarshalMap(ci)
	if err != nil {
		return err
	}
	item["id"] = &types.AttributeValueMemberS{Value: models.CivicIssueID(ci.City)}
	return m.put(ctx, repository.CollectionCivicIssues, item)
}

func (m *migrator) put(ctx context.Context, collection string, item map[string]types.AttributeValue) error {
	if m.dryRun {
		return nil
	}
	table := ddbpkg.TableName(m.prefix, collection)
	if _, err := m.ddb.PutItem(ctx, &dynamodb.PutItemInput{TableName: &table, Item: item}); err != nil {
		return fmt.Errorf("put %s: %w", table, err)
	}
	return nil
}
