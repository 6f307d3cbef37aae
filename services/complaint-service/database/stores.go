package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	ddbpkg "github.com/civicdesk/civic-portal/backend/pkg/dynamodb"
	fbpkg "github.com/civicdesk/civic-portal/backend/pkg/firebase"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
)

const connectAttempts = 5

// retry runs fn until it succeeds or attempts run out, backing off linearly.
func retry(ctx context.Context, logger *zap.Logger, what string, fn func(context.Context) error) error {
	var err error
	for i := 0; i < connectAttempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		logger.Warn(what+" connection failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 2 * time.Second):
		}
	}
	return fmt.Errorf("failed to connect to %s after retries: %w", what, err)
}

// ConnectFirestore opens the Firestore client of app and checks it can read.
func ConnectFirestore(ctx context.Context, app *fbpkg.App, logger *zap.Logger) (*firestore.Client, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, err
	}
	err = retry(ctx, logger, "Firestore", func(ctx context.Context) error {
		it := client.Collection(repository.CollectionCivicIssues).Limit(1).Documents(ctx)
		defer it.Stop()
		if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("Connected to Firestore successfully")
	return client, nil
}

// OpenStore builds the repositories for backend ("firestore" or "dynamodb").
// fs is only used, and required, for firestore.
func OpenStore(backend string, fs *firestore.Client, awsCfg sdkaws.Config, tablePrefix string, logger *zap.Logger) (*repository.Store, error) {
	switch backend {
	case "firestore":
		if fs == nil {
			return nil, errors.New("firestore backend selected without a firestore client")
		}
		return repository.NewFirestoreStore(fs), nil
	case "dynamodb":
		logger.Info("Using DynamoDB store", zap.String("table_prefix", tablePrefix))
		return repository.NewDynamoStore(ddbpkg.NewClientFromConfig(awsCfg), tablePrefix), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

// ConnectRedis connects to redisURL, retrying until Redis answers PING.
func ConnectRedis(ctx context.Context, redisURL string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	err = retry(ctx, logger, "Redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("Connected to Redis")
	return client, nil
}
