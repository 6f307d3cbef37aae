package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	aws_pkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/services"
)

// Config holds all configuration for the complaint-service.
type Config struct {
	Port   string
	AppEnv string

	StoreBackend   string // firestore | dynamodb
	DDBTablePrefix string
	RedisURL       string

	FirebaseProjectID       string
	FirebaseCredentialsFile string
	FirebaseCredentialsJSON []byte
	FCMEnabled              bool

	JWTSecret   string
	CORSOrigins string

	TriggerSource      string // firestore | sqs | none
	TriggerQueueURL    string
	DirectDispatch     bool
	ClickActionBaseURL string
	NotificationIcon   string
	SendPerMinute      int

	ResolutionBucket    string
	ResolutionURLExpiry time.Duration

	SLAPolicy          string
	SLAScanInterval    time.Duration
	EscalationTopicArn string

	LogRetention  time.Duration
	PurgeInterval time.Duration

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	OTLPEndpoint        string
}

// LoadConfig loads environment variables (and .env when present) into Config.
func LoadConfig(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	cfg := &Config{
		Port:   getEnv("PORT", "8090"),
		AppEnv: getEnv("APP_ENV", "development"),

		StoreBackend:   getEnv("STORE_BACKEND", "firestore"),
		DDBTablePrefix: os.Getenv("DDB_TABLE_PREFIX"),
		RedisURL:       os.Getenv("REDIS_URL"),

		FirebaseProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		FCMEnabled:              getBool("FCM_ENABLED", true),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		TriggerSource:      getEnv("TRIGGER_SOURCE", "firestore"),
		TriggerQueueURL:    os.Getenv("TRIGGER_SQS_QUEUE_URL"),
		DirectDispatch:     getBool("DIRECT_DISPATCH", true),
		ClickActionBaseURL: getEnv("CLICK_ACTION_BASE_URL", "http://localhost:3000"),
		NotificationIcon:   getEnv("NOTIFICATION_ICON", "/icons/notification-192.png"),
		SendPerMinute:      getInt("SEND_RATE_PER_MINUTE", 30),

		ResolutionBucket:    os.Getenv("RESOLUTION_BUCKET"),
		ResolutionURLExpiry: time.Duration(getInt("RESOLUTION_URL_EXPIRY_SECONDS", 900)) * time.Second,

		SLAPolicy:          getEnv("SLA_POLICY", services.SLAPolicyPriority),
		SLAScanInterval:    time.Duration(getInt("SLA_SCAN_INTERVAL_SECONDS", 60)) * time.Second,
		EscalationTopicArn: os.Getenv("ESCALATION_TOPIC_ARN"),

		LogRetention:  time.Duration(getInt("LOG_RETENTION_DAYS", 30)) * 24 * time.Hour,
		PurgeInterval: time.Duration(getInt("PURGE_INTERVAL_HOURS", 24)) * time.Hour,

		CloudWatchEnabled:   getBool("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "CivicPortal"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if awsCfg, err := aws_pkg.LoadAWSConfig(context.Background()); err == nil {
			sm := aws_pkg.NewSecretsClient(awsCfg)

			if jwt, err := sm.GetSecret(context.Background(), "complaint-service/JWT_SECRET"); err == nil && jwt != "" {
				cfg.JWTSecret = jwt
			}
			if name := os.Getenv("FIREBASE_CREDENTIALS_SECRET"); name != "" {
				creds, err := sm.GetSecret(context.Background(), name)
				if err != nil {
					return nil, fmt.Errorf("firebase credentials secret: %w", err)
				}
				cfg.FirebaseCredentialsJSON = []byte(creds)
			}
		} else {
			logger.Warn("AWS config unavailable, secrets not loaded", zap.Error(err))
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "firestore", "dynamodb":
	default:
		return fmt.Errorf("STORE_BACKEND must be firestore or dynamodb, got %q", c.StoreBackend)
	}
	switch c.TriggerSource {
	case "firestore":
		if c.StoreBackend != "firestore" {
			return fmt.Errorf("TRIGGER_SOURCE=firestore requires STORE_BACKEND=firestore")
		}
	case "sqs":
		if c.TriggerQueueURL == "" {
			return fmt.Errorf("TRIGGER_SQS_QUEUE_URL is required when TRIGGER_SOURCE=sqs")
		}
	case "none":
	default:
		return fmt.Errorf("TRIGGER_SOURCE must be firestore, sqs or none, got %q", c.TriggerSource)
	}
	if _, err := services.SLAPolicyByName(c.SLAPolicy); err != nil {
		return err
	}
	if c.SLAScanInterval <= 0 || c.PurgeInterval <= 0 {
		return fmt.Errorf("scan and purge intervals must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
