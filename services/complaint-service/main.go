package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	aws_pkg "github.com/civicdesk/civic-portal/backend/pkg/aws"
	fbpkg "github.com/civicdesk/civic-portal/backend/pkg/firebase"
	"github.com/civicdesk/civic-portal/backend/pkg/telemetry"
	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	applogger "github.com/civicdesk/civic-portal/backend/services/common/logger"
	commonmw "github.com/civicdesk/civic-portal/backend/services/common/middleware"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/consumer"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/controllers"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/database"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/middleware"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/routes"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/sender"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/services"
)

const serviceName = "complaint-service"

func main() {
	bootLogger, err := applogger.Initialize(os.Getenv("APP_ENV"))
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	cfg, err := LoadConfig(bootLogger)
	if err != nil {
		bootLogger.Fatal("Config load failed", zap.Error(err))
	}

	ctx := context.Background()

	awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
	if err != nil {
		bootLogger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	// CloudWatch Logs (non-fatal)
	logger := bootLogger
	cwLogs, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, "/civic-portal/"+serviceName, serviceName, cfg.CloudWatchEnabled)
	if err != nil {
		bootLogger.Warn("CloudWatch Logs init failed (non-fatal)", zap.Error(err))
	} else if cwLogs.IsEnabled() {
		if l, err := applogger.InitializeWithWriter(cfg.AppEnv, cwLogs); err == nil {
			logger = l
		}
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	shutdownTracing := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint, cfg.AppEnv != "production", logger)
	metricsClient := aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)

	// Firebase
	var (
		fbApp    *fbpkg.App
		fsClient *firestore.Client
	)
	if cfg.StoreBackend == "firestore" || cfg.FCMEnabled || cfg.FirebaseProjectID != "" {
		fbApp, err = fbpkg.NewApp(ctx, fbpkg.Config{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			CredentialsJSON: cfg.FirebaseCredentialsJSON,
		})
		if err != nil {
			logger.Fatal("Firebase init failed", zap.Error(err))
		}
	}
	if cfg.StoreBackend == "firestore" {
		fsClient, err = database.ConnectFirestore(ctx, fbApp, logger)
		if err != nil {
			logger.Fatal("Firestore connection failed", zap.Error(err))
		}
	}

	store, err := database.OpenStore(cfg.StoreBackend, fsClient, awsCfg, cfg.DDBTablePrefix, logger)
	if err != nil {
		logger.Fatal("Store init failed", zap.Error(err))
	}

	var dedupe repository.Deduper
	if cfg.RedisURL != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("Redis connection failed", zap.Error(err))
		}
		defer rdb.Close()
		dedupe = repository.NewRedisDeduper(rdb, repository.DefaultDedupeTTL)
	} else {
		logger.Warn("REDIS_URL not set, deduplicating in memory (single replica only)")
		dedupe = repository.NewMemoryDeduper(repository.DefaultDedupeTTL)
	}

	push := newPushSender(ctx, cfg, fbApp, logger)
	verifiers := newVerifiers(ctx, cfg, fbApp, logger)

	var images services.ImageStore
	if cfg.ResolutionBucket != "" {
		images = aws_pkg.NewObjectStore(awsCfg, cfg.ResolutionBucket)
	}

	var escalator services.Escalator = services.NewLogEscalator(logger)
	if cfg.EscalationTopicArn != "" {
		escalator = services.NewSNSEscalator(aws_pkg.NewSNSClient(awsCfg), cfg.EscalationTopicArn)
	}

	var (
		publisher services.ChangePublisher
		queue     *aws_pkg.SQSConsumer
	)
	if cfg.TriggerSource == "sqs" {
		queue = aws_pkg.NewSQSConsumer(awsCfg, cfg.TriggerQueueURL, logger)
		publisher = consumer.NewSQSChangePublisher(queue)
	}

	slaPolicy, _ := services.SLAPolicyByName(cfg.SLAPolicy)

	// Dependency injection
	dispatcher := services.NewDispatcher(store.Complaints, store.Tokens, store.Logs, push, dedupe, metricsClient, logger,
		services.DispatcherConfig{ClickActionBaseURL: cfg.ClickActionBaseURL, Icon: cfg.NotificationIcon})
	statusService := services.NewStatusService(store.Complaints, services.StatusServiceOptions{
		Dispatcher:     dispatcher,
		DirectDispatch: cfg.DirectDispatch,
		Publisher:      publisher,
		Images:         images,
		Metrics:        metricsClient,
		Logger:         logger,
	})
	complaintService := services.NewComplaintService(store.Complaints, store.CivicIssues, services.ComplaintServiceOptions{
		Dispatcher:     dispatcher,
		DirectDispatch: cfg.DirectDispatch,
		Publisher:      publisher,
		Images:         images,
		UploadExpiry:   cfg.ResolutionURLExpiry,
		SLA:            slaPolicy,
		Metrics:        metricsClient,
		Logger:         logger,
	})
	tokenService := services.NewTokenService(store.Tokens, logger)
	triggerHandler := services.NewTriggerHandler(dispatcher, metricsClient, logger)
	slaMonitor := services.NewSLAMonitor(store.Complaints, slaPolicy, escalator, metricsClient, logger)
	retention := services.NewRetentionService(store.Logs, cfg.LogRetention, metricsClient, logger)

	complaintController := controllers.NewComplaintController(complaintService, statusService, logger)
	notificationController := controllers.NewNotificationController(dispatcher, tokenService, logger)

	if err := middleware.RegisterValidators(); err != nil {
		logger.Fatal("Failed to register validators", zap.Error(err))
	}

	// Router
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(applogger.RequestID())
	r.Use(commonmw.RequestLogger(logger))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORSMiddleware(cfg.CORSOrigins))
	r.Use(commonmw.MetricsMiddleware(metricsClient, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	// Request timeout
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	routes.RegisterRoutes(r, routes.Handlers{
		Complaints:    complaintController,
		Notifications: notificationController,
	}, routes.Options{
		Verifiers:     verifiers,
		SendPerMinute: cfg.SendPerMinute,
	})

	// Background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	switch cfg.TriggerSource {
	case "firestore":
		trigger := consumer.NewFirestoreTrigger(fsClient, triggerHandler, logger)
		go func() {
			if err := trigger.Run(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Firestore trigger stopped", zap.Error(err))
			}
		}()
	case "sqs":
		trigger := consumer.NewSQSTrigger(queue, triggerHandler, logger)
		go func() {
			if err := trigger.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("SQS trigger stopped", zap.Error(err))
			}
		}()
	default:
		logger.Info("Trigger consumer disabled; relying on direct dispatch",
			zap.Bool("direct_dispatch", cfg.DirectDispatch))
	}
	go slaMonitor.Run(workerCtx, cfg.SLAScanInterval)
	go retention.Run(workerCtx, cfg.PurgeInterval)

	// HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(r, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Complaint service started",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreBackend),
			zap.String("trigger", cfg.TriggerSource),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Initiating graceful shutdown...")
	workerCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		logger.Error("Store close error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracer shutdown error", zap.Error(err))
	}

	logger.Info("Complaint service stopped gracefully")
}

// newPushSender returns the FCM sender, or a logging sender when FCM is off.
func newPushSender(ctx context.Context, cfg *Config, app *fbpkg.App, logger *zap.Logger) sender.PushSender {
	if !cfg.FCMEnabled {
		logger.Warn("FCM disabled, notifications will only be logged")
		return sender.NewLogSender(logger)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		logger.Fatal("Failed to init FCM client", zap.Error(err))
	}
	return sender.NewFCMSender(client)
}

func newVerifiers(ctx context.Context, cfg *Config, app *fbpkg.App, logger *zap.Logger) []middleware.TokenVerifier {
	var verifiers []middleware.TokenVerifier
	if app != nil {
		authClient, err := app.Auth(ctx)
		if err != nil {
			logger.Fatal("Failed to init Firebase Auth client", zap.Error(err))
		}
		verifiers = append(verifiers, middleware.NewFirebaseVerifier(authClient))
	}
	if cfg.JWTSecret != "" {
		verifiers = append(verifiers, middleware.NewJWTVerifier([]byte(cfg.JWTSecret)))
	}
	if len(verifiers) == 0 {
		logger.Fatal("No token verifier configured; set Firebase credentials or JWT_SECRET")
	}
	return verifiers
}
