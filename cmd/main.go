package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payment-orchestrator/internal/clients"
	"payment-orchestrator/internal/config"
	"payment-orchestrator/internal/events"
	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/handlers"
	"payment-orchestrator/internal/middleware"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/repository"
	"payment-orchestrator/internal/services"
	"payment-orchestrator/internal/subscribers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	appLogger := logrus.New()
	appLogger.SetFormatter(&logrus.JSONFormatter{})
	appLogger.SetLevel(logrus.InfoLevel)

	db, err := connectDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Payment{},
		&models.PaymentSplit{},
		&models.Refund{},
		&models.WebhookEvent{},
		&models.OutboxEvent{},
		&models.MerchantFeeConfig{},
	); err != nil {
		log.Printf("Warning: Auto-migration failed: %v", err)
	}

	ledgerRepo := repository.NewLedgerRepository(db)

	registry := gateway.NewRegistry(map[models.ProviderName]gateway.Credentials{
		models.ProviderStripe: {
			APISecret:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		},
		models.ProviderRazorpay: {
			APIKey:        cfg.RazorpayKeyID,
			APISecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
		},
	})
	selector := gateway.NewSelector(registry, cfg.CurrencyRouting, cfg.DefaultProvider)

	orderClient := clients.NewOrderClient(cfg.OrderServiceURL)
	calculator := services.NewSplitCalculator()

	paymentService := services.NewPaymentService(ledgerRepo, orderClient, selector, calculator, appLogger)
	webhookService := services.NewWebhookService(ledgerRepo, selector, calculator, appLogger)
	escrowService := services.NewEscrowService(ledgerRepo, appLogger)

	paymentHandler := handlers.NewPaymentHandler(paymentService)
	webhookHandler := handlers.NewWebhookHandler(webhookService)

	redisClient := connectRedis(cfg.RedisURL, appLogger)
	rateLimits := middleware.NewPaymentRateLimits(redisClient, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outbox dispatcher. Without NATS the service still takes payments;
	// events stay queued in the outbox until the broker is back.
	publisher, err := events.NewPublisher(cfg.NatsURL, appLogger)
	if err != nil {
		log.Printf("WARNING: Failed to initialize events publisher: %v (outbox will not drain)", err)
	} else {
		defer publisher.Close()
		dispatcher := events.NewOutboxDispatcher(ledgerRepo, publisher, cfg.OutboxInterval, cfg.OutboxBatchSize, appLogger)
		go dispatcher.Run(ctx)
	}

	// Fulfillment events trigger capture of the order's authorized payment.
	fulfillmentSub, err := subscribers.NewFulfillmentSubscriber(cfg.NatsURL, paymentService, appLogger)
	if err != nil {
		log.Printf("WARNING: Failed to initialize fulfillment subscriber: %v (captures stay manual)", err)
	} else {
		defer fulfillmentSub.Close()
		if err := fulfillmentSub.Start(); err != nil {
			log.Printf("WARNING: Fulfillment subscriber failed to start: %v", err)
		}
	}

	go runWebhookRetryLoop(ctx, webhookService, cfg.WebhookRetryInterval, cfg.WebhookMaxRetries, appLogger)
	go escrowService.Run(ctx, cfg.EscrowReleaseInterval, cfg.OutboxBatchSize)

	router := setupRouter(cfg, appLogger, paymentHandler, webhookHandler, rateLimits)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Payment orchestrator starting on port %s (env: %s)", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// connectDatabase establishes a connection to the database. TranslateError
// lets the repository map unique violations to ErrDuplicate portably.
func connectDatabase(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✓ Connected to database")
	return db, nil
}

// connectRedis returns nil when Redis is unreachable; rate limiting then
// fails open.
func connectRedis(redisURL string, appLogger *logrus.Logger) *redis.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		appLogger.WithError(err).Warn("Invalid REDIS_URL, rate limiting disabled")
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		appLogger.WithError(err).Warn("Redis unreachable, rate limiting disabled")
		return nil
	}

	log.Println("✓ Connected to Redis")
	return client
}

// runWebhookRetryLoop re-applies stored webhook events that failed
// processing. Providers back off redelivery aggressively, so this loop is
// the reliable retry path.
func runWebhookRetryLoop(ctx context.Context, svc *services.WebhookService, interval time.Duration, maxRetries int, appLogger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			applied, err := svc.RetryUnprocessed(ctx, maxRetries, 100)
			if err != nil {
				appLogger.WithError(err).Error("Webhook retry pass failed")
				continue
			}
			if applied > 0 {
				appLogger.WithField("applied", applied).Info("Reprocessed stored webhook events")
			}
		}
	}
}

// setupRouter configures the HTTP router
func setupRouter(cfg *config.Config, appLogger *logrus.Logger, paymentHandler *handlers.PaymentHandler, webhookHandler *handlers.WebhookHandler, rateLimits *middleware.PaymentRateLimits) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowedOrigins = []string{"http://localhost:3000"}
	}
	router.Use(middleware.CORS(corsConfig))

	router.Use(middleware.ValidateRequest())
	router.Use(middleware.AuditMiddleware(appLogger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "payment-orchestrator",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(rateLimits.General))
	{
		payments := v1.Group("/payments")
		{
			payments.POST("/authorize",
				middleware.RateLimitMiddleware(rateLimits.Payments),
				paymentHandler.Authorize)
			payments.POST("/:id/capture", paymentHandler.Capture)
			payments.POST("/:id/refund",
				middleware.RateLimitMiddleware(rateLimits.Refunds),
				paymentHandler.Refund)
			payments.POST("/:id/cancel", paymentHandler.Cancel)
			payments.GET("/:id", paymentHandler.Get)
			payments.GET("/:id/refunds", paymentHandler.ListRefunds)
		}

		v1.GET("/orders/:orderId/payments", paymentHandler.ListByOrder)
	}

	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.RateLimitMiddleware(rateLimits.Webhook))
	{
		webhooks.POST("/stripe", webhookHandler.HandleStripeWebhook)
		webhooks.POST("/razorpay", webhookHandler.HandleRazorpayWebhook)
	}

	return router
}
