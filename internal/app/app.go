package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/egovpay/server/internal/infra/events"
	"github.com/egovpay/server/internal/infra/httpclient"
	"github.com/egovpay/server/internal/module/account"
	"github.com/egovpay/server/internal/module/notify"
	"github.com/egovpay/server/internal/module/payment"
	"github.com/egovpay/server/internal/module/payment/provider"
	"github.com/egovpay/server/internal/module/request"
	"github.com/egovpay/server/internal/shared/cache"
	"github.com/egovpay/server/internal/shared/config"
	"github.com/egovpay/server/internal/shared/database"
	"github.com/egovpay/server/internal/shared/logger"
	"github.com/egovpay/server/internal/utils/metrics"
	"github.com/egovpay/server/internal/utils/middleware"
)

// App wires configuration, storage, providers, and modules into one
// running service.
type App struct {
	config *config.Config
	db     *gorm.DB
	redis  redis.UniversalClient
	router *gin.Engine
	logger *zap.Logger

	eventBus *events.Bus
	metrics  *metrics.Metrics

	paymentService *payment.Service
	paymentHandler *payment.Handler
	webhookHandler *payment.WebhookHandler
	requestHandler *request.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		config: cfg,
		logger: log,
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	if err := db.AutoMigrate(
		&payment.Payment{},
		&payment.WebhookEvent{},
		&request.ServiceRequest{},
		&account.Account{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	// Redis backs the idempotency middleware; the service runs without it.
	if cfg.Redis.Address != "" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis connection failed, idempotency disabled", zap.Error(err))
		} else {
			app.redis = redisClient
		}
	}

	app.metrics = metrics.New("egovpay")
	app.eventBus = events.NewBus(log)

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}
	app.router = app.setupRouter()

	return app, nil
}

func (a *App) initModules() error {
	cfg := a.config

	// One pooled client is shared by every provider adapter.
	outbound := httpclient.New(cfg.HTTPClient)

	registry := payment.NewProviderRegistry()
	airtel := provider.NewAirtelAdapter(cfg.Payments.Airtel, outbound, a.metrics, a.logger)
	moov := provider.NewMoovAdapter(cfg.Payments.Moov, outbound, a.metrics, a.logger)
	if err := registry.Register(airtel); err != nil {
		return err
	}
	if err := registry.Register(moov); err != nil {
		return err
	}

	requestRepo := request.NewRepository(a.db)
	requestService := request.NewService(requestRepo, a.logger)
	a.requestHandler = request.NewHandler(requestService)

	directory := account.NewDirectory(a.db)

	paymentRepo := payment.NewRepository(a.db, a.metrics)
	a.paymentService = payment.NewService(
		paymentRepo,
		registry,
		a.eventBus,
		requestService,
		a.metrics,
		a.logger,
		cfg.Payments.CallbackBaseURL,
	)
	a.paymentHandler = payment.NewHandler(a.paymentService, directory)
	a.webhookHandler = payment.NewWebhookHandler(a.paymentService, registry, a.logger)

	sender := notify.NewLogSender(a.logger)
	a.eventBus.Register(notify.NewPaymentHandler(a.paymentService, sender, a.logger))

	return nil
}

func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(a.logger))
	router.Use(middleware.Metrics(a.metrics))

	router.GET("/healthz", a.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks are authenticated by signature, not by session.
	webhooks := router.Group("/webhooks")
	a.webhookHandler.RegisterRoutes(webhooks)

	api := router.Group("/api/v1")
	if a.redis != nil {
		api.Use(middleware.Idempotency(a.redis, middleware.DefaultIdempotencyConfig()))
	}
	a.paymentHandler.RegisterRoutes(api)
	a.requestHandler.RegisterRoutes(api)

	return router
}

func (a *App) handleHealth(c *gin.Context) {
	sqlDB, err := a.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop flushes in-flight work during graceful shutdown.
func (a *App) Stop() {
	// Let async event handlers (notifications) finish before closing
	// their backing resources.
	a.eventBus.Wait()

	if a.redis != nil {
		if err := cache.Close(a.redis); err != nil {
			a.logger.Error("failed to close redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Error("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
