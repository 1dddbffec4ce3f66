package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/institutehub/webhook-gateway/internal/config"
	"github.com/institutehub/webhook-gateway/internal/http/middleware"
	"github.com/institutehub/webhook-gateway/internal/metrics"
	"github.com/institutehub/webhook-gateway/internal/repository"
	"github.com/institutehub/webhook-gateway/internal/service/events"
	"github.com/institutehub/webhook-gateway/internal/webhook"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, zlog *zap.Logger) *Server {
	// repos (MySQL)
	clientsRepo := repository.NewClientsRepository(mysqlDB)
	subscribersRepo := repository.NewCachedSubscribersRepository(
		repository.NewSubscribersRepository(mysqlDB),
		rds,
		cfg.Webhooks.SubscriberCacheTTL,
	)
	deliveriesRepo := repository.NewDeliveriesRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)

	// repos (ClickHouse)
	chDeliveriesRepo := repository.NewCHDeliveriesRepository(clickhouseDB)

	// delivery pipeline
	executor := webhook.NewExecutor()
	coordinator := webhook.NewCoordinator(executor, zlog)
	if cfg.Webhooks.BackoffBase > 0 {
		coordinator.BackoffBase = cfg.Webhooks.BackoffBase
	}
	if cfg.Webhooks.BackoffCap > 0 {
		coordinator.BackoffCap = cfg.Webhooks.BackoffCap
	}
	dispatcher := webhook.NewDispatcher(
		subscribersRepo,
		deliveriesRepo,
		coordinator,
		executor,
		cfg.Webhooks.WorkerCount,
		zlog,
	)

	// services
	eventsSvc := events.New(outboxRepo)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(clientsRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:client:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)

	v1.POST("/webhooks", createWebhookHandler(subscribersRepo))
	v1.GET("/webhooks", listWebhooksHandler(subscribersRepo))
	v1.GET("/webhooks/:id", getWebhookHandler(subscribersRepo))
	v1.PATCH("/webhooks/:id", updateWebhookHandler(subscribersRepo))
	v1.DELETE("/webhooks/:id", deleteWebhookHandler(subscribersRepo))
	v1.POST("/webhooks/test", testWebhookHandler(dispatcher))

	v1.POST("/events", publishEventHandler(eventsSvc))
	v1.POST("/events/trigger", triggerEventHandler(dispatcher))

	v1.GET("/deliveries", listDeliveriesHandler(deliveriesRepo))
	v1.GET("/deliveries/:id", getDeliveryHandler(deliveriesRepo))
	v1.POST("/deliveries/:id/retry", retryDeliveryHandler(dispatcher))

	v1.GET("/stats", statsHandler(dispatcher))
	v1.GET("/reports/deliveries", deliveriesReportHandler(chDeliveriesRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
