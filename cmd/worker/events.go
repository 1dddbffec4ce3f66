package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/institutehub/webhook-gateway/internal/config"
	"github.com/institutehub/webhook-gateway/internal/db"
	"github.com/institutehub/webhook-gateway/internal/kafka"
	"github.com/institutehub/webhook-gateway/internal/logger"
	"github.com/institutehub/webhook-gateway/internal/metrics"
	"github.com/institutehub/webhook-gateway/internal/repository"
	"github.com/institutehub/webhook-gateway/internal/service/events"
	"github.com/institutehub/webhook-gateway/internal/webhook"
	"github.com/institutehub/webhook-gateway/internal/worker"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Run the event fan-out worker",
	RunE:  runEvents,
}

func runEvents(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zlog := logger.Init(cfg.Log.Level)
	defer func() { _ = zlog.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	rdb, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	// 3) repositories
	subscribersRepo := repository.NewCachedSubscribersRepository(
		repository.NewSubscribersRepository(dbx),
		rdb,
		cfg.Webhooks.SubscriberCacheTTL,
	)
	deliveriesRepo := repository.NewDeliveriesRepository(dbx)

	// 4) delivery pipeline
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

	// 5) kafka consumer
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "whgw-events"
	}

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          events.EventsKafkaTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewEvents(consumer, dispatcher, zlog)
	if cfg.Webhooks.EventWorkerCount > 0 {
		w.Workers = cfg.Webhooks.EventWorkerCount
	}

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> events worker started topic=%s group=%s workers=%d",
		events.EventsKafkaTopic, groupID, w.Workers)

	return w.Run(ctx)
}
