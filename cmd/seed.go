package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/institutehub/webhook-gateway/internal/config"
	"github.com/institutehub/webhook-gateway/internal/db"
	"github.com/institutehub/webhook-gateway/internal/model"
	"github.com/institutehub/webhook-gateway/internal/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo clients and subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo clients...")
		if err := seedClients(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seeding demo subscribers...")
		if err := seedSubscribers(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

// seedClients inserts deterministic demo API clients (idempotent).
func seedClients(dbx *sqlx.DB) error {
	clients := []model.Client{
		{
			Name:         "Admin Console",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(50),
		},
		{
			Name:         "Institution Service",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(100),
		},
		{
			Name:         "Report Service",
			APIKey:       "33333333333333333333333333333333",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Suspended Client",
			APIKey:       "44444444444444444444444444444444",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO clients
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name        = VALUES(name),
    status      = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at  = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, c := range clients {
		if _, err := tx.Exec(q, c.Name, c.APIKey, c.Status, c.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert client %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clients: %w", err)
	}
	return nil
}

// seedSubscribers inserts demo webhook registrations pointing at a local
// echo endpoint (idempotent on name).
func seedSubscribers(dbx *sqlx.DB) error {
	subs := []model.Subscriber{
		{
			Name:        "CRM Sync",
			URL:         "http://127.0.0.1:9100/hooks/crm",
			Events:      model.EventList{"user.created", "user.updated"},
			Secret:      "demo-crm-secret",
			IsActive:    true,
			MaxAttempts: 3,
			TimeoutMs:   model.DefaultTimeoutMs,
		},
		{
			Name:        "Billing Notifier",
			URL:         "http://127.0.0.1:9100/hooks/billing",
			Events:      model.EventList{"institution.created", "institution.updated"},
			Headers:     model.HeaderMap{"X-Env": "demo"},
			IsActive:    true,
			MaxAttempts: 5,
			TimeoutMs:   5_000,
		},
		{
			Name:        "Report Archive",
			URL:         "http://127.0.0.1:9100/hooks/reports",
			Events:      model.EventList{"report.generated"},
			IsActive:    false,
			MaxAttempts: 3,
			TimeoutMs:   model.DefaultTimeoutMs,
		},
	}

	const q = `
INSERT INTO subscribers
    (id, name, url, events, secret, headers, is_active, max_attempts, timeout_ms, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    url          = VALUES(url),
    events       = VALUES(events),
    secret       = VALUES(secret),
    headers      = VALUES(headers),
    is_active    = VALUES(is_active),
    max_attempts = VALUES(max_attempts),
    timeout_ms   = VALUES(timeout_ms),
    updated_at   = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, s := range subs {
		if _, err := tx.Exec(q,
			util.New(), s.Name, s.URL, s.Events, s.Secret, s.Headers,
			s.IsActive, s.MaxAttempts, s.TimeoutMs, now, now,
		); err != nil {
			return fmt.Errorf("insert subscriber %q: %w", s.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subscribers: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }
