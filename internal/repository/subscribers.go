package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/institutehub/webhook-gateway/internal/model"
)

// SubscribersRepository defines persistence for webhook registrations.
type SubscribersRepository interface {
	Insert(ctx context.Context, s model.Subscriber) error
	Update(ctx context.Context, s model.Subscriber) error
	SetActive(ctx context.Context, id string, active bool) error
	GetByID(ctx context.Context, id string) (*model.Subscriber, error)
	List(ctx context.Context, limit, offset int) ([]model.Subscriber, error)
	FindActiveByEvent(ctx context.Context, event string) ([]model.Subscriber, error)
	Counts(ctx context.Context) (total, active int64, err error)
}

type SubscribersRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscribersRepository(db *sqlx.DB) *SubscribersRepositoryImpl {
	return &SubscribersRepositoryImpl{db: db}
}

var _ SubscribersRepository = (*SubscribersRepositoryImpl)(nil)

const subscriberColumns = `
	id, name, url, events, secret, headers, is_active,
	max_attempts, timeout_ms, created_at, updated_at
`

func (r *SubscribersRepositoryImpl) Insert(ctx context.Context, s model.Subscriber) error {
	const q = `
		INSERT INTO subscribers
		    (id, name, url, events, secret, headers, is_active, max_attempts, timeout_ms, created_at, updated_at)
		VALUES
		    (?,  ?,    ?,   ?,      ?,      ?,       ?,         ?,            ?,          NOW(),      NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.Name, s.URL, s.Events, s.Secret, s.Headers, s.IsActive, s.MaxAttempts, s.TimeoutMs,
	)
	return err
}

func (r *SubscribersRepositoryImpl) Update(ctx context.Context, s model.Subscriber) error {
	const q = `
		UPDATE subscribers
		   SET name = ?, url = ?, events = ?, secret = ?, headers = ?,
		       is_active = ?, max_attempts = ?, timeout_ms = ?, updated_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q,
		s.Name, s.URL, s.Events, s.Secret, s.Headers, s.IsActive, s.MaxAttempts, s.TimeoutMs, s.ID,
	)
	return err
}

// SetActive toggles fan-out membership. Deactivation is the only removal
// on the delivery path; rows are never deleted so history stays intact.
func (r *SubscribersRepositoryImpl) SetActive(ctx context.Context, id string, active bool) error {
	const q = `UPDATE subscribers SET is_active = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, active, id)
	return err
}

func (r *SubscribersRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Subscriber, error) {
	var s model.Subscriber
	err := r.db.GetContext(ctx, &s, `
		SELECT `+subscriberColumns+`
		  FROM subscribers
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscribersRepositoryImpl) List(ctx context.Context, limit, offset int) ([]model.Subscriber, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []model.Subscriber
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+subscriberColumns+`
		  FROM subscribers
		 ORDER BY id
		 LIMIT ? OFFSET ?
	`, limit, offset)
	return rows, err
}

// FindActiveByEvent resolves fan-out targets: active subscribers whose
// events array contains the exact event name. ULID ids keep the
// iteration order stable (creation order).
func (r *SubscribersRepositoryImpl) FindActiveByEvent(ctx context.Context, event string) ([]model.Subscriber, error) {
	var rows []model.Subscriber
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+subscriberColumns+`
		  FROM subscribers
		 WHERE is_active = 1
		   AND JSON_CONTAINS(events, JSON_QUOTE(?))
		 ORDER BY id
	`, event)
	return rows, err
}

func (r *SubscribersRepositoryImpl) Counts(ctx context.Context) (total, active int64, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM subscribers
	`).Scan(&total, &active)
	return total, active, err
}
