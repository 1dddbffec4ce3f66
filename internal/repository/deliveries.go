package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/institutehub/webhook-gateway/internal/model"
	"github.com/institutehub/webhook-gateway/internal/util"
)

// DeliveriesRepository is the durable delivery ledger. A record is
// created pending before any attempt and updated to exactly one terminal
// state; the attempt counter only increases and a terminal status is
// never reverted to pending.
type DeliveriesRepository interface {
	CreatePending(ctx context.Context, subscriberID, event string, payload []byte) (string, error)
	MarkSuccess(ctx context.Context, id string, statusCode int, responseBody string, attempts int) error
	MarkFailure(ctx context.Context, id string, errMsg string, attempts int) error
	Get(ctx context.Context, id string) (*model.Delivery, error)
	List(ctx context.Context, f model.DeliveryFilter) ([]model.Delivery, error)
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

const deliveryColumns = `
	id, subscriber_id, event, payload, status, attempts,
	response_code, response_body, error, created_at, delivered_at
`

// CreatePending inserts a fresh pending record and returns its ULID.
func (r *DeliveriesRepositoryImpl) CreatePending(ctx context.Context, subscriberID, event string, payload []byte) (string, error) {
	id := util.New()
	const q = `
		INSERT INTO deliveries
		    (id, subscriber_id, event, payload, status, attempts, response_body, created_at)
		VALUES
		    (?,  ?,             ?,     ?,       'pending', 0,     '',            NOW())
	`
	if _, err := r.db.ExecContext(ctx, q, id, subscriberID, event, payload); err != nil {
		return "", err
	}
	return id, nil
}

func (r *DeliveriesRepositoryImpl) MarkSuccess(ctx context.Context, id string, statusCode int, responseBody string, attempts int) error {
	const q = `
		UPDATE deliveries
		   SET status = 'success', response_code = ?, response_body = ?,
		       error = '', attempts = ?, delivered_at = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, statusCode, responseBody, attempts, id)
	return err
}

func (r *DeliveriesRepositoryImpl) MarkFailure(ctx context.Context, id string, errMsg string, attempts int) error {
	const q = `
		UPDATE deliveries
		   SET status = 'failed', error = ?, attempts = ?
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, errMsg, attempts, id)
	return err
}

func (r *DeliveriesRepositoryImpl) Get(ctx context.Context, id string) (*model.Delivery, error) {
	var d model.Delivery
	err := r.db.GetContext(ctx, &d, `
		SELECT `+deliveryColumns+`
		  FROM deliveries
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns deliveries newest first, optionally scoped to one
// subscriber.
func (r *DeliveriesRepositoryImpl) List(ctx context.Context, f model.DeliveryFilter) ([]model.Delivery, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	q := `SELECT ` + deliveryColumns + ` FROM deliveries`
	args := []any{}
	if f.SubscriberID != "" {
		q += ` WHERE subscriber_id = ?`
		args = append(args, f.SubscriberID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var rows []model.Delivery
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
