package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/institutehub/webhook-gateway/internal/model"
)

// CHDeliveriesRepository lists delivery history from ClickHouse (final
// view, replicated off the authoritative MySQL ledger for bulk audit
// reports).
type CHDeliveriesRepository interface {
	List(ctx context.Context, subscriberID, event string, status model.DeliveryStatus, limit, offset int) ([]model.Delivery, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) List(ctx context.Context, subscriberID, event string, status model.DeliveryStatus, limit, offset int) ([]model.Delivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, subscriber_id, event, payload, status, attempts,
		       response_code, response_body, error, created_at, delivered_at
		FROM whgw.deliveries_latest
		WHERE 1 = 1
	`
	args := []any{}

	if subscriberID != "" {
		q += " AND subscriber_id = ?"
		args = append(args, subscriberID)
	}
	if event != "" {
		q += " AND event = ?"
		args = append(args, event)
	}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.Delivery
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
