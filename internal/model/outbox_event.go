package model

import "time"

type OutboxEvent struct {
	ID          int64      `db:"id"`
	Aggregate   string     `db:"aggregate"`    // e.g. "event"
	AggregateID string     `db:"aggregate_id"` // event ULID
	Topic       string     `db:"topic"`
	Payload     []byte     `db:"payload"`
	PublishedAt *time.Time `db:"published_at"`
	CreatedAt   time.Time  `db:"created_at"`
}
