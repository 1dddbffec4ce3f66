package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string {
	return string(s)
}

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryPending || s == DeliverySuccess || s == DeliveryFailed
}

// Delivery is one logical attempt-sequence of sending one event to one
// subscriber, persisted in the deliveries table. It is created pending
// before the first attempt and moved to exactly one terminal state.
// The payload column holds the exact envelope bytes put on the wire;
// retries resend them verbatim.
type Delivery struct {
	ID           string         `db:"id" json:"id"`
	SubscriberID string         `db:"subscriber_id" json:"subscriber_id"`
	Event        string         `db:"event" json:"event"`
	Payload      []byte         `db:"payload" json:"payload"`
	Status       DeliveryStatus `db:"status" json:"status"`
	Attempts     int            `db:"attempts" json:"attempts"`
	ResponseCode int            `db:"response_code" json:"response_code,omitempty"`
	ResponseBody string         `db:"response_body" json:"response_body,omitempty"`
	Error        string         `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	DeliveredAt  *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
}

// DeliveryFilter narrows ledger listings. Listings are newest first.
type DeliveryFilter struct {
	SubscriberID string
	Limit        int
}
