package model

import "encoding/json"

// Envelope is the JSON body POSTed to a subscriber endpoint. It is
// serialized once per fan-out target; the timestamp is stamped at
// construction and never refreshed on retry, so the same delivery sends
// byte-identical bodies on every attempt.
type Envelope struct {
	Event        string          `json:"event"`
	Timestamp    string          `json:"timestamp"` // RFC 3339, UTC
	Data         json.RawMessage `json:"data"`
	SubscriberID string          `json:"subscriberId"`
}

// EventMessage is the payload published to Kafka via the Debezium outbox
// SMT and consumed by the events worker.
type EventMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
