package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultMaxAttempts bounds the retry sequence when a registration
	// does not set its own limit.
	DefaultMaxAttempts = 3
	// DefaultTimeoutMs bounds a single delivery attempt.
	DefaultTimeoutMs = 30_000
)

// EventList is a set of event names stored as a JSON array column.
type EventList []string

func (l EventList) Value() (driver.Value, error) {
	if l == nil {
		l = EventList{}
	}
	return json.Marshal(l)
}

func (l *EventList) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("scan EventList: unsupported type %T", src)
	}
}

// Contains reports whether the list holds the exact event name.
// Matching is exact string comparison; no patterns.
func (l EventList) Contains(event string) bool {
	for _, e := range l {
		if e == event {
			return true
		}
	}
	return false
}

// HeaderMap is a static header set stored as a JSON object column and
// merged into every outbound request.
type HeaderMap map[string]string

func (h HeaderMap) Value() (driver.Value, error) {
	if h == nil {
		h = HeaderMap{}
	}
	return json.Marshal(h)
}

func (h *HeaderMap) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	case nil:
		*h = nil
		return nil
	default:
		return fmt.Errorf("scan HeaderMap: unsupported type %T", src)
	}
}

// Subscriber is a webhook registration persisted in the subscribers table.
// It is never deleted on the delivery path; deactivation removes it from
// fan-out while keeping delivery history intact.
type Subscriber struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	URL         string    `db:"url" json:"url"`
	Events      EventList `db:"events" json:"events"`
	Secret      string    `db:"secret" json:"secret,omitempty"`
	Headers     HeaderMap `db:"headers" json:"headers,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	MaxAttempts int       `db:"max_attempts" json:"max_attempts"`
	TimeoutMs   int       `db:"timeout_ms" json:"timeout_ms"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Timeout returns the per-attempt deadline, falling back to the default.
func (s Subscriber) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return time.Duration(DefaultTimeoutMs) * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Subscribes reports whether the subscriber wants the given event.
func (s Subscriber) Subscribes(event string) bool {
	return s.Events.Contains(event)
}
