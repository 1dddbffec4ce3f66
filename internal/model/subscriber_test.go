package model

import (
	"testing"
	"time"
)

func TestEventListScanAndContains(t *testing.T) {
	var l EventList
	if err := l.Scan([]byte(`["user.created","user.updated"]`)); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(l) != 2 {
		t.Fatalf("len = %d, want 2", len(l))
	}
	if !l.Contains("user.created") {
		t.Error("Contains(user.created) = false")
	}
	if l.Contains("user.deleted") {
		t.Error("Contains(user.deleted) = true")
	}
	// exact match only, no patterns
	if l.Contains("user.*") || l.Contains("user") {
		t.Error("non-exact names matched")
	}
}

func TestEventListScanNull(t *testing.T) {
	l := EventList{"x"}
	if err := l.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if l != nil {
		t.Errorf("expected nil list, got %v", l)
	}
}

func TestEventListValueNilIsEmptyArray(t *testing.T) {
	var l EventList
	v, err := l.Value()
	if err != nil {
		t.Fatal(err)
	}
	if string(v.([]byte)) != "[]" {
		t.Errorf("Value() = %s, want []", v)
	}
}

func TestHeaderMapRoundTrip(t *testing.T) {
	var h HeaderMap
	if err := h.Scan(`{"X-Env":"prod","X-Team":"billing"}`); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if h["X-Env"] != "prod" || h["X-Team"] != "billing" {
		t.Errorf("scanned map = %v", h)
	}
	if err := h.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if h != nil {
		t.Errorf("expected nil map, got %v", h)
	}
}

func TestSubscriberTimeout(t *testing.T) {
	if got := (Subscriber{TimeoutMs: 5000}).Timeout(); got != 5*time.Second {
		t.Errorf("Timeout() = %s, want 5s", got)
	}
	if got := (Subscriber{}).Timeout(); got != 30*time.Second {
		t.Errorf("default Timeout() = %s, want 30s", got)
	}
	if got := (Subscriber{TimeoutMs: -1}).Timeout(); got != 30*time.Second {
		t.Errorf("negative TimeoutMs Timeout() = %s, want 30s", got)
	}
}

func TestDeliveryStatusValid(t *testing.T) {
	for _, s := range []DeliveryStatus{DeliveryPending, DeliverySuccess, DeliveryFailed} {
		if !s.Valid() {
			t.Errorf("%s not valid", s)
		}
	}
	if DeliveryStatus("retrying").Valid() {
		t.Error("unknown status reported valid")
	}
}
