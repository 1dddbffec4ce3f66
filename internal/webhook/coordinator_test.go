package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/institutehub/webhook-gateway/internal/model"
)

// fakeAttempter scripts per-attempt outcomes and records what it saw.
type fakeAttempter struct {
	mu       sync.Mutex
	attempts []Attempt
	times    []time.Time
	script   []attemptOutcome
}

type attemptOutcome struct {
	res AttemptResult
	err error
}

func (f *fakeAttempter) Do(_ context.Context, a Attempt) (AttemptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.attempts)
	f.attempts = append(f.attempts, a)
	f.times = append(f.times, time.Now())
	if n < len(f.script) {
		return f.script[n].res, f.script[n].err
	}
	// past the script: keep failing
	return AttemptResult{}, &DeliveryError{Kind: ErrKindNetwork, Message: "unscripted"}
}

func (f *fakeAttempter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func newTestCoordinator(exec Attempter) *Coordinator {
	c := NewCoordinator(exec, nil)
	c.BackoffBase = 5 * time.Millisecond
	c.BackoffCap = 200 * time.Millisecond
	return c
}

func testSubscriber(max int) model.Subscriber {
	return model.Subscriber{
		ID:          "01J0000000000000000000SUB1",
		URL:         "http://example.invalid/hook",
		Secret:      "s",
		MaxAttempts: max,
		TimeoutMs:   1000,
	}
}

func TestCoordinatorSuccessFirstAttempt(t *testing.T) {
	fake := &fakeAttempter{script: []attemptOutcome{
		{res: AttemptResult{StatusCode: 200, Body: "ok"}},
	}}
	c := newTestCoordinator(fake)

	out := c.Deliver(context.Background(), testSubscriber(3), []byte(`{"a":1}`))
	if out.Status != model.DeliverySuccess {
		t.Fatalf("Status = %s, want success", out.Status)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
	if out.StatusCode != 200 || out.ResponseBody != "ok" {
		t.Errorf("result = %d %q", out.StatusCode, out.ResponseBody)
	}
	if fake.count() != 1 {
		t.Errorf("executor called %d times, want 1", fake.count())
	}
}

func TestCoordinatorStopsRetryingOnSuccess(t *testing.T) {
	fake := &fakeAttempter{script: []attemptOutcome{
		{err: &DeliveryError{Kind: ErrKindHTTPStatus, Code: 500, Message: "boom"}},
		{res: AttemptResult{StatusCode: 200, Body: "ok"}},
	}}
	c := newTestCoordinator(fake)

	out := c.Deliver(context.Background(), testSubscriber(5), []byte(`{}`))
	if out.Status != model.DeliverySuccess {
		t.Fatalf("Status = %s, want success", out.Status)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
	if fake.count() != 2 {
		t.Errorf("executor called %d times, want 2", fake.count())
	}
}

func TestCoordinatorExhaustsAndReportsLastError(t *testing.T) {
	fake := &fakeAttempter{script: []attemptOutcome{
		{err: &DeliveryError{Kind: ErrKindNetwork, Message: "refused"}},
		{err: &DeliveryError{Kind: ErrKindTimeout, Message: "no response"}},
		{err: &DeliveryError{Kind: ErrKindHTTPStatus, Code: 503, Message: "busy"}},
	}}
	c := newTestCoordinator(fake)

	out := c.Deliver(context.Background(), testSubscriber(3), []byte(`{}`))
	if out.Status != model.DeliveryFailed {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	if out.Err == nil || out.Err.Kind != ErrKindHTTPStatus || out.Err.Code != 503 {
		t.Errorf("Err = %+v, want the last attempt's http_status 503", out.Err)
	}
	if fake.count() != 3 {
		t.Errorf("executor called %d times, want 3", fake.count())
	}
}

func TestCoordinatorSingleAttemptNoBackoff(t *testing.T) {
	fake := &fakeAttempter{}
	c := newTestCoordinator(fake)

	start := time.Now()
	out := c.Deliver(context.Background(), testSubscriber(1), []byte(`{}`))
	if out.Status != model.DeliveryFailed || out.Attempts != 1 {
		t.Fatalf("got %s after %d attempts, want failed after 1", out.Status, out.Attempts)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("single-attempt delivery slept %s", elapsed)
	}
}

func TestCoordinatorBackoffDoubles(t *testing.T) {
	fake := &fakeAttempter{}
	c := newTestCoordinator(fake)
	c.BackoffBase = 20 * time.Millisecond // waits: 40ms, 80ms

	c.Deliver(context.Background(), testSubscriber(3), []byte(`{}`))
	if fake.count() != 3 {
		t.Fatalf("executor called %d times, want 3", fake.count())
	}

	gap1 := fake.times[1].Sub(fake.times[0])
	gap2 := fake.times[2].Sub(fake.times[1])
	if gap1 < 40*time.Millisecond {
		t.Errorf("first wait %s, want >= 40ms", gap1)
	}
	if gap2 < 80*time.Millisecond {
		t.Errorf("second wait %s, want >= 80ms", gap2)
	}
	if gap2 < gap1 {
		t.Errorf("backoff did not grow: %s then %s", gap1, gap2)
	}
}

func TestCoordinatorBackoffCap(t *testing.T) {
	c := NewCoordinator(&fakeAttempter{}, nil)
	c.BackoffBase = time.Second
	c.BackoffCap = 60 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := c.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestCoordinatorCancelDuringBackoff(t *testing.T) {
	fake := &fakeAttempter{}
	c := newTestCoordinator(fake)
	c.BackoffBase = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	out := c.Deliver(ctx, testSubscriber(5), []byte(`{}`))
	if out.Status != model.DeliveryFailed {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (cancelled before second attempt)", out.Attempts)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("cancel did not interrupt backoff, took %s", elapsed)
	}
}

func TestCoordinatorSendsSameBodyEveryAttempt(t *testing.T) {
	fake := &fakeAttempter{}
	c := newTestCoordinator(fake)

	body := []byte(`{"event":"user.created","timestamp":"2026-01-02T15:04:05Z","data":{"id":7},"subscriberId":"s"}`)
	c.Deliver(context.Background(), testSubscriber(3), body)

	for i, a := range fake.attempts {
		if string(a.Body) != string(body) {
			t.Errorf("attempt %d body drifted: %s", i+1, a.Body)
		}
	}
}
