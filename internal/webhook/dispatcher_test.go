package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/institutehub/webhook-gateway/internal/model"
)

// fakeSubscriberStore serves a fixed registration set.
type fakeSubscriberStore struct {
	subs []model.Subscriber
	err  error
}

func (f *fakeSubscriberStore) FindActiveByEvent(_ context.Context, event string) ([]model.Subscriber, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Subscriber
	for _, s := range f.subs {
		if s.IsActive && s.Subscribes(event) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubscriberStore) GetByID(_ context.Context, id string) (*model.Subscriber, error) {
	for i := range f.subs {
		if f.subs[i].ID == id {
			s := f.subs[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeSubscriberStore) Counts(context.Context) (int64, int64, error) {
	var active int64
	for _, s := range f.subs {
		if s.IsActive {
			active++
		}
	}
	return int64(len(f.subs)), active, nil
}

// memLedger is an in-memory DeliveryLedger.
type memLedger struct {
	mu      sync.Mutex
	seq     int
	records map[string]*model.Delivery
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[string]*model.Delivery)}
}

func (l *memLedger) CreatePending(_ context.Context, subscriberID, event string, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := fmt.Sprintf("del-%04d", l.seq)
	cp := append([]byte(nil), payload...)
	l.records[id] = &model.Delivery{
		ID:           id,
		SubscriberID: subscriberID,
		Event:        event,
		Payload:      cp,
		Status:       model.DeliveryPending,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

func (l *memLedger) MarkSuccess(_ context.Context, id string, statusCode int, responseBody string, attempts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.records[id]
	if !ok {
		return fmt.Errorf("no such delivery %s", id)
	}
	now := time.Now()
	d.Status = model.DeliverySuccess
	d.ResponseCode = statusCode
	d.ResponseBody = responseBody
	d.Attempts = attempts
	d.DeliveredAt = &now
	return nil
}

func (l *memLedger) MarkFailure(_ context.Context, id string, errMsg string, attempts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.records[id]
	if !ok {
		return fmt.Errorf("no such delivery %s", id)
	}
	d.Status = model.DeliveryFailed
	d.Error = errMsg
	d.Attempts = attempts
	return nil
}

func (l *memLedger) Get(_ context.Context, id string) (*model.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.records[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (l *memLedger) List(_ context.Context, f model.DeliveryFilter) ([]model.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Delivery
	for _, d := range l.records {
		if f.SubscriberID != "" && d.SubscriberID != f.SubscriberID {
			continue
		}
		out = append(out, *d)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// routeAttempter scripts outcomes per URL; unknown URLs succeed.
type routeAttempter struct {
	mu     sync.Mutex
	byURL  map[string][]attemptOutcome
	calls  map[string]int
	bodies map[string][][]byte
}

func newRouteAttempter() *routeAttempter {
	return &routeAttempter{
		byURL:  make(map[string][]attemptOutcome),
		calls:  make(map[string]int),
		bodies: make(map[string][][]byte),
	}
}

func (r *routeAttempter) Do(_ context.Context, a Attempt) (AttemptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.calls[a.URL]
	r.calls[a.URL] = n + 1
	r.bodies[a.URL] = append(r.bodies[a.URL], append([]byte(nil), a.Body...))
	script := r.byURL[a.URL]
	if n < len(script) {
		return script[n].res, script[n].err
	}
	return AttemptResult{StatusCode: 200, Body: "ok"}, nil
}

func sub(id, url string, events ...string) model.Subscriber {
	return model.Subscriber{
		ID:          id,
		Name:        id,
		URL:         url,
		Events:      events,
		Secret:      "secret-" + id,
		IsActive:    true,
		MaxAttempts: 3,
		TimeoutMs:   1000,
	}
}

func newTestDispatcher(store *fakeSubscriberStore, ledger *memLedger, exec Attempter) *Dispatcher {
	coord := NewCoordinator(exec, nil)
	coord.BackoffBase = time.Millisecond
	coord.BackoffCap = 10 * time.Millisecond
	return NewDispatcher(store, ledger, coord, exec, 4, nil)
}

func TestTriggerFansOutToAllMatches(t *testing.T) {
	store := &fakeSubscriberStore{subs: []model.Subscriber{
		sub("sub-a", "http://a/hook", "user.created"),
		sub("sub-b", "http://b/hook", "user.created", "user.deleted"),
		sub("sub-c", "http://c/hook", "user.deleted"),
	}}
	ledger := newMemLedger()
	exec := newRouteAttempter()
	d := newTestDispatcher(store, ledger, exec)

	results, err := d.Trigger(context.Background(), "user.created", json.RawMessage(`{"id":1}`))
	if err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// subscriber-iteration order
	if results[0].SubscriberID != "sub-a" || results[1].SubscriberID != "sub-b" {
		t.Errorf("result order = %s, %s", results[0].SubscriberID, results[1].SubscriberID)
	}
	for _, r := range results {
		if r.Status != model.DeliverySuccess {
			t.Errorf("%s: status = %s", r.SubscriberID, r.Status)
		}
		if r.Attempts != 1 {
			t.Errorf("%s: attempts = %d", r.SubscriberID, r.Attempts)
		}
		if r.DeliveryID == "" {
			t.Errorf("%s: missing delivery id", r.SubscriberID)
		}
	}
	if exec.calls["http://c/hook"] != 0 {
		t.Error("non-matching subscriber was called")
	}
	if len(ledger.records) != 2 {
		t.Errorf("ledger holds %d records, want 2", len(ledger.records))
	}
}

func TestTriggerOneFailureDoesNotAffectOthers(t *testing.T) {
	store := &fakeSubscriberStore{subs: []model.Subscriber{
		sub("sub-a", "http://a/hook", "order.paid"),
		sub("sub-b", "http://b/hook", "order.paid"),
		sub("sub-c", "http://c/hook", "order.paid"),
	}}
	ledger := newMemLedger()
	exec := newRouteAttempter()
	// sub-b fails every attempt
	exec.byURL["http://b/hook"] = []attemptOutcome{
		{err: &DeliveryError{Kind: ErrKindNetwork, Message: "refused"}},
		{err: &DeliveryError{Kind: ErrKindNetwork, Message: "refused"}},
		{err: &DeliveryError{Kind: ErrKindNetwork, Message: "refused"}},
	}
	d := newTestDispatcher(store, ledger, exec)

	results, err := d.Trigger(context.Background(), "order.paid", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Status != model.DeliverySuccess || results[2].Status != model.DeliverySuccess {
		t.Error("healthy subscribers affected by the failing one")
	}
	if results[1].Status != model.DeliveryFailed || results[1].Attempts != 3 {
		t.Errorf("failing subscriber: %s after %d attempts, want failed after 3", results[1].Status, results[1].Attempts)
	}

	del, _ := ledger.Get(context.Background(), results[1].DeliveryID)
	if del.Status != model.DeliveryFailed || del.Error == "" {
		t.Errorf("failed delivery not recorded: %+v", del)
	}
}

func TestTriggerNoMatchesIsNotAnError(t *testing.T) {
	store := &fakeSubscriberStore{subs: []model.Subscriber{
		sub("sub-a", "http://a/hook", "user.created"),
	}}
	ledger := newMemLedger()
	d := newTestDispatcher(store, ledger, newRouteAttempter())

	results, err := d.Trigger(context.Background(), "report.generated", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if len(ledger.records) != 0 {
		t.Error("ledger written with no matching subscribers")
	}
}

func TestTriggerEnvelopeShape(t *testing.T) {
	store := &fakeSubscriberStore{subs: []model.Subscriber{
		sub("sub-a", "http://a/hook", "user.created"),
	}}
	ledger := newMemLedger()
	exec := newRouteAttempter()
	d := newTestDispatcher(store, ledger, exec)

	if _, err := d.Trigger(context.Background(), "user.created", json.RawMessage(`{"id":9}`)); err != nil {
		t.Fatal(err)
	}

	bodies := exec.bodies["http://a/hook"]
	if len(bodies) != 1 {
		t.Fatalf("got %d bodies", len(bodies))
	}
	var env model.Envelope
	if err := json.Unmarshal(bodies[0], &env); err != nil {
		t.Fatalf("envelope not valid JSON: %v", err)
	}
	if env.Event != "user.created" {
		t.Errorf("event = %q", env.Event)
	}
	if env.SubscriberID != "sub-a" {
		t.Errorf("subscriberId = %q", env.SubscriberID)
	}
	if string(env.Data) != `{"id":9}` {
		t.Errorf("data = %s", env.Data)
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC 3339: %v", env.Timestamp, err)
	}
}

func TestRetryResendsStoredPayloadVerbatim(t *testing.T) {
	store := &fakeSubscriberStore{subs: []model.Subscriber{
		sub("sub-a", "http://a/hook", "user.created"),
	}}
	ledger := newMemLedger()
	exec := newRouteAttempter()
	// all three automatic attempts fail, the manual retry succeeds
	exec.byURL["http://a/hook"] = []attemptOutcome{
		{err: &DeliveryError{Kind: ErrKindHTTPStatus, Code: 500, Message: "boom"}},
		{err: &DeliveryError{Kind: ErrKindHTTPStatus, Code: 500, Message: "boom"}},
		{err: &DeliveryError{Kind: ErrKindHTTPStatus, Code: 500, Message: "boom"}},
	}
	d := newTestDispatcher(store, ledger, exec)

	results, err := d.Trigger(context.Background(), "user.created", json.RawMessage(`{"id":3}`))
	if err != nil {
		t.Fatal(err)
	}
	failed := results[0]
	if failed.Status != model.DeliveryFailed {
		t.Fatalf("setup: expected failed delivery, got %s", failed.Status)
	}

	res, err := d.Retry(context.Background(), failed.DeliveryID)
	if err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if res.Status != model.DeliverySuccess {
		t.Fatalf("retry status = %s, want success", res.Status)
	}
	if res.DeliveryID != failed.DeliveryID {
		t.Errorf("retry updated %s, want same record %s", res.DeliveryID, failed.DeliveryID)
	}

	bodies := exec.bodies["http://a/hook"]
	if len(bodies) != 4 {
		t.Fatalf("got %d bodies, want 4 (3 automatic + 1 retry)", len(bodies))
	}
	for i := 1; i < len(bodies); i++ {
		if string(bodies[i]) != string(bodies[0]) {
			t.Errorf("attempt %d payload differs from the original", i+1)
		}
	}

	del, _ := ledger.Get(context.Background(), failed.DeliveryID)
	if del.Status != model.DeliverySuccess {
		t.Errorf("ledger status = %s after successful retry", del.Status)
	}
}

func TestRetryRejectsSucceededDelivery(t *testing.T) {
	store := &fakeSubscriberStore{subs: []model.Subscriber{
		sub("sub-a", "http://a/hook", "user.created"),
	}}
	ledger := newMemLedger()
	exec := newRouteAttempter()
	d := newTestDispatcher(store, ledger, exec)

	results, err := d.Trigger(context.Background(), "user.created", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	before := exec.calls["http://a/hook"]

	if _, err := d.Retry(context.Background(), results[0].DeliveryID); err != ErrAlreadySucceeded {
		t.Fatalf("Retry() error = %v, want ErrAlreadySucceeded", err)
	}
	if exec.calls["http://a/hook"] != before {
		t.Error("retry of a succeeded delivery hit the network")
	}
}

func TestRetryUnknownDelivery(t *testing.T) {
	d := newTestDispatcher(&fakeSubscriberStore{}, newMemLedger(), newRouteAttempter())
	if _, err := d.Retry(context.Background(), "del-nope"); err != ErrDeliveryNotFound {
		t.Fatalf("Retry() error = %v, want ErrDeliveryNotFound", err)
	}
}

func TestRetryClassifiesThenSucceeds(t *testing.T) {
	// the concrete sequence: 500, 500, then 200 "ok" within one sequence
	store := &fakeSubscriberStore{subs: []model.Subscriber{
		sub("sub-a", "http://a/hook", "invoice.created"),
	}}
	ledger := newMemLedger()
	exec := newRouteAttempter()
	exec.byURL["http://a/hook"] = []attemptOutcome{
		{err: &DeliveryError{Kind: ErrKindHTTPStatus, Code: 500, Message: "err"}},
		{err: &DeliveryError{Kind: ErrKindHTTPStatus, Code: 500, Message: "err"}},
		{res: AttemptResult{StatusCode: 200, Body: "ok"}},
	}
	d := newTestDispatcher(store, ledger, exec)

	results, err := d.Trigger(context.Background(), "invoice.created", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if r.Status != model.DeliverySuccess || r.Attempts != 3 {
		t.Fatalf("got %s after %d attempts, want success after 3", r.Status, r.Attempts)
	}

	del, _ := ledger.Get(context.Background(), r.DeliveryID)
	if del.ResponseCode != 200 || del.ResponseBody != "ok" || del.Attempts != 3 {
		t.Errorf("ledger record = %+v", del)
	}
	if del.DeliveredAt == nil {
		t.Error("delivered_at not set on success")
	}
}

func TestTestDeliveryBypassesLedger(t *testing.T) {
	ledger := newMemLedger()
	exec := newRouteAttempter()
	d := newTestDispatcher(&fakeSubscriberStore{}, ledger, exec)

	res, err := d.TestDelivery(context.Background(), TestRequest{
		URL:    "http://probe/hook",
		Secret: "s",
	})
	if err != nil {
		t.Fatalf("TestDelivery() error: %v", err)
	}
	if res.StatusCode != 200 {
		t.Errorf("StatusCode = %d", res.StatusCode)
	}
	if len(ledger.records) != 0 {
		t.Error("test delivery wrote to the ledger")
	}

	var env model.Envelope
	if err := json.Unmarshal(exec.bodies["http://probe/hook"][0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != TestEvent {
		t.Errorf("event = %q, want %q", env.Event, TestEvent)
	}
}

func TestTestDeliverySingleAttempt(t *testing.T) {
	exec := newRouteAttempter()
	exec.byURL["http://probe/hook"] = []attemptOutcome{
		{err: &DeliveryError{Kind: ErrKindHTTPStatus, Code: 500, Message: "err"}},
	}
	d := newTestDispatcher(&fakeSubscriberStore{}, newMemLedger(), exec)

	_, err := d.TestDelivery(context.Background(), TestRequest{URL: "http://probe/hook"})
	if err == nil {
		t.Fatal("expected error from failing endpoint")
	}
	if exec.calls["http://probe/hook"] != 1 {
		t.Errorf("test delivery made %d attempts, want 1", exec.calls["http://probe/hook"])
	}
}

func TestStatisticsAggregatesRecentWindow(t *testing.T) {
	store := &fakeSubscriberStore{subs: []model.Subscriber{
		sub("sub-a", "http://a/hook", "user.created"),
		sub("sub-b", "http://b/hook", "user.created"),
		{ID: "sub-c", Name: "sub-c", URL: "http://c/hook", Events: model.EventList{"x"}, IsActive: false, MaxAttempts: 1},
	}}
	ledger := newMemLedger()
	exec := newRouteAttempter()
	exec.byURL["http://b/hook"] = []attemptOutcome{
		{err: &DeliveryError{Kind: ErrKindNetwork, Message: "down"}},
		{err: &DeliveryError{Kind: ErrKindNetwork, Message: "down"}},
		{err: &DeliveryError{Kind: ErrKindNetwork, Message: "down"}},
	}
	d := newTestDispatcher(store, ledger, exec)

	if _, err := d.Trigger(context.Background(), "user.created", json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}

	st, err := d.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics() error: %v", err)
	}
	if st.Subscribers.Total != 3 || st.Subscribers.Active != 2 {
		t.Errorf("subscribers = %+v", st.Subscribers)
	}
	if st.Deliveries.Total != 2 || st.Deliveries.Success != 1 || st.Deliveries.Failed != 1 {
		t.Errorf("deliveries = %+v", st.Deliveries)
	}
	if st.ByEvent["user.created"] != 2 {
		t.Errorf("by_event = %v", st.ByEvent)
	}
}

func TestStatisticsEmptyLedger(t *testing.T) {
	d := newTestDispatcher(&fakeSubscriberStore{}, newMemLedger(), newRouteAttempter())
	st, err := d.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics() error: %v", err)
	}
	if st.Deliveries.Total != 0 || st.Deliveries.Success != 0 || st.Deliveries.Failed != 0 || st.Deliveries.Pending != 0 {
		t.Errorf("deliveries = %+v, want zeros", st.Deliveries)
	}
	if len(st.ByEvent) != 0 {
		t.Errorf("by_event = %v, want empty", st.ByEvent)
	}
}
