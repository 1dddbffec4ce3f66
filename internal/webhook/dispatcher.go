package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/institutehub/webhook-gateway/internal/metrics"
	"github.com/institutehub/webhook-gateway/internal/model"
)

const (
	// DefaultWorkerCount bounds concurrent subscriber deliveries per
	// fan-out so one slow or backing-off endpoint cannot starve others.
	DefaultWorkerCount = 16
	// DefaultStatsWindow bounds the recent-deliveries scan in Statistics.
	DefaultStatsWindow = 20

	// TestEvent is the event name used for ad-hoc test deliveries.
	TestEvent = "webhook.test"
)

// SubscriberStore resolves webhook registrations.
type SubscriberStore interface {
	FindActiveByEvent(ctx context.Context, event string) ([]model.Subscriber, error)
	GetByID(ctx context.Context, id string) (*model.Subscriber, error)
	Counts(ctx context.Context) (total, active int64, err error)
}

// DeliveryLedger durably records deliveries and their outcomes. Each
// fan-out target gets its own pending record before the first attempt,
// and exactly one terminal update afterwards.
type DeliveryLedger interface {
	CreatePending(ctx context.Context, subscriberID, event string, payload []byte) (string, error)
	MarkSuccess(ctx context.Context, id string, statusCode int, responseBody string, attempts int) error
	MarkFailure(ctx context.Context, id string, errMsg string, attempts int) error
	Get(ctx context.Context, id string) (*model.Delivery, error)
	List(ctx context.Context, f model.DeliveryFilter) ([]model.Delivery, error)
}

// DeliveryResult is the per-subscriber terminal outcome returned to the
// producer that triggered the event.
type DeliveryResult struct {
	DeliveryID   string               `json:"delivery_id,omitempty"`
	SubscriberID string               `json:"subscriber_id"`
	Event        string               `json:"event"`
	Status       model.DeliveryStatus `json:"status"`
	Attempts     int                  `json:"attempts"`
	ResponseCode int                  `json:"response_code,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Stats is the Statistics aggregation output.
type Stats struct {
	Subscribers SubscriberStats `json:"subscribers"`
	Deliveries  DeliveryStats   `json:"deliveries"`
	ByEvent     map[string]int  `json:"by_event"`
}

type SubscriberStats struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

type DeliveryStats struct {
	Window  int `json:"window"` // size of the recent window inspected
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// TestRequest describes an ad-hoc single-attempt delivery against an
// endpoint that is not (yet) a persisted subscriber.
type TestRequest struct {
	URL     string
	Secret  string
	Headers map[string]string
	Event   string
	Data    json.RawMessage
	Timeout time.Duration
}

// Dispatcher fans events out to matching subscribers. All collaborators
// are injected; nothing is constructed at import time.
type Dispatcher struct {
	subs   SubscriberStore
	ledger DeliveryLedger
	coord  *Coordinator
	exec   Attempter // test-delivery path, bypasses coordinator and ledger
	logger *zap.Logger

	workers     int
	statsWindow int
}

func NewDispatcher(subs SubscriberStore, ledger DeliveryLedger, coord *Coordinator, exec Attempter, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		subs:        subs,
		ledger:      ledger,
		coord:       coord,
		exec:        exec,
		logger:      logger,
		workers:     workers,
		statsWindow: DefaultStatsWindow,
	}
}

// Trigger resolves all active subscribers matching event (exact name
// match) and delivers to each independently. One result per matched
// subscriber, in subscriber-iteration order; a failure for one never
// prevents or fails delivery to the rest, and Trigger itself only errors
// when the subscriber lookup does. Zero matches is not an error.
func (d *Dispatcher) Trigger(ctx context.Context, event string, data json.RawMessage) ([]DeliveryResult, error) {
	metrics.EventsTriggeredTotal.WithLabelValues(event).Inc()

	subs, err := d.subs.FindActiveByEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("find subscribers: %w", err)
	}

	results := make([]DeliveryResult, len(subs))
	if len(subs) == 0 {
		return results, nil
	}

	// One timestamp per logical event; every subscriber's envelope and
	// every retry carries the same value.
	ts := time.Now().UTC().Format(time.RFC3339)

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub model.Subscriber) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = d.deliverOne(ctx, sub, event, ts, data)
		}(i, sub)
	}
	wg.Wait()

	return results, nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, sub model.Subscriber, event, ts string, data json.RawMessage) DeliveryResult {
	env := model.Envelope{
		Event:        event,
		Timestamp:    ts,
		Data:         data,
		SubscriberID: sub.ID,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return DeliveryResult{
			SubscriberID: sub.ID,
			Event:        event,
			Status:       model.DeliveryFailed,
			Error:        "marshal envelope: " + err.Error(),
		}
	}

	id, err := d.ledger.CreatePending(ctx, sub.ID, event, body)
	if err != nil {
		d.logger.Error("create pending delivery failed",
			zap.String("subscriber_id", sub.ID),
			zap.String("event", event),
			zap.Error(err),
		)
		return DeliveryResult{
			SubscriberID: sub.ID,
			Event:        event,
			Status:       model.DeliveryFailed,
			Error:        "ledger: " + err.Error(),
		}
	}

	out := d.coord.Deliver(ctx, sub, body)
	return d.finish(ctx, id, sub.ID, event, out)
}

// finish writes the terminal ledger state and shapes the result.
func (d *Dispatcher) finish(ctx context.Context, deliveryID, subscriberID, event string, out Outcome) DeliveryResult {
	res := DeliveryResult{
		DeliveryID:   deliveryID,
		SubscriberID: subscriberID,
		Event:        event,
		Status:       out.Status,
		Attempts:     out.Attempts,
	}

	if out.Status == model.DeliverySuccess {
		res.ResponseCode = out.StatusCode
		if err := d.ledger.MarkSuccess(ctx, deliveryID, out.StatusCode, out.ResponseBody, out.Attempts); err != nil {
			d.logger.Error("mark delivery success failed", zap.String("delivery_id", deliveryID), zap.Error(err))
		}
	} else {
		if out.Err != nil {
			res.Error = out.Err.Error()
			if out.Err.Kind == ErrKindHTTPStatus {
				res.ResponseCode = out.Err.Code
			}
		}
		if err := d.ledger.MarkFailure(ctx, deliveryID, res.Error, out.Attempts); err != nil {
			d.logger.Error("mark delivery failure failed", zap.String("delivery_id", deliveryID), zap.Error(err))
		}
	}

	metrics.DeliveriesTotal.WithLabelValues(out.Status.String(), event).Inc()
	d.logger.Info("delivery finished",
		zap.String("delivery_id", deliveryID),
		zap.String("subscriber_id", subscriberID),
		zap.String("event", event),
		zap.String("status", out.Status.String()),
		zap.Int("attempts", out.Attempts),
	)
	return res
}

// Retry re-runs a recorded delivery with a fresh attempt sequence. The
// stored payload bytes are resent verbatim (same event, same timestamp:
// a retry is not a new logical event) and the outcome updates the same
// delivery record. Retrying a delivery that already succeeded is
// rejected with ErrAlreadySucceeded.
func (d *Dispatcher) Retry(ctx context.Context, deliveryID string) (DeliveryResult, error) {
	del, err := d.ledger.Get(ctx, deliveryID)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("get delivery: %w", err)
	}
	if del == nil {
		return DeliveryResult{}, ErrDeliveryNotFound
	}
	if del.Status == model.DeliverySuccess {
		return DeliveryResult{}, ErrAlreadySucceeded
	}

	sub, err := d.subs.GetByID(ctx, del.SubscriberID)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("get subscriber: %w", err)
	}
	if sub == nil {
		return DeliveryResult{}, ErrSubscriberNotFound
	}

	out := d.coord.Deliver(ctx, *sub, del.Payload)
	return d.finish(ctx, del.ID, sub.ID, del.Event, out), nil
}

// TestDelivery performs exactly one attempt against an ad-hoc endpoint
// and returns the raw result. No ledger record, no retries; failures
// surface directly to the caller.
func (d *Dispatcher) TestDelivery(ctx context.Context, req TestRequest) (AttemptResult, error) {
	event := req.Event
	if event == "" {
		event = TestEvent
	}
	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(model.Envelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return AttemptResult{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return d.exec.Do(ctx, Attempt{
		URL:     req.URL,
		Body:    body,
		Secret:  req.Secret,
		Headers: req.Headers,
		Timeout: req.Timeout,
	})
}

// Statistics summarizes subscriber counts and outcomes over the most
// recent deliveries. Read-only; an empty ledger yields all-zero counts.
func (d *Dispatcher) Statistics(ctx context.Context) (Stats, error) {
	total, active, err := d.subs.Counts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("subscriber counts: %w", err)
	}

	recent, err := d.ledger.List(ctx, model.DeliveryFilter{Limit: d.statsWindow})
	if err != nil {
		return Stats{}, fmt.Errorf("list deliveries: %w", err)
	}

	st := Stats{
		Subscribers: SubscriberStats{Total: total, Active: active},
		Deliveries:  DeliveryStats{Window: d.statsWindow, Total: len(recent)},
		ByEvent:     make(map[string]int, len(recent)),
	}
	for _, del := range recent {
		switch del.Status {
		case model.DeliverySuccess:
			st.Deliveries.Success++
		case model.DeliveryFailed:
			st.Deliveries.Failed++
		default:
			st.Deliveries.Pending++
		}
		st.ByEvent[del.Event]++
	}
	return st, nil
}
