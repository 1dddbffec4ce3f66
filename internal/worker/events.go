package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/institutehub/webhook-gateway/internal/kafka"
	"github.com/institutehub/webhook-gateway/internal/model"
	"github.com/institutehub/webhook-gateway/internal/webhook"
)

// Consumer is the slice of the Kafka consumer the worker needs; tests
// substitute fakes.
type Consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Events consumes domain-event messages from Kafka and fans each one out
// through the dispatcher. At-least-once: messages are committed after
// the fan-out finishes; receiver-side idempotency is left to subscribers
// via the delivery id in the payload. Poison messages are committed and
// skipped.
type Events struct {
	Consumer   Consumer
	Dispatcher *webhook.Dispatcher
	Logger     *zap.Logger

	// Workers is the number of goroutines running fan-outs.
	Workers int
}

func NewEvents(consumer Consumer, dispatcher *webhook.Dispatcher, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{
		Consumer:   consumer,
		Dispatcher: dispatcher,
		Logger:     logger,
		Workers:    8,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Events) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.Logger.Warn("kafka fetch failed", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				select {
				case msgCh <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	done := make(chan struct{}, w.Workers)
	for i := 0; i < w.Workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for m := range msgCh {
				w.processOne(ctx, m)
			}
		}()
	}

	for i := 0; i < w.Workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (w *Events) processOne(ctx context.Context, m kafka.Message) {
	var msg model.EventMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil || msg.Event == "" {
		// poison message: commit and skip
		_ = w.Consumer.Commit(ctx, m)
		if err != nil {
			w.Logger.Error("bad event message", zap.Error(err))
		} else {
			w.Logger.Error("event message missing event name")
		}
		return
	}

	results, err := w.Dispatcher.Trigger(ctx, msg.Event, msg.Data)
	if err != nil {
		// subscriber lookup failed; leave uncommitted so the fetch is
		// redelivered once the store recovers
		w.Logger.Error("trigger failed", zap.String("event", msg.Event), zap.Error(err))
		return
	}

	var succeeded, failed int
	for _, r := range results {
		if r.Status == model.DeliverySuccess {
			succeeded++
		} else {
			failed++
		}
	}
	w.Logger.Info("event fanned out",
		zap.String("event", msg.Event),
		zap.Int("subscribers", len(results)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)

	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Logger.Warn("kafka commit failed", zap.Error(err))
	}
}
