package webhook

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/institutehub/webhook-gateway/internal/metrics"
	"github.com/institutehub/webhook-gateway/internal/model"
)

const (
	// DefaultBackoffBase gives the 2s, 4s, 8s, ... schedule: the wait
	// after attempt n is base * 2^n.
	DefaultBackoffBase = time.Second
	// DefaultBackoffCap bounds the schedule; without it maxAttempts
	// beyond ~10 would produce multi-minute waits.
	DefaultBackoffCap = 60 * time.Second
)

// Outcome is the terminal result of one delivery's attempt sequence.
type Outcome struct {
	Status       model.DeliveryStatus // success | failed
	Attempts     int
	StatusCode   int            // set on success
	ResponseBody string         // set on success
	Err          *DeliveryError // last attempt's error, nil on success
}

// Coordinator drives 1..MaxAttempts attempts for a single delivery,
// sleeping exponentially between failures. It never fails past its
// caller: every outcome comes back as a value, so one subscriber's
// delivery can never abort the fan-out to others.
type Coordinator struct {
	exec   Attempter
	logger *zap.Logger

	// BackoffBase and BackoffCap tune the inter-attempt schedule.
	// Tests shrink the base to keep runs fast.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func NewCoordinator(exec Attempter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		exec:        exec,
		logger:      logger,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
	}
}

// Deliver runs the attempt sequence for one subscriber. Attempts are
// strictly sequential; the backoff sleep is cancellable through ctx so a
// shutdown never leaves a retry sequence running unbounded. The body is
// sent verbatim on every attempt.
func (c *Coordinator) Deliver(ctx context.Context, sub model.Subscriber, body []byte) Outcome {
	max := sub.MaxAttempts
	if max < 1 {
		max = 1
	}

	var last *DeliveryError
	for n := 1; n <= max; n++ {
		res, err := c.exec.Do(ctx, Attempt{
			URL:     sub.URL,
			Body:    body,
			Secret:  sub.Secret,
			Headers: sub.Headers,
			Timeout: sub.Timeout(),
		})
		if err == nil {
			metrics.DeliveryAttemptsTotal.WithLabelValues("ok").Inc()
			return Outcome{
				Status:       model.DeliverySuccess,
				Attempts:     n,
				StatusCode:   res.StatusCode,
				ResponseBody: res.Body,
			}
		}

		var derr *DeliveryError
		if !errors.As(err, &derr) {
			derr = &DeliveryError{Kind: ErrKindNetwork, Message: err.Error()}
		}
		last = derr
		metrics.DeliveryAttemptsTotal.WithLabelValues(string(derr.Kind)).Inc()
		c.logger.Warn("delivery attempt failed",
			zap.String("subscriber_id", sub.ID),
			zap.Int("attempt", n),
			zap.Int("max_attempts", max),
			zap.String("kind", string(derr.Kind)),
			zap.String("error", derr.Message),
		)

		if n == max {
			break
		}

		select {
		case <-ctx.Done():
			return Outcome{Status: model.DeliveryFailed, Attempts: n, Err: last}
		case <-time.After(c.backoff(n)):
		}
	}

	return Outcome{Status: model.DeliveryFailed, Attempts: max, Err: last}
}

// backoff returns base * 2^attempt, capped.
func (c *Coordinator) backoff(attempt int) time.Duration {
	base := c.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	limit := c.BackoffCap
	if limit <= 0 {
		limit = DefaultBackoffCap
	}
	if attempt > 30 {
		attempt = 30 // avoid shift overflow; the cap applies anyway
	}
	d := base << uint(attempt)
	if d > limit || d <= 0 {
		return limit
	}
	return d
}
