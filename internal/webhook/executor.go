package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// UserAgent identifies outbound callbacks.
	UserAgent = "InstituteHub-Webhook/1.0"
	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Webhook-Signature"

	// DefaultTimeout bounds an attempt when the subscriber sets none.
	DefaultTimeout = 30 * time.Second

	maxResponseBody = 64<<10 - 1 // stored response body cap, fits a MySQL TEXT column
	maxErrorSnippet = 512      // body snippet kept on non-2xx
)

// Attempt describes a single outbound POST.
type Attempt struct {
	URL     string
	Body    []byte
	Secret  string            // empty = unsigned
	Headers map[string]string // subscriber's static headers
	Timeout time.Duration
}

// AttemptResult is the raw outcome of a successful (2xx) attempt.
type AttemptResult struct {
	StatusCode int
	Body       string
}

// Attempter performs one bounded delivery attempt. Satisfied by
// *Executor; tests substitute fakes.
type Attempter interface {
	Do(ctx context.Context, a Attempt) (AttemptResult, error)
}

// Executor performs exactly one network call per Do invocation. It never
// retries internally; retries belong to the Coordinator. The same Do is
// used by the coordinator and by the management test-delivery endpoint.
type Executor struct {
	client *http.Client
}

func NewExecutor() *Executor {
	// No client-level timeout: each attempt carries its own deadline.
	return &Executor{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Do POSTs a.Body to a.URL with the standard headers, the subscriber's
// static headers, and a signature header when a secret is configured.
// The attempt is aborted once a.Timeout elapses. Non-2xx responses and
// transport failures are returned as *DeliveryError.
func (x *Executor) Do(ctx context.Context, a Attempt) (AttemptResult, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(a.Body))
	if err != nil {
		return AttemptResult{}, &DeliveryError{Kind: ErrKindNetwork, Message: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
	if a.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(a.Secret, a.Body))
	}

	res, err := x.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return AttemptResult{}, &DeliveryError{
				Kind:    ErrKindTimeout,
				Message: fmt.Sprintf("no response within %s", timeout),
			}
		}
		return AttemptResult{}, &DeliveryError{Kind: ErrKindNetwork, Message: err.Error()}
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))

	if res.StatusCode/100 != 2 {
		return AttemptResult{}, &DeliveryError{
			Kind:    ErrKindHTTPStatus,
			Code:    res.StatusCode,
			Message: snippet(body),
		}
	}

	return AttemptResult{StatusCode: res.StatusCode, Body: string(body)}, nil
}

func snippet(body []byte) string {
	if len(body) > maxErrorSnippet {
		body = body[:maxErrorSnippet]
	}
	return string(body)
}
