// Package webhook delivers booking events to an HTTP endpoint as signed JSON
// POSTs, retrying transient failures.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hospital/booking/internal/platform/notification"
)

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.httpClient = c }
}

// WithRetryDelays sets the waits between attempts; len(delays)+1 attempts
// are made in total.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(n *Notifier) { n.retryDelays = delays }
}

// Notifier implements notification.Notifier over HTTP.
type Notifier struct {
	url         string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
}

func New(rawURL, secret string, opts ...Option) (*Notifier, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	n := &Notifier{
		url:         rawURL,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		retryDelays: []time.Duration{200 * time.Millisecond, time.Second},
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// permanentError marks a failure that retrying will not fix: a rejected
// event or a request that could not be built.
type permanentError struct {
	status int
	err    error
}

func (e *permanentError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("endpoint rejected event: %d", e.status)
}

func (e *permanentError) Unwrap() error { return e.err }

func (n *Notifier) Notify(ctx context.Context, e notification.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = n.post(ctx, e, payload)
		var perm *permanentError
		if lastErr == nil || errors.As(lastErr, &perm) || attempt >= len(n.retryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("deliver %s: %w", e.ID, ctx.Err())
		case <-time.After(n.retryDelays[attempt]):
		}
	}
	if lastErr != nil {
		return fmt.Errorf("deliver %s: %w", e.ID, lastErr)
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, e notification.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(e.Type))
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, n.secret))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	default:
		return &permanentError{status: resp.StatusCode}
	}
}
