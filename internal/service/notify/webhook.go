package notify

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

	"github.com/ceer-lab/ceer/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-CEER-Signature"

// WebhookSink posts notifications as signed JSON to an HTTP endpoint.
type WebhookSink struct {
	endpoint   string
	secret     []byte
	httpClient *http.Client
}

// WebhookOption customises a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		if h != nil {
			s.httpClient = h
		}
	}
}

// NewWebhookSink builds a sink posting to endpoint. An empty secret sends unsigned requests.
func NewWebhookSink(endpoint, secret string, opts ...WebhookOption) (*WebhookSink, error) {
	trimmed := strings.TrimSpace(endpoint)
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", endpoint)
	}
	s := &WebhookSink{
		endpoint:   trimmed,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	Status  int
	Message string
}

func (e StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("webhook responded with status %d", e.Status)
	}
	return fmt.Sprintf("webhook responded with status %d: %s", e.Status, e.Message)
}

// Notify implements Notifier. 4xx responses other than 408 and 429 are not retried.
func (s *WebhookSink) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrUndeliverable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUndeliverable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CEER-Event", string(n.Kind))
	req.Header.Set("X-CEER-Delivery", n.ID)
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(s.secret, payload))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return statusErr
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %w", ErrUndeliverable, statusErr)
	default:
		return statusErr
	}
}

// Sign returns the signature header value for payload.
func Sign(secret, payload []byte) string {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	return "sha256=" + hex.EncodeToString(hasher.Sum(nil))
}

// VerifySignature checks a signature produced by Sign. Receivers use it to
// authenticate deliveries.
func VerifySignature(secret, payload []byte, provided string) error {
	if provided == "" {
		return errors.New("missing webhook signature")
	}
	if !hmac.Equal([]byte(provided), []byte(Sign(secret, payload))) {
		return errors.New("invalid webhook signature")
	}
	return nil
}
