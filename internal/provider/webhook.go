package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/ratelimiter"
)

const emailLimiterKey = "email"

// WebhookMailer POSTs emails to an HTTP relay. All sends share one token
// bucket so a burst of email jobs cannot exceed the relay's quota.
type WebhookMailer struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimiter.Keyed
}

func NewWebhookMailer(baseURL string, timeout time.Duration, limiter *ratelimiter.Keyed) *WebhookMailer {
	if limiter == nil {
		limiter = ratelimiter.New(0)
	}
	return &WebhookMailer{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

// Send expects 202 Accepted with a JSON receipt.
func (m *WebhookMailer) Send(ctx context.Context, e *domain.Email) (*Receipt, error) {
	if err := m.limiter.Wait(ctx, emailLimiterKey); err != nil {
		return nil, fmt.Errorf("wait for email rate limit: %w", err)
	}

	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("email relay", resp, http.StatusAccepted); err != nil {
		return nil, err
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}

var _ Mailer = (*WebhookMailer)(nil)
