package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MarketplaceClient calls the marketplace core's internal API for the side
// effects jobs trigger: escrow release, payout batches and CRM automations.
type MarketplaceClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewMarketplaceClient(baseURL, token string, timeout time.Duration) *MarketplaceClient {
	return &MarketplaceClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *MarketplaceClient) ReleaseCourseEnrollment(ctx context.Context, enrollmentID string) error {
	return c.post(ctx, "/internal/escrow/enrollments/"+url.PathEscape(enrollmentID)+"/release", nil, nil)
}

func (c *MarketplaceClient) ReleaseOrder(ctx context.Context, orderID string) error {
	return c.post(ctx, "/internal/escrow/orders/"+url.PathEscape(orderID)+"/release", nil, nil)
}

// RunBatch asks the core to pay out balances accrued up to periodEnd and
// returns the number of payouts it created.
func (c *MarketplaceClient) RunBatch(ctx context.Context, periodEnd time.Time) (int, error) {
	var out struct {
		Payouts int `json:"payouts"`
	}
	in := map[string]string{"periodEnd": periodEnd.UTC().Format(time.RFC3339)}
	if err := c.post(ctx, "/internal/payouts/batches", in, &out); err != nil {
		return 0, err
	}
	return out.Payouts, nil
}

func (c *MarketplaceClient) Execute(ctx context.Context, triggerID, conversationID string) error {
	in := map[string]string{"conversationId": conversationID}
	return c.post(ctx, "/internal/crm/triggers/"+url.PathEscape(triggerID)+"/execute", in, nil)
}

func (c *MarketplaceClient) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("marketplace "+path, resp, 0); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
