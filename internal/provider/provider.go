// Package provider holds the HTTP clients for the services jobs hand work
// to: the email relay and the marketplace core.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// ErrRejected marks a 4xx answer from an upstream: the request itself is
// wrong and sending it again will not help.
var ErrRejected = errors.New("request rejected by upstream")

// Receipt is the relay's acknowledgement of an accepted email.
type Receipt struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Mailer delivers one rendered email.
type Mailer interface {
	Send(ctx context.Context, e *domain.Email) (*Receipt, error)
}

// checkStatus maps a response status to an error. 429 stays retryable.
func checkStatus(upstream string, resp *http.Response, ok int) error {
	code := resp.StatusCode
	switch {
	case code == ok || (ok == 0 && code >= 200 && code < 300):
		return nil
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s status %d", ErrRejected, upstream, code)
	default:
		return fmt.Errorf("unexpected %s status: %d", upstream, code)
	}
}
