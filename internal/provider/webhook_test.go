package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/ratelimiter"
)

func TestWebhookMailer_Send(t *testing.T) {
	var got domain.Email
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"messageId":"msg-1","status":"accepted"}`))
	}))
	defer srv.Close()

	m := NewWebhookMailer(srv.URL, time.Second, ratelimiter.New(10))
	resp, err := m.Send(context.Background(), &domain.Email{To: "a@example.com", Subject: "Hi", NotificationID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", resp.MessageID)
	assert.Equal(t, "a@example.com", got.To)
	assert.Equal(t, "n1", got.NotificationID)
}

func TestWebhookMailer_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewWebhookMailer(srv.URL, time.Second, nil).Send(context.Background(), &domain.Email{To: "a@example.com"})
	assert.ErrorContains(t, err, "unexpected email relay status: 500")
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestWebhookMailer_BadAddressIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewWebhookMailer(srv.URL, time.Second, nil).Send(context.Background(), &domain.Email{To: "not-an-address"})
	assert.ErrorIs(t, err, ErrRejected)
}
