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
)

func TestMarketplaceClient_Requests(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer core-token", r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/internal/payouts/batches" {
			var in map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "2024-03-04T09:00:00Z", in["periodEnd"])
			_, _ = w.Write([]byte(`{"payouts":7}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewMarketplaceClient(srv.URL, "core-token", time.Second)
	ctx := context.Background()

	require.NoError(t, c.ReleaseCourseEnrollment(ctx, "enr-1"))
	require.NoError(t, c.ReleaseOrder(ctx, "ord-1"))
	require.NoError(t, c.Execute(ctx, "trg-1", "c1"))
	n, err := c.RunBatch(ctx, time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	assert.Equal(t, []string{
		"/internal/escrow/enrollments/enr-1/release",
		"/internal/escrow/orders/ord-1/release",
		"/internal/crm/triggers/trg-1/execute",
		"/internal/payouts/batches",
	}, paths)
}

func TestMarketplaceClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		rejected bool
	}{
		{http.StatusNotFound, true},
		{http.StatusConflict, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := NewMarketplaceClient(srv.URL, "", time.Second).ReleaseOrder(context.Background(), "ord-1")
			require.Error(t, err)
			assert.Equal(t, tc.rejected, errors.Is(err, ErrRejected))
		})
	}
}
