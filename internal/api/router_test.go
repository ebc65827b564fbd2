package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/api"
	"github.com/ricirt/marketplace-realtime/internal/api/handler"
	"github.com/ricirt/marketplace-realtime/internal/auth"
	"github.com/ricirt/marketplace-realtime/internal/bus"
	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/queue"
	"github.com/ricirt/marketplace-realtime/internal/repository"
	"github.com/ricirt/marketplace-realtime/internal/service"
)

const secret = "api-secret"

type env struct {
	handler http.Handler
	store   *queue.MemoryStore
	repo    *repository.MockNotificationRepository
}

func newEnv(t *testing.T, checks map[string]handler.Check) env {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMockNotificationRepository()
	store := queue.NewMemoryStore()
	queues := queue.NewQueues(store, 3, domain.QueueNotifications, domain.QueueEmail)
	svc := service.NewNotificationService(repo, bus.NewPublisher(bus.NewMemoryBus(), nil), queues,
		service.NotificationOptions{}, logger)
	users := repository.NewMockUserRepository(
		&domain.User{ID: "buyer", Roles: []domain.Role{domain.RoleBuyer}},
		&domain.User{ID: "ops", Roles: []domain.Role{domain.RoleAdmin}},
	)

	h := api.NewRouter(api.Deps{
		Gateway: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		Notifications: svc,
		Jobs:          queues,
		JobWriter:     queues,
		Auth:          auth.NewAuthenticator(secret, users),
		Checks:        checks,
		Gatherer:      prometheus.NewRegistry(),
	}, logger)
	return env{handler: h, store: store, repo: repo}
}

func (e env) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		tok, err := auth.Issue(secret, userID, auth.TokenAccess, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	e := newEnv(t, map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := e.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec = e.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestCorrelationIDEchoed(t *testing.T) {
	e := newEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
}

func TestGatewayRouteMounted(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/ws/chat", "", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestAPIRequiresAuth(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/api/v1/me/notifications", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.ReasonMissingToken)

	rec = e.do(t, http.MethodPost, "/api/v1/notifications", "buyer", `{"userId":"buyer","title":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendAndReadFlow(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/v1/notifications", "ops",
		`{"userId":"buyer","type":"order_shipped","title":"Shipped","message":"On its way"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var n domain.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Len(t, e.store.Jobs(domain.QueueEmail), 1, "sendEmail defaults to true")

	rec = e.do(t, http.MethodGet, "/api/v1/me/notifications/unread-count", "buyer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread":1}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/v1/me/notifications/read", "buyer", `{"ids":["`+n.ID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":1}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/me/notifications?unread=true", "buyer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestSendValidation(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/v1/notifications", "ops", `{"userId":"buyer"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/notifications", "ops", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/notifications/bulk", "ops", `{"userIds":[],"template":{"title":"x"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, e.repo.All())
}

func TestBulkAndJobInspection(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/v1/notifications/bulk", "ops",
		`{"userIds":["a","b"],"template":{"type":"promo","title":"Sale"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, domain.JobBulkNotification, job.Name)

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, "ops", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"waiting"`)

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/missing", "ops", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/queues", "ops", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot struct {
		Queues map[string]domain.QueueDepth `json:"queues"`
		Total  domain.QueueDepth            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, 1, snapshot.Queues[domain.QueueNotifications].Waiting)
	assert.Equal(t, 1, snapshot.Total.Waiting)
}

func TestEnqueueJob(t *testing.T) {
	e := newEnv(t, nil)
	body := `{"name":"standard-notification","id":"order-42-shipped","delayMs":60000,
		"payload":{"userId":"buyer","type":"order_shipped","title":"Shipped"}}`

	rec := e.do(t, http.MethodPost, "/api/v1/queues/notifications/jobs", "ops", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var job domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "order-42-shipped", job.ID)
	assert.Equal(t, domain.JobStandardNotification, job.Name)
	assert.Equal(t, domain.JobDelayed, job.State)

	jobs := e.store.Jobs(domain.QueueNotifications)
	require.Len(t, jobs, 1)
	assert.JSONEq(t, `{"userId":"buyer","type":"order_shipped","title":"Shipped","message":"","sendEmail":false}`, string(jobs[0].Payload))

	rec = e.do(t, http.MethodPost, "/api/v1/queues/notifications/jobs", "ops", body)
	assert.Equal(t, http.StatusConflict, rec.Code, "the id makes the enqueue idempotent")
}

func TestEnqueueJob_Rejections(t *testing.T) {
	e := newEnv(t, nil)
	standard := `"name":"standard-notification","payload":{"userId":"buyer","title":"Hi"}`

	cases := []struct {
		name   string
		userID string
		path   string
		body   string
		status int
	}{
		{"not admin", "buyer", "/api/v1/queues/notifications/jobs", `{` + standard + `}`, http.StatusForbidden},
		{"bad json", "ops", "/api/v1/queues/notifications/jobs", `nope`, http.StatusBadRequest},
		{"delay and runAt", "ops", "/api/v1/queues/notifications/jobs", `{` + standard + `,"delayMs":5,"runAt":"2030-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"negative delay", "ops", "/api/v1/queues/notifications/jobs", `{` + standard + `,"delayMs":-1}`, http.StatusBadRequest},
		{"unknown job", "ops", "/api/v1/queues/notifications/jobs", `{"name":"launch-rockets","payload":{}}`, http.StatusUnprocessableEntity},
		{"invalid payload", "ops", "/api/v1/queues/notifications/jobs", `{"name":"standard-notification","payload":{"title":"Hi"}}`, http.StatusUnprocessableEntity},
		{"wrong queue", "ops", "/api/v1/queues/email/jobs", `{` + standard + `}`, http.StatusUnprocessableEntity},
		{"queue not run here", "ops", "/api/v1/queues/payouts/jobs", `{"name":"weekly-payout-batch","payload":{}}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, tc.path, tc.userID, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, e.store.Jobs(domain.QueueNotifications))
	assert.Empty(t, e.store.Jobs(domain.QueueEmail))
}
