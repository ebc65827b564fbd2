package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apimw "github.com/ricirt/marketplace-realtime/internal/api/middleware"
	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// Notifications is the orchestrator behaviour exposed over HTTP.
type Notifications interface {
	Send(ctx context.Context, req domain.SendNotificationRequest) (*domain.Notification, error)
	SendBulk(ctx context.Context, userIDs []string, tmpl domain.NotificationTemplate) (*domain.Job, error)
	List(ctx context.Context, userID string, f domain.NotificationFilter) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// NotificationHandler serves the caller's own notifications plus the
// service-to-service send endpoints.
type NotificationHandler struct {
	svc    Notifications
	logger *zap.Logger
}

func NewNotificationHandler(svc Notifications, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

type sendRequest struct {
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	SendEmail *bool          `json:"sendEmail,omitempty"`
}

type bulkRequest struct {
	UserIDs  []string                    `json:"userIds"`
	Template domain.NotificationTemplate `json:"template"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

// Send handles POST /api/v1/notifications
//
// @Summary     Send one notification
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      sendRequest  true  "Notification payload"
// @Success     201   {object}  domain.Notification
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/notifications [post]
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// sendEmail defaults to true when omitted.
	sendEmail := req.SendEmail == nil || *req.SendEmail
	n, err := h.svc.Send(r.Context(), domain.SendNotificationRequest{
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		SendEmail: sendEmail,
	})
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("send notification failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

// SendBulk handles POST /api/v1/notifications/bulk
//
// @Summary  Fan one template out to many recipients through a bulk job
// @Tags     notifications
// @Accept   json
// @Produce  json
// @Param    body  body      bulkRequest  true  "Recipients and template"
// @Success  202   {object}  domain.Job
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/notifications/bulk [post]
func (h *NotificationHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeBody(w, r, &req) {
		return
	}

	job, err := h.svc.SendBulk(r.Context(), req.UserIDs, req.Template)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("bulk notification failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// List handles GET /api/v1/me/notifications
//
// @Summary  List the caller's notifications, newest first
// @Tags     notifications
// @Produce  json
// @Param    unread  query     bool  false  "Only unread"
// @Param    page    query     int   false  "Page number (default 1)"
// @Param    limit   query     int   false  "Items per page (default 20, max 100)"
// @Success  200     {object}  map[string]any
// @Router   /api/v1/me/notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	id := apimw.GetIdentity(r.Context())
	filter := parseListFilter(r)
	notifications, err := h.svc.List(r.Context(), id.UserID, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if notifications == nil {
		notifications = []*domain.Notification{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  notifications,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// UnreadCount handles GET /api/v1/me/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id := apimw.GetIdentity(r.Context())
	count, err := h.svc.UnreadCount(r.Context(), id.UserID)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"unread": count})
}

// MarkRead handles POST /api/v1/me/notifications/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := apimw.GetIdentity(r.Context())
	n, err := h.svc.MarkRead(r.Context(), id.UserID, req.IDs)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// MarkAllRead handles POST /api/v1/me/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	id := apimw.GetIdentity(r.Context())
	n, err := h.svc.MarkAllRead(r.Context(), id.UserID)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func parseListFilter(r *http.Request) domain.NotificationFilter {
	q := r.URL.Query()
	filter := domain.NotificationFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if u, err := strconv.ParseBool(q.Get("unread")); err == nil {
		filter.UnreadOnly = u
	}
	return filter
}
