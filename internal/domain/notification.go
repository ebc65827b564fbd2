package domain

import "time"

// Notification is the persisted in-app notification record.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ReadAt    *time.Time     `json:"readAt,omitempty"`
}

// NotificationTemplate is the recipient-independent part of a notification.
// Bulk sends carry one template and a list of recipients.
type NotificationTemplate struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	SendEmail bool           `json:"sendEmail"`
}

func (t NotificationTemplate) Validate() error {
	if t.Title == "" {
		return ErrInvalidTitle
	}
	return nil
}

// SendNotificationRequest is the orchestrator's input for a single recipient.
type SendNotificationRequest struct {
	UserID    string
	Type      string
	Title     string
	Message   string
	Data      map[string]any
	SendEmail bool
}

func (r SendNotificationRequest) Validate() error {
	if r.UserID == "" {
		return ErrInvalidRecipient
	}
	if r.Title == "" {
		return ErrInvalidTitle
	}
	return nil
}

// ForUser expands a template into a request for one recipient.
func (t NotificationTemplate) ForUser(userID string) SendNotificationRequest {
	return SendNotificationRequest{
		UserID:    userID,
		Type:      t.Type,
		Title:     t.Title,
		Message:   t.Message,
		Data:      t.Data,
		SendEmail: t.SendEmail,
	}
}

// NotificationFilter holds paging parameters for listing a user's notifications.
type NotificationFilter struct {
	UnreadOnly bool
	Page       int
	Limit      int
}
