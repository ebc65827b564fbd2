package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Queue names.
const (
	QueueEscrowRelease = "escrow-release"
	QueueNotifications = "notifications"
	QueueEmail         = "email"
	QueuePayouts       = "payouts"
	QueueSubscriptions = "subscriptions"
)

// Job names. Each name has exactly one payload type, see JobCatalog.
const (
	JobCourseAutoRelease     = "course-auto-release"
	JobOrderEscrowRelease    = "order-escrow-release"
	JobCRMInactivityCheck    = "crm-inactivity-check"
	JobAutoTrigger           = "auto-trigger"
	JobStandardNotification  = "standard-notification"
	JobBulkNotification      = "bulk-notification"
	JobNotificationEmail     = "notification-email"
	JobWeeklyPayoutBatch     = "weekly-payout-batch"
	JobRenewalReminder       = "RENEWAL_REMINDER"
	JobCancelAtPeriodEnd     = "CANCEL_AT_PERIOD_END"
	JobPaymentFailedFollowup = "PAYMENT_FAILED_FOLLOWUP"
)

type jobSpec struct {
	queue   string
	factory func() JobPayload
}

// JobCatalog maps every known job name to its queue and payload constructor.
var JobCatalog = map[string]jobSpec{
	JobCourseAutoRelease:     {QueueEscrowRelease, func() JobPayload { return &CourseAutoRelease{} }},
	JobOrderEscrowRelease:    {QueueEscrowRelease, func() JobPayload { return &OrderEscrowRelease{} }},
	JobCRMInactivityCheck:    {QueueNotifications, func() JobPayload { return &CRMInactivityCheck{} }},
	JobAutoTrigger:           {QueueNotifications, func() JobPayload { return &AutoTrigger{} }},
	JobStandardNotification:  {QueueNotifications, func() JobPayload { return &StandardNotification{} }},
	JobBulkNotification:      {QueueNotifications, func() JobPayload { return &BulkNotification{} }},
	JobNotificationEmail:     {QueueEmail, func() JobPayload { return &NotificationEmail{} }},
	JobWeeklyPayoutBatch:     {QueuePayouts, func() JobPayload { return &WeeklyPayoutBatch{} }},
	JobRenewalReminder:       {QueueSubscriptions, func() JobPayload { return &RenewalReminder{} }},
	JobCancelAtPeriodEnd:     {QueueSubscriptions, func() JobPayload { return &CancelAtPeriodEnd{} }},
	JobPaymentFailedFollowup: {QueueSubscriptions, func() JobPayload { return &PaymentFailedFollowup{} }},
}

// QueueForJob returns the queue a job name belongs to.
func QueueForJob(name string) (string, bool) {
	spec, ok := JobCatalog[name]
	return spec.queue, ok
}

// DecodeJobPayload parses and validates the payload stored for a job name.
func DecodeJobPayload(name string, raw []byte) (JobPayload, error) {
	spec, ok := JobCatalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	p := spec.factory()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidJobPayload, name, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidJobPayload, name, err)
	}
	return p, nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// ---- escrow-release ----

type CourseAutoRelease struct {
	EnrollmentID string `json:"enrollmentId"`
}

func (CourseAutoRelease) JobName() string   { return JobCourseAutoRelease }
func (p CourseAutoRelease) Validate() error { return requireField("enrollmentId", p.EnrollmentID) }

type OrderEscrowRelease struct {
	OrderID string `json:"orderId"`
}

func (OrderEscrowRelease) JobName() string   { return JobOrderEscrowRelease }
func (p OrderEscrowRelease) Validate() error { return requireField("orderId", p.OrderID) }

// ---- notifications ----

// CRMInactivityCheck sweeps conversations with no activity for InactiveDays.
// An empty SellerID sweeps every seller.
type CRMInactivityCheck struct {
	SellerID     string `json:"sellerId,omitempty"`
	InactiveDays int    `json:"inactiveDays"`
}

func (CRMInactivityCheck) JobName() string { return JobCRMInactivityCheck }
func (p CRMInactivityCheck) Validate() error {
	if p.InactiveDays <= 0 {
		return fmt.Errorf("inactiveDays must be positive")
	}
	return nil
}

type AutoTrigger struct {
	TriggerID      string `json:"triggerId"`
	ConversationID string `json:"conversationId"`
}

func (AutoTrigger) JobName() string { return JobAutoTrigger }
func (p AutoTrigger) Validate() error {
	if err := requireField("triggerId", p.TriggerID); err != nil {
		return err
	}
	return requireField("conversationId", p.ConversationID)
}

type StandardNotification struct {
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	SendEmail bool           `json:"sendEmail"`
}

func (StandardNotification) JobName() string { return JobStandardNotification }
func (p StandardNotification) Validate() error {
	return p.Request().Validate()
}

func (p StandardNotification) Request() SendNotificationRequest {
	return SendNotificationRequest{
		UserID: p.UserID, Type: p.Type, Title: p.Title,
		Message: p.Message, Data: p.Data, SendEmail: p.SendEmail,
	}
}

type BulkNotification struct {
	UserIDs  []string             `json:"userIds"`
	Template NotificationTemplate `json:"template"`
}

func (BulkNotification) JobName() string { return JobBulkNotification }
func (p BulkNotification) Validate() error {
	if len(p.UserIDs) == 0 {
		return ErrEmptyRecipients
	}
	return p.Template.Validate()
}

// ---- email ----

type NotificationEmail struct {
	UserID         string `json:"userId"`
	NotificationID string `json:"notificationId"`
}

func (NotificationEmail) JobName() string { return JobNotificationEmail }
func (p NotificationEmail) Validate() error {
	if err := requireField("userId", p.UserID); err != nil {
		return err
	}
	return requireField("notificationId", p.NotificationID)
}

// ---- payouts ----

// WeeklyPayoutBatch pays out every eligible seller balance accrued up to
// PeriodEnd. A zero PeriodEnd means "now" at execution time.
type WeeklyPayoutBatch struct {
	PeriodEnd time.Time `json:"periodEnd,omitempty"`
}

func (WeeklyPayoutBatch) JobName() string { return JobWeeklyPayoutBatch }
func (WeeklyPayoutBatch) Validate() error { return nil }

// ---- subscriptions ----

type RenewalReminder struct {
	SubscriptionID string `json:"subscriptionId"`
	DaysBefore     int    `json:"daysBefore"`
}

func (RenewalReminder) JobName() string   { return JobRenewalReminder }
func (p RenewalReminder) Validate() error { return requireField("subscriptionId", p.SubscriptionID) }

type CancelAtPeriodEnd struct {
	SubscriptionID string `json:"subscriptionId"`
}

func (CancelAtPeriodEnd) JobName() string   { return JobCancelAtPeriodEnd }
func (p CancelAtPeriodEnd) Validate() error { return requireField("subscriptionId", p.SubscriptionID) }

type PaymentFailedFollowup struct {
	SubscriptionID string `json:"subscriptionId"`
	Attempt        int    `json:"attempt"`
}

func (PaymentFailedFollowup) JobName() string   { return JobPaymentFailedFollowup }
func (p PaymentFailedFollowup) Validate() error { return requireField("subscriptionId", p.SubscriptionID) }
