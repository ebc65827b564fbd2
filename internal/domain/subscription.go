package domain

import "time"

// SubscriptionStatus tracks the billing lifecycle of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is read by the subscription lifecycle job handlers.
type Subscription struct {
	ID                string             `json:"id"`
	UserID            string             `json:"userId"`
	PlanName          string             `json:"planName"`
	Status            SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd bool               `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  time.Time          `json:"currentPeriodEnd"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}
