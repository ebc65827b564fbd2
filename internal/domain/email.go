package domain

// Email is an outbound notification email handed to the mail provider.
type Email struct {
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	NotificationID string `json:"notificationId"`
}
