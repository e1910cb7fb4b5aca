package domain

import "time"

// NotificationKind classifies messages sent to the notification collaborator.
type NotificationKind string

const (
	NotificationOrderPlaced     NotificationKind = "order.placed"
	NotificationOrderCancelled  NotificationKind = "order.cancelled"
	NotificationRefillRequested NotificationKind = "order.refill_requested"
)

// Notification is a best-effort message for an account.
type Notification struct {
	AccountID string
	Kind      NotificationKind
	Message   string
	OrderID   string
	CreatedAt time.Time
}
