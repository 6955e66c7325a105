package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// NotificationType categorizes a notification by the part of the gym
// platform that produced it.
type NotificationType string

const (
	TypeWorkout     NotificationType = "workout"
	TypeAchievement NotificationType = "achievement"
	TypeReminder    NotificationType = "reminder"
	TypePromotion   NotificationType = "promotion"
	TypeAppointment NotificationType = "appointment"
	TypeMembership  NotificationType = "membership"
	TypePayment     NotificationType = "payment"
	TypeSystem      NotificationType = "system"
	TypeOther       NotificationType = "other"
)

// NotificationTypes lists every known type in display order.
var NotificationTypes = []NotificationType{
	TypeWorkout,
	TypeAchievement,
	TypeReminder,
	TypePromotion,
	TypeAppointment,
	TypeMembership,
	TypePayment,
	TypeSystem,
	TypeOther,
}

// ValidNotificationType reports whether t is one of the known types.
func ValidNotificationType(t NotificationType) bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// UnmarshalJSON maps unknown types to TypeOther so a newer backend cannot
// break decoding of the whole page.
func (t *NotificationType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = NotificationType(s)
	if !ValidNotificationType(*t) {
		*t = TypeOther
	}
	return nil
}

// NotificationStatus is the delivery state of a notification.
type NotificationStatus string

const (
	StatusSent NotificationStatus = "sent"
	StatusRead NotificationStatus = "read"
)

// ErrReadWithoutTimestamp is returned by Validate for a read notification
// that carries no ReadAt.
var ErrReadWithoutTimestamp = errors.New("read notification has no readAt")

// Notification is a single notification record owned by the backend.
type Notification struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Type      NotificationType   `json:"type"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	ReadAt    *time.Time         `json:"readAt,omitempty"`
}

// IsRead reports whether the notification has been read.
func (n Notification) IsRead() bool {
	return n.Status == StatusRead
}

// MarkRead transitions the notification to read. An already-read
// notification keeps its original ReadAt.
func (n *Notification) MarkRead(at time.Time) {
	if n.Status == StatusRead && n.ReadAt != nil {
		return
	}
	n.Status = StatusRead
	n.ReadAt = &at
}

// Validate checks the read => readAt invariant.
func (n Notification) Validate() error {
	if n.Status == StatusRead && n.ReadAt == nil {
		return ErrReadWithoutTimestamp
	}
	return nil
}

// CountUnread returns the number of notifications still in the sent state.
func CountUnread(ns []Notification) int {
	count := 0
	for _, n := range ns {
		if n.Status == StatusSent {
			count++
		}
	}
	return count
}
