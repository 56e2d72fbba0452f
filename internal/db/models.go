package db

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/cascade/internal/channel"
)

// Notification is one outbound event and its dispatch outcome.
type Notification struct {
	ID                  uuid.UUID `json:"id"`
	EventType           string    `json:"event_type"`
	Phone               string    `json:"phone,omitempty"`
	Email               string    `json:"email,omitempty"`
	DeviceToken         string    `json:"device_token,omitempty"`
	Message             string    `json:"message"`
	Status              string    `json:"status"`
	FinalChannelSummary string    `json:"final_channel_summary"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ChannelAttempt is one try of one channel for a notification.
type ChannelAttempt struct {
	ID             uuid.UUID      `json:"id"`
	NotificationID uuid.UUID      `json:"notification_id"`
	Sequence       int            `json:"sequence"`
	Channel        channel.Kind   `json:"channel"`
	Status         channel.Status `json:"status"`
	Reason         string         `json:"reason"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Notification status constants
const (
	StatusPending   = "Pending"
	StatusDelivered = "Delivered"
	StatusFailed    = "Failed"
)

var (
	ErrNotFound = errors.New("notification not found")

	// ErrAlreadyFinalized is returned when finalizing, or appending an
	// attempt to, a notification that has left the Pending state.
	ErrAlreadyFinalized = errors.New("notification already finalized")
)
