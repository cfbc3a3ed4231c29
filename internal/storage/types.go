package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means driver default
}

// DeliveryRecord is one finished delivery attempt.
// Message text is deliberately not stored.
type DeliveryRecord struct {
	At         time.Time `json:"at"`
	DeliveryID string    `json:"delivery_id"`
	Type       string    `json:"type"`
	ChannelID  string    `json:"channel_id"`
	UserID     string    `json:"user_id"`
	SourceID   string    `json:"source_id,omitempty"` // message or interaction id
	Status     string    `json:"status"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms"`
}
