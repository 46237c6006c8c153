package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxRecords caps the sqlite journal; older rows are pruned. 0 keeps all.
	MaxRecords int
}

// DeliveryRecord records one delivery attempt.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At           time.Time `json:"at"`
	EnvelopeID   string    `json:"envelope_id"`
	Kind         string    `json:"kind"`
	SourceChatID int64     `json:"source_chat_id"`
	SenderID     int64     `json:"sender_id,omitempty"`
	DestChatID   int64     `json:"dest_chat_id"`
	OK           bool      `json:"ok"`
	Error        string    `json:"error,omitempty"`
	QueuedMS     int64     `json:"queued_ms"`
	TookMS       int64     `json:"took_ms"`
}
