package models

import "time"

const (
	// KindKeepAlive tags a record as a keep-alive ping.
	KindKeepAlive = "keep_alive"

	// DefaultSource is stored when the caller sends no usable origin tag.
	DefaultSource = "unknown"
)

// HeartbeatRecord is one row of heartbeat history.
type HeartbeatRecord struct {
	ID        string           `json:"id" db:"id"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	Kind      string           `json:"kind" db:"kind"`
	Details   HeartbeatDetails `json:"details" db:"details"`
}

// HeartbeatDetails is the free-form metadata stored with a heartbeat.
type HeartbeatDetails struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// HeartbeatEvent is what gets published to event sinks after a heartbeat is recorded.
type HeartbeatEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	Retained  int       `json:"retained"`
	Evicted   int       `json:"evicted"`
}

// NewHeartbeatEvent builds the sink payload for a freshly recorded heartbeat.
func NewHeartbeatEvent(rec HeartbeatRecord, retained, evicted int) HeartbeatEvent {
	return HeartbeatEvent{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Source:    rec.Details.Source,
		Timestamp: rec.Details.Timestamp,
		CreatedAt: rec.CreatedAt,
		Retained:  retained,
		Evicted:   evicted,
	}
}
