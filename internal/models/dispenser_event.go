package models

import "time"

// Journal entry types.
const (
	EventConnected      = "CONNECTED"
	EventDisconnected   = "DISCONNECTED"
	EventTransportError = "TRANSPORT_ERROR"
	EventCommand        = "COMMAND"
	EventStarted        = "STARTED"
	EventStopped        = "STOPPED"
	EventRefillRequired = "REFILL_REQUIRED"
	EventRefillCleared  = "REFILL_CLEARED"
	EventPour           = "POUR"
	EventRefill         = "REFILL"
	EventUnrecognized   = "UNRECOGNIZED"
)

// DispenserEvent is a single journal entry.
type DispenserEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // one of the Event* constants
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
