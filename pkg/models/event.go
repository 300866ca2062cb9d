package models

// Event types emitted on the notification bus.
const (
	EventSubmitted          = "submitted"
	EventDiscoveryRequested = "discovery_requested"
	EventProcessed          = "processed"
	EventAggregateReady     = "aggregate_ready"
)

// Event is a ledger lifecycle notification. Fields that do not apply to a
// given type are left at their zero value and omitted from the wire form.
type Event struct {
	Type      string `json:"type"`
	RecordID  uint64 `json:"record_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Category  string `json:"category,omitempty"`
	// Value carries the decrypted counter for aggregate_ready events.
	Value string `json:"value,omitempty"`
	TS    int64  `json:"ts"`
}
