package models

// RequestKind distinguishes what a pending oracle request targets.
type RequestKind string

const (
	// KindRecord targets a single record's cipher bundle.
	KindRecord RequestKind = "record"
	// KindAggregate targets a sealed snapshot of a category counter.
	KindAggregate RequestKind = "aggregate"
)

// RequestState tracks the lifecycle of a pending oracle request.
type RequestState string

const (
	// StateCreated means the request was handed to the oracle and no valid
	// callback has arrived yet.
	StateCreated RequestState = "created"
	// StateResolved means a proof-checked callback consumed the request.
	StateResolved RequestState = "resolved"
	// StateExpired is only ever set by the sweeper when expiry is enabled.
	StateExpired RequestState = "expired"
)

// PendingRequest is the correlation entry for one in-flight oracle request.
// Exactly one of RecordID / Category is meaningful, selected by Kind.
type PendingRequest struct {
	ID        string       `json:"id"`
	Kind      RequestKind  `json:"kind"`
	RecordID  uint64       `json:"record_id,omitempty"`
	Category  string       `json:"category,omitempty"`
	State     RequestState `json:"state"`
	CreatedTS int64        `json:"created_ts"`
	// ResolvedTS is zero until the request leaves the created state.
	ResolvedTS int64 `json:"resolved_ts,omitempty"`
	// Value holds the decrypted counter (decimal string) for resolved
	// aggregate requests. Record results land in the projection instead.
	Value string `json:"value,omitempty"`
}
