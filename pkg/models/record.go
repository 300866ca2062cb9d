package models

// CipherBundle carries the three opaque ciphertext handles that make up a
// listen submission. The server never inspects these; only the decryption
// oracle can open them.
type CipherBundle struct {
	// Category is the sealed podcast category handle.
	Category []byte `json:"category"`
	// Minutes is the sealed listening magnitude handle.
	Minutes []byte `json:"minutes"`
	// Listener is the sealed listener identity handle.
	Listener []byte `json:"listener"`
}

// Record is an appended listen record as stored in the ledger. IDs are
// assigned sequentially starting at 1; 0 is never a valid record id.
type Record struct {
	ID          uint64       `json:"id"`
	Bundle      CipherBundle `json:"bundle"`
	SubmittedTS int64        `json:"submitted_ts"`
}

// Projection is the plaintext shadow of a record. It starts zeroed with
// Processed false and is populated exactly once when the oracle resolves the
// record's decryption request. All fields flip together; a reader never sees
// a partially filled projection.
type Projection struct {
	Category  string `json:"category"`
	Minutes   int64  `json:"minutes"`
	Listener  string `json:"listener"`
	Processed bool   `json:"processed"`
}
