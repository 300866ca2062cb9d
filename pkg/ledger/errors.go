package ledger

import "errors"

// Sentinel errors returned by ledger operations. Callers distinguish them
// with errors.Is; the HTTP layer maps them onto status codes.
var (
	// ErrNotFound marks lookups of records, categories or requests that
	// were never created.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed marks attempts to request or apply a decryption
	// for a record whose projection is already processed.
	ErrAlreadyProcessed = errors.New("record already processed")

	// ErrInvalidRequest marks callbacks whose request id has no pending
	// entry: unknown ids, replays of resolved requests, and expired ones.
	ErrInvalidRequest = errors.New("no pending request for id")

	// ErrProofInvalid marks callbacks whose proof does not verify against
	// the request id and plaintext.
	ErrProofInvalid = errors.New("oracle proof verification failed")
)
