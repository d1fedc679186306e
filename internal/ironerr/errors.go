// Package ironerr collects the sentinel errors shared across the core, per
// the error taxonomy in spec.md §7. Callers wrap these with fmt.Errorf and
// %w so context accumulates without losing the sentinel for errors.Is.
package ironerr

import "errors"

var (
	// Structural
	ErrTrailingBytes = errors.New("trailing bytes after decode")
	ErrBadListLength = errors.New("list length mismatch")

	// Validation
	ErrBadSignature    = errors.New("bad signature")
	ErrBadParent       = errors.New("header does not descend from a known parent")
	ErrNonMonotonicTS  = errors.New("timestamp not monotonic over parent")
	ErrBadScore        = errors.New("invalid score")
	ErrBadSealArity    = errors.New("seal field count mismatch")
	ErrRootMismatch    = errors.New("computed root does not match header")
	ErrTxAlreadyInBlock = errors.New("transaction already present in block")
	ErrOrderTransferDisabled = errors.New("tracker already claimed by another transaction and order-transfer is disabled")

	// Consensus
	ErrDoubleVote        = errors.New("double vote for distinct blocks")
	ErrNotAValidator     = errors.New("signer is not in the validator set")
	ErrBadSignerIndex    = errors.New("signer index out of range")
	ErrFutureHeight      = errors.New("message for a future height")
	ErrMalformedConsensus = errors.New("malformed consensus message")
	ErrQuorumNotReached  = errors.New("precommit set does not reach quorum")

	// Resource
	ErrAlreadyQueued = errors.New("item already queued")
	ErrKnownBad      = errors.New("item or its parent is known bad")
	ErrStoreCorrupt  = errors.New("durable store invariant violated")

	// Transport
	ErrSessionExpired    = errors.New("session expired")
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrDecryptionFailed  = errors.New("decryption or MAC failure")
	ErrPeerBanned        = errors.New("peer is banned")
)
