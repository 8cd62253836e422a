// Package relayerr classifies the failures surfaced by the relay core.
//
// Every error returned by the beacon, receipts, message and writer packages is
// marked with exactly one of the sentinels below, so callers can branch with
// errors.Is without parsing messages. Context (storage path, call name,
// transaction index, terminal status) travels in the wrapped message or in a
// typed error reachable through errors.As.
package relayerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrDecode marks malformed or wrong-variant consensus data. Not retryable
	// for the exact same payload.
	ErrDecode = errors.New("decode error")
	// ErrTransientIO marks RPC and connectivity faults. Retryable by the caller.
	ErrTransientIO = errors.New("transient io error")
	// ErrNonceConflict marks a divergence between the local and on-chain nonce.
	// The writer must be resynchronized before any further submission.
	ErrNonceConflict = errors.New("nonce conflict")
	// ErrProofMisuse marks an unsupported operation on a proof accumulator.
	ErrProofMisuse = errors.New("proof misuse")
	// ErrTerminalSubmission marks an extrinsic that reached a terminal status
	// other than finalized.
	ErrTerminalSubmission = errors.New("terminal submission failure")
	// ErrStorageNotFound marks a destination storage path that is missing or
	// could not be decoded.
	ErrStorageNotFound = errors.New("storage path not found or unreadable")
	// ErrEncoding marks call arguments that do not match the destination
	// runtime's declared argument types.
	ErrEncoding = errors.New("call argument encoding error")
)

// Decode wraps err as a decode failure.
func Decode(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrDecode)
}

// Decodef creates a new decode failure.
func Decodef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrDecode)
}

// TransientIO wraps err as a retryable I/O failure.
func TransientIO(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrTransientIO)
}

// NonceConflict creates a nonce divergence failure, optionally wrapping a cause.
func NonceConflict(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return errors.Mark(errors.Newf(format, args...), ErrNonceConflict)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrNonceConflict)
}

// ProofMisuse creates a proof misuse failure.
func ProofMisuse(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrProofMisuse)
}

// Encoding wraps err as an argument encoding failure for the given call.
func Encoding(err error, call string) error {
	return errors.Mark(errors.Wrapf(err, "encode call %s", call), ErrEncoding)
}

// StoragePath identifies a destination storage entry by (module, item, key).
type StoragePath struct {
	Module string
	Item   string
	Key    []byte
}

func (p StoragePath) String() string {
	if len(p.Key) == 0 {
		return fmt.Sprintf("%s.%s", p.Module, p.Item)
	}
	return fmt.Sprintf("%s.%s[0x%x]", p.Module, p.Item, p.Key)
}

// StorageNotFound creates a storage read failure for path, optionally
// wrapping the underlying decode or lookup error.
func StorageNotFound(path StoragePath, cause error) error {
	if cause == nil {
		return errors.Mark(errors.Newf("storage %s: no value", path), ErrStorageNotFound)
	}
	return errors.Mark(errors.Wrapf(cause, "storage %s", path), ErrStorageNotFound)
}

// IsRetryable reports whether err is worth retrying against the same or an
// alternate endpoint.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

// TerminalSubmissionError describes an extrinsic that left the transaction
// pool without being finalized.
type TerminalSubmissionError struct {
	Call      string
	Nonce     uint64
	Status    string
	Extrinsic string
}

func (e *TerminalSubmissionError) Error() string {
	return fmt.Sprintf("extrinsic %s (%s, nonce %d) ended as %s", e.Extrinsic, e.Call, e.Nonce, e.Status)
}

// TerminalSubmission creates a terminal submission failure. The typed error
// stays reachable through errors.As.
func TerminalSubmission(call string, nonce uint64, status, extrinsic string) error {
	return errors.Mark(&TerminalSubmissionError{
		Call:      call,
		Nonce:     nonce,
		Status:    status,
		Extrinsic: extrinsic,
	}, ErrTerminalSubmission)
}
