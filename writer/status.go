package writer

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// Status is the lifecycle position of one extrinsic. Built, Signed and
// Submitted are local; the rest mirror the pool status stream.
type Status uint8

const (
	StatusBuilt Status = iota
	StatusSigned
	StatusSubmitted
	StatusFuture
	StatusReady
	StatusBroadcast
	StatusInBlock
	StatusRetracted
	// terminal
	StatusFinalized
	StatusDropped
	StatusInvalid
	StatusUsurped
	StatusFinalityTimeout
)

var statusNames = [...]string{
	StatusBuilt:           "Built",
	StatusSigned:          "Signed",
	StatusSubmitted:       "Submitted",
	StatusFuture:          "Future",
	StatusReady:           "Ready",
	StatusBroadcast:       "Broadcast",
	StatusInBlock:         "InBlock",
	StatusRetracted:       "Retracted",
	StatusFinalized:       "Finalized",
	StatusDropped:         "Dropped",
	StatusInvalid:         "Invalid",
	StatusUsurped:         "Usurped",
	StatusFinalityTimeout: "FinalityTimeout",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

// IsTerminal reports whether no further status follows.
func (s Status) IsTerminal() bool {
	return s >= StatusFinalized && int(s) < len(statusNames)
}

func statusOf(es types.ExtrinsicStatus) Status {
	switch {
	case es.IsFinalized:
		return StatusFinalized
	case es.IsDropped:
		return StatusDropped
	case es.IsInvalid:
		return StatusInvalid
	case es.IsUsurped:
		return StatusUsurped
	case es.IsFinalityTimeout:
		return StatusFinalityTimeout
	case es.IsInBlock:
		return StatusInBlock
	case es.IsRetracted:
		return StatusRetracted
	case es.IsBroadcast:
		return StatusBroadcast
	case es.IsReady:
		return StatusReady
	default:
		return StatusFuture
	}
}

// blockOf returns the block hash a status refers to, if any.
func blockOf(es types.ExtrinsicStatus) (types.Hash, bool) {
	switch {
	case es.IsInBlock:
		return es.AsInBlock, true
	case es.IsRetracted:
		return es.AsRetracted, true
	case es.IsFinalized:
		return es.AsFinalized, true
	case es.IsFinalityTimeout:
		return es.AsFinalityTimeout, true
	}
	return types.Hash{}, false
}
