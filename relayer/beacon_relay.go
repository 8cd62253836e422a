package relayer

import (
	"context"
	"math/big"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/cockroachdb/errors"

	"github.com/celer-network/go-bridge-relayer/beacon/state"
	"github.com/celer-network/go-bridge-relayer/relayerr"
	"github.com/celer-network/go-bridge-relayer/writer"
)

// BeaconRelay submits finalized beacon checkpoints to the destination's
// beacon light client.
type BeaconRelay struct {
	schedule state.ForkSchedule
	sink     Sink
}

func NewBeaconRelay(schedule state.ForkSchedule, sink Sink) *BeaconRelay {
	return &BeaconRelay{schedule: schedule, sink: sink}
}

// RelayCheckpoint decodes the SSZ state finalized at slot and submits its
// checkpoint update. It returns a nil update without submitting when the
// destination already holds a checkpoint at or after slot.
func (r *BeaconRelay) RelayCheckpoint(ctx context.Context, rawState []byte, slot uint64) (*state.CheckpointUpdate, error) {
	var latest *writer.Checkpoint
	err := read(ctx, "finalized checkpoint", func() error {
		var err error
		latest, err = r.sink.LatestFinalizedCheckpoint()
		return err
	})
	if err != nil && !errors.Is(err, relayerr.ErrStorageNotFound) {
		return nil, err
	}
	if latest != nil && slot <= latest.Slot {
		logger.Info().Uint64("slot", slot).Uint64("latest", latest.Slot).Msg("Checkpoint already finalized on destination")
		return nil, nil
	}

	variant, err := r.schedule.VariantForSlot(slot)
	if err != nil {
		return nil, relayerr.Decode(err, "choose state variant for slot %d", slot)
	}
	s, err := state.Decode(rawState, variant)
	if err != nil {
		return nil, err
	}
	if s.GetSlot() != slot {
		return nil, relayerr.Decodef("%s state is at slot %d, expected %d", variant, s.GetSlot(), slot)
	}
	update, err := state.NewCheckpointUpdate(s)
	if err != nil {
		return nil, err
	}
	payload, err := newCheckpointPayload(update)
	if err != nil {
		return nil, err
	}
	if err := r.sink.SubmitAndWatch(ctx, submitCheckpointCall, payload); err != nil {
		return nil, err
	}
	logger.Info().Uint64("slot", slot).Str("variant", variant.String()).
		Uint64("finalizedEpoch", update.FinalizedCheckpoint.Epoch).
		Uint64("executionBlock", update.ExecutionHeader.BlockNumber).Msg("Relayed checkpoint")
	return update, nil
}

// CheckpointPayload is the SCALE shape of a checkpoint update.
type CheckpointPayload struct {
	Header             BeaconHeader
	FinalizedEpoch     gsrpc.U64
	FinalizedBlockRoot gsrpc.H256
	FinalizedBranch    []gsrpc.H256
	BlockRootsRoot     gsrpc.H256
	BlockRootsBranch   []gsrpc.H256
	ExecutionHeader    ExecutionHeader
	ExecutionBranch    []gsrpc.H256
}

type BeaconHeader struct {
	Slot          gsrpc.U64
	ProposerIndex gsrpc.U64
	ParentRoot    gsrpc.H256
	StateRoot     gsrpc.H256
	BodyRoot      gsrpc.H256
}

// ExecutionHeader carries the blob gas fields only from Deneb on.
type ExecutionHeader struct {
	ParentHash       gsrpc.H256
	FeeRecipient     gsrpc.H160
	StateRoot        gsrpc.H256
	ReceiptsRoot     gsrpc.H256
	LogsBloom        gsrpc.Bytes
	PrevRandao       gsrpc.H256
	BlockNumber      gsrpc.U64
	GasLimit         gsrpc.U64
	GasUsed          gsrpc.U64
	Timestamp        gsrpc.U64
	ExtraData        gsrpc.Bytes
	BaseFeePerGas    gsrpc.U256
	BlockHash        gsrpc.H256
	TransactionsRoot gsrpc.H256
	WithdrawalsRoot  gsrpc.H256
	BlobGasUsed      gsrpc.OptionU64
	ExcessBlobGas    gsrpc.OptionU64
}

func branch(hashes [][]byte) ([]gsrpc.H256, error) {
	out := make([]gsrpc.H256, len(hashes))
	for i, h := range hashes {
		if len(h) != 32 {
			return nil, relayerr.Decodef("branch node %d has %d bytes", i, len(h))
		}
		out[i] = gsrpc.NewH256(h)
	}
	return out, nil
}

// littleEndianInt reads an SSZ uint256.
func littleEndianInt(b [32]byte) *big.Int {
	var be [32]byte
	for i := range b {
		be[31-i] = b[i]
	}
	return new(big.Int).SetBytes(be[:])
}

func newExecutionHeader(h *state.ExecutionPayloadHeader) ExecutionHeader {
	out := ExecutionHeader{
		ParentHash:       gsrpc.NewH256(h.ParentHash[:]),
		FeeRecipient:     gsrpc.NewH160(h.FeeRecipient[:]),
		StateRoot:        gsrpc.NewH256(h.StateRoot[:]),
		ReceiptsRoot:     gsrpc.NewH256(h.ReceiptsRoot[:]),
		LogsBloom:        gsrpc.NewBytes(h.LogsBloom[:]),
		PrevRandao:       gsrpc.NewH256(h.PrevRandao[:]),
		BlockNumber:      gsrpc.U64(h.BlockNumber),
		GasLimit:         gsrpc.U64(h.GasLimit),
		GasUsed:          gsrpc.U64(h.GasUsed),
		Timestamp:        gsrpc.U64(h.Timestamp),
		ExtraData:        gsrpc.NewBytes(h.ExtraData),
		BaseFeePerGas:    gsrpc.NewU256(*littleEndianInt(h.BaseFeePerGas)),
		BlockHash:        gsrpc.NewH256(h.BlockHash[:]),
		TransactionsRoot: gsrpc.NewH256(h.TransactionsRoot[:]),
		WithdrawalsRoot:  gsrpc.NewH256(h.WithdrawalsRoot[:]),
		BlobGasUsed:      gsrpc.NewOptionU64Empty(),
		ExcessBlobGas:    gsrpc.NewOptionU64Empty(),
	}
	if h.HasBlobGas {
		out.BlobGasUsed = gsrpc.NewOptionU64(gsrpc.U64(h.BlobGasUsed))
		out.ExcessBlobGas = gsrpc.NewOptionU64(gsrpc.U64(h.ExcessBlobGas))
	}
	return out
}

func newCheckpointPayload(u *state.CheckpointUpdate) (*CheckpointPayload, error) {
	finalized, err := branch(u.FinalizedBranch)
	if err != nil {
		return nil, err
	}
	blockRoots, err := branch(u.BlockRootsBranch)
	if err != nil {
		return nil, err
	}
	execution, err := branch(u.ExecutionBranch)
	if err != nil {
		return nil, err
	}
	return &CheckpointPayload{
		Header: BeaconHeader{
			Slot:          gsrpc.U64(u.Header.Slot),
			ProposerIndex: gsrpc.U64(u.Header.ProposerIndex),
			ParentRoot:    gsrpc.NewH256(u.Header.ParentRoot[:]),
			StateRoot:     gsrpc.NewH256(u.Header.StateRoot[:]),
			BodyRoot:      gsrpc.NewH256(u.Header.BodyRoot[:]),
		},
		FinalizedEpoch:     gsrpc.U64(u.FinalizedCheckpoint.Epoch),
		FinalizedBlockRoot: gsrpc.NewH256(u.FinalizedCheckpoint.Root[:]),
		FinalizedBranch:    finalized,
		BlockRootsRoot:     gsrpc.NewH256(u.BlockRootsRoot[:]),
		BlockRootsBranch:   blockRoots,
		ExecutionHeader:    newExecutionHeader(u.ExecutionHeader),
		ExecutionBranch:    execution,
	}, nil
}
