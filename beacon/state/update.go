package state

import (
	"fmt"

	"github.com/celer-network/go-bridge-relayer/beacon/merkle"
)

// CheckpointUpdate carries a finalized state's header and the branches a
// light client needs to accept it: the finalized checkpoint, the block roots
// vector and the execution payload header, each proven against the header's
// state root.
type CheckpointUpdate struct {
	Header              BeaconBlockHeader
	BlockRoot           Root
	FinalizedCheckpoint Checkpoint
	FinalizedBranch     [][]byte
	BlockRootsRoot      Root
	BlockRootsBranch    [][]byte
	ExecutionHeader     *ExecutionPayloadHeader
	ExecutionBranch     [][]byte
}

// NewCheckpointUpdate builds the update for s. The state's latest block header
// has a zero state root until the next slot is processed; it is filled in with
// the root of s. The state is merkleized once, into the tree the proofs share.
func NewCheckpointUpdate(s BeaconState) (*CheckpointUpdate, error) {
	tree, err := s.GetTree()
	if err != nil {
		return nil, err
	}
	var stateRoot Root
	copy(stateRoot[:], tree.Hash())
	header := *s.GetLatestBlockHeader()
	if header.StateRoot == (Root{}) {
		header.StateRoot = stateRoot
	}
	if header.StateRoot != stateRoot {
		return nil, fmt.Errorf("latest block header at slot %d does not commit to state at slot %d", header.Slot, s.GetSlot())
	}
	blockRoot, err := header.HashTreeRoot()
	if err != nil {
		return nil, err
	}

	finalized, err := FinalizedRootProof(s)
	if err != nil {
		return nil, err
	}
	blockRoots, err := BlockRootsProof(s)
	if err != nil {
		return nil, err
	}
	execution, err := ExecutionHeaderProof(s)
	if err != nil {
		return nil, err
	}
	for _, p := range []*merkle.Proof{finalized, blockRoots, execution} {
		if !p.Verify(stateRoot[:]) {
			return nil, fmt.Errorf("branch for gindex %d does not verify against state root", p.Index)
		}
	}

	u := &CheckpointUpdate{
		Header:              header,
		BlockRoot:           blockRoot,
		FinalizedCheckpoint: *s.GetFinalizedCheckpoint(),
		FinalizedBranch:     finalized.Hashes,
		BlockRootsBranch:    blockRoots.Hashes,
		ExecutionHeader:     s.GetExecutionPayloadHeader(),
		ExecutionBranch:     execution.Hashes,
	}
	copy(u.BlockRootsRoot[:], blockRoots.Leaf)
	return u, nil
}
