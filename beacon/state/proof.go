package state

import (
	"fmt"

	"github.com/celer-network/go-bridge-relayer/beacon/merkle"
)

// ProveField proves a top-level field against the state root.
func ProveField(s BeaconState, name string) (*merkle.Proof, error) {
	gindex, err := GeneralizedIndex(s.Variant().Fork, name)
	if err != nil {
		return nil, err
	}
	return prove(s, gindex)
}

// FinalizedRootProof proves finalized_checkpoint.root.
func FinalizedRootProof(s BeaconState) (*merkle.Proof, error) {
	return prove(s, FinalizedRootGeneralizedIndex(s.Variant().Fork))
}

// BlockRootsProof proves the block_roots vector root.
func BlockRootsProof(s BeaconState) (*merkle.Proof, error) {
	return ProveField(s, FieldBlockRoots)
}

// ExecutionHeaderProof proves latest_execution_payload_header.
func ExecutionHeaderProof(s BeaconState) (*merkle.Proof, error) {
	return ProveField(s, FieldLatestExecutionPayloadHeader)
}

// ExecutionBlockHashProof proves latest_execution_payload_header.block_hash.
func ExecutionBlockHashProof(s BeaconState) (*merkle.Proof, error) {
	return prove(s, ExecutionBlockHashGeneralizedIndex(s.Variant().Fork))
}

// NextSyncCommitteeProof proves next_sync_committee.
func NextSyncCommitteeProof(s BeaconState) (*merkle.Proof, error) {
	return ProveField(s, FieldNextSyncCommittee)
}

// BlockRootProof proves the ancestor block root recorded for slot.
func BlockRootProof(s BeaconState, slot uint64) (*merkle.Proof, error) {
	if _, err := BlockRootAt(s, slot); err != nil {
		return nil, err
	}
	return prove(s, BlockRootGeneralizedIndex(s.Variant(), slot))
}

// BlockRootAt returns the root of the block at slot from the state's
// block_roots ring. Only the last SLOTS_PER_HISTORICAL_ROOT slots before the
// state's own slot are available.
func BlockRootAt(s BeaconState, slot uint64) (Root, error) {
	n := s.Variant().Preset.SlotsPerHistoricalRoot
	current := s.GetSlot()
	if slot >= current || current-slot > n {
		return Root{}, fmt.Errorf("slot %d is outside the block roots window of state at slot %d", slot, current)
	}
	return s.GetBlockRoots()[slot%n], nil
}

func prove(s BeaconState, gindex uint64) (*merkle.Proof, error) {
	tree, err := s.GetTree()
	if err != nil {
		return nil, err
	}
	return tree.Prove(gindex)
}
