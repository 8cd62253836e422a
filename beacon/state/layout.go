package state

import (
	"fmt"

	"github.com/celer-network/go-bridge-relayer/beacon/merkle"
)

// Field names follow the consensus specification.
const (
	FieldGenesisTime                   = "genesis_time"
	FieldGenesisValidatorsRoot         = "genesis_validators_root"
	FieldSlot                          = "slot"
	FieldFork                          = "fork"
	FieldLatestBlockHeader             = "latest_block_header"
	FieldBlockRoots                    = "block_roots"
	FieldStateRoots                    = "state_roots"
	FieldHistoricalRoots               = "historical_roots"
	FieldEth1Data                      = "eth1_data"
	FieldEth1DataVotes                 = "eth1_data_votes"
	FieldEth1DepositIndex              = "eth1_deposit_index"
	FieldValidators                    = "validators"
	FieldBalances                      = "balances"
	FieldRandaoMixes                   = "randao_mixes"
	FieldSlashings                     = "slashings"
	FieldPreviousEpochParticipation    = "previous_epoch_participation"
	FieldCurrentEpochParticipation     = "current_epoch_participation"
	FieldJustificationBits             = "justification_bits"
	FieldPreviousJustifiedCheckpoint   = "previous_justified_checkpoint"
	FieldCurrentJustifiedCheckpoint    = "current_justified_checkpoint"
	FieldFinalizedCheckpoint           = "finalized_checkpoint"
	FieldInactivityScores              = "inactivity_scores"
	FieldCurrentSyncCommittee          = "current_sync_committee"
	FieldNextSyncCommittee             = "next_sync_committee"
	FieldLatestExecutionPayloadHeader  = "latest_execution_payload_header"
	FieldNextWithdrawalIndex           = "next_withdrawal_index"
	FieldNextWithdrawalValidatorIndex  = "next_withdrawal_validator_index"
	FieldHistoricalSummaries           = "historical_summaries"
	FieldDepositRequestsStartIndex     = "deposit_requests_start_index"
	FieldDepositBalanceToConsume       = "deposit_balance_to_consume"
	FieldExitBalanceToConsume          = "exit_balance_to_consume"
	FieldEarliestExitEpoch             = "earliest_exit_epoch"
	FieldConsolidationBalanceToConsume = "consolidation_balance_to_consume"
	FieldEarliestConsolidationEpoch    = "earliest_consolidation_epoch"
	FieldPendingDeposits               = "pending_deposits"
	FieldPendingPartialWithdrawals     = "pending_partial_withdrawals"
	FieldPendingConsolidations         = "pending_consolidations"
)

var capellaFields = []string{
	FieldGenesisTime,
	FieldGenesisValidatorsRoot,
	FieldSlot,
	FieldFork,
	FieldLatestBlockHeader,
	FieldBlockRoots,
	FieldStateRoots,
	FieldHistoricalRoots,
	FieldEth1Data,
	FieldEth1DataVotes,
	FieldEth1DepositIndex,
	FieldValidators,
	FieldBalances,
	FieldRandaoMixes,
	FieldSlashings,
	FieldPreviousEpochParticipation,
	FieldCurrentEpochParticipation,
	FieldJustificationBits,
	FieldPreviousJustifiedCheckpoint,
	FieldCurrentJustifiedCheckpoint,
	FieldFinalizedCheckpoint,
	FieldInactivityScores,
	FieldCurrentSyncCommittee,
	FieldNextSyncCommittee,
	FieldLatestExecutionPayloadHeader,
	FieldNextWithdrawalIndex,
	FieldNextWithdrawalValidatorIndex,
	FieldHistoricalSummaries,
}

var electraFields = append(append([]string(nil), capellaFields...),
	FieldDepositRequestsStartIndex,
	FieldDepositBalanceToConsume,
	FieldExitBalanceToConsume,
	FieldEarliestExitEpoch,
	FieldConsolidationBalanceToConsume,
	FieldEarliestConsolidationEpoch,
	FieldPendingDeposits,
	FieldPendingPartialWithdrawals,
	FieldPendingConsolidations,
)

// Fields returns the ordered field names of the state for fork.
func Fields(fork Fork) []string {
	if fork >= Electra {
		return electraFields
	}
	return capellaFields
}

// TreeDepth is the depth of the state container's field tree.
func TreeDepth(fork Fork) int {
	if fork >= Electra {
		return 6
	}
	return 5
}

// FieldIndex returns the position of name in the state container.
func FieldIndex(fork Fork, name string) (int, error) {
	for i, f := range Fields(fork) {
		if f == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s state has no field %q", fork, name)
}

// GeneralizedIndex returns the generalized index of a top-level state field.
func GeneralizedIndex(fork Fork, name string) (uint64, error) {
	i, err := FieldIndex(fork, name)
	if err != nil {
		return 0, err
	}
	return merkle.FieldIndex(TreeDepth(fork), uint64(i)), nil
}

func mustGeneralizedIndex(fork Fork, name string) uint64 {
	g, err := GeneralizedIndex(fork, name)
	if err != nil {
		panic(err)
	}
	return g
}

// FinalizedRootGeneralizedIndex is the gindex of finalized_checkpoint.root.
func FinalizedRootGeneralizedIndex(fork Fork) uint64 {
	// checkpoint is (epoch, root): root is leaf 1 of a depth 1 tree
	return merkle.ChildIndex(mustGeneralizedIndex(fork, FieldFinalizedCheckpoint), 3)
}

// ExecutionBlockHashGeneralizedIndex is the gindex of
// latest_execution_payload_header.block_hash.
func ExecutionBlockHashGeneralizedIndex(fork Fork) uint64 {
	depth := 4
	if fork >= Deneb {
		depth = 5
	}
	return merkle.ChildIndex(mustGeneralizedIndex(fork, FieldLatestExecutionPayloadHeader),
		merkle.FieldIndex(depth, ExecutionBlockHashField))
}

// BlockRootGeneralizedIndex is the gindex of block_roots[slot % SLOTS_PER_HISTORICAL_ROOT].
func BlockRootGeneralizedIndex(v Variant, slot uint64) uint64 {
	n := v.Preset.SlotsPerHistoricalRoot
	return merkle.ChildIndex(mustGeneralizedIndex(v.Fork, FieldBlockRoots),
		merkle.FieldIndex(log2(n), slot%n))
}

func log2(n uint64) int {
	d := 0
	for uint64(1)<<uint(d) < n {
		d++
	}
	return d
}
