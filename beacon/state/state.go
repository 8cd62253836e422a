// Package state decodes and merkleizes beacon chain states.
//
// A state's layout depends on the fork it was produced under and on the
// network preset. The variant is always chosen by the caller, usually through
// a ForkSchedule; Decode never guesses it from the payload, because a state
// decoded under the wrong variant can still hash to a well-formed root.
package state

import (
	"fmt"
	"sync"

	ssz "github.com/ferranbt/fastssz"

	"github.com/celer-network/go-bridge-relayer/beacon/merkle"
	"github.com/celer-network/go-bridge-relayer/relayerr"
)

const (
	historicalRootsLimit   = 1 << 24
	validatorRegistryLimit = 1 << 40
)

// BeaconState is the capability set shared by every state variant.
type BeaconState interface {
	Variant() Variant
	GetSlot() uint64
	GetLatestBlockHeader() *BeaconBlockHeader
	GetBlockRoots() []Root
	GetFinalizedCheckpoint() *Checkpoint
	GetExecutionPayloadHeader() *ExecutionPayloadHeader
	GetCurrentSyncCommittee() *SyncCommittee
	GetNextSyncCommittee() *SyncCommittee
	HashTreeRootWith(hh ssz.HashWalker) error
	HashTreeRoot() ([32]byte, error)
	// GetTree returns the state's merkle tree. It is built on first use and
	// shared by every later proof against the same state.
	GetTree() (*merkle.Node, error)
	MarshalSSZ() ([]byte, error)
}

type CapellaState struct{ *stateCore }

type DenebState struct{ *stateCore }

type ElectraState struct{ *stateCore }

// ElectraFields holds the churn and pending-queue fields added by Electra.
type ElectraFields struct {
	DepositRequestsStartIndex     uint64
	DepositBalanceToConsume       uint64
	ExitBalanceToConsume          uint64
	EarliestExitEpoch             uint64
	ConsolidationBalanceToConsume uint64
	EarliestConsolidationEpoch    uint64
	PendingDeposits               []PendingDeposit
	PendingPartialWithdrawals     []PendingPartialWithdrawal
	PendingConsolidations         []PendingConsolidation
}

func (s *ElectraState) Electra() *ElectraFields { return s.electra }

type stateCore struct {
	variant Variant

	GenesisTime                  uint64
	GenesisValidatorsRoot        Root
	Slot                         uint64
	Fork                         ForkInfo
	LatestBlockHeader            BeaconBlockHeader
	BlockRoots                   []Root
	StateRoots                   []Root
	HistoricalRoots              []Root
	Eth1Data                     Eth1Data
	Eth1DataVotes                []Eth1Data
	Eth1DepositIndex             uint64
	Validators                   []Validator
	Balances                     []uint64
	RandaoMixes                  []Root
	Slashings                    []uint64
	PreviousEpochParticipation   []byte
	CurrentEpochParticipation    []byte
	JustificationBits            byte
	PreviousJustifiedCheckpoint  Checkpoint
	CurrentJustifiedCheckpoint   Checkpoint
	FinalizedCheckpoint          Checkpoint
	InactivityScores             []uint64
	CurrentSyncCommittee         SyncCommittee
	NextSyncCommittee            SyncCommittee
	LatestExecutionPayloadHeader *ExecutionPayloadHeader
	NextWithdrawalIndex          uint64
	NextWithdrawalValidatorIndex uint64
	HistoricalSummaries          []HistoricalSummary

	electra *ElectraFields

	mu   sync.Mutex
	tree *merkle.Node
}

// Decode parses an SSZ encoded state under the given variant.
func Decode(buf []byte, v Variant) (BeaconState, error) {
	if v.Preset.SlotsPerHistoricalRoot == 0 {
		return nil, relayerr.Decodef("variant %s has no preset", v)
	}
	if v.Fork < Capella || v.Fork > Electra {
		return nil, relayerr.Decodef("unsupported fork %s", v.Fork)
	}
	core, err := decodeCore(buf, v)
	if err != nil {
		return nil, relayerr.Decode(err, "decode %s beacon state", v)
	}
	return wrap(core), nil
}

func wrap(core *stateCore) BeaconState {
	switch core.variant.Fork {
	case Deneb:
		return &DenebState{core}
	case Electra:
		return &ElectraState{core}
	}
	return &CapellaState{core}
}

func fixedSize(v Variant) int {
	p := v.Preset
	n := 8 + 32 + 8 + forkInfoSize + beaconBlockHeaderSize
	n += 2 * 32 * int(p.SlotsPerHistoricalRoot)
	n += 4 + eth1DataSize + 4 + 8
	n += 4 + 4
	n += 32*int(p.EpochsPerHistoricalVector) + 8*int(p.EpochsPerSlashingsVector)
	n += 4 + 4 + 1
	n += 3 * checkpointSize
	n += 4
	n += 2 * syncCommitteeSize(p)
	n += 4 + 8 + 8 + 4
	if v.Fork >= Electra {
		n += 6*8 + 3*4
	}
	return n
}

func decodeCore(buf []byte, v Variant) (*stateCore, error) {
	p := v.Preset
	fixed := fixedSize(v)
	if len(buf) < fixed {
		return nil, relayerr.Decode(ssz.ErrSize, "%d bytes, fixed part alone is %d", len(buf), fixed)
	}
	s := &stateCore{variant: v}
	r := &reader{buf: buf[:fixed]}

	s.GenesisTime = r.uint64()
	s.GenesisValidatorsRoot = r.root()
	s.Slot = r.uint64()
	s.Fork.decode(r)
	s.LatestBlockHeader.decode(r)
	s.BlockRoots = r.roots(p.SlotsPerHistoricalRoot)
	s.StateRoots = r.roots(p.SlotsPerHistoricalRoot)
	r.offset()
	s.Eth1Data.decode(r)
	r.offset()
	s.Eth1DepositIndex = r.uint64()
	r.offset()
	r.offset()
	s.RandaoMixes = r.roots(p.EpochsPerHistoricalVector)
	s.Slashings = r.uint64s(p.EpochsPerSlashingsVector)
	r.offset()
	r.offset()
	s.JustificationBits = r.byte()
	if s.JustificationBits&0xf0 != 0 {
		return nil, relayerr.Decodef("justification bits 0x%02x use more than 4 bits", s.JustificationBits)
	}
	s.PreviousJustifiedCheckpoint.decode(r)
	s.CurrentJustifiedCheckpoint.decode(r)
	s.FinalizedCheckpoint.decode(r)
	r.offset()
	s.CurrentSyncCommittee.decode(r, p)
	s.NextSyncCommittee.decode(r, p)
	r.offset()
	s.NextWithdrawalIndex = r.uint64()
	s.NextWithdrawalValidatorIndex = r.uint64()
	r.offset()
	if v.Fork >= Electra {
		e := &ElectraFields{}
		e.DepositRequestsStartIndex = r.uint64()
		e.DepositBalanceToConsume = r.uint64()
		e.ExitBalanceToConsume = r.uint64()
		e.EarliestExitEpoch = r.uint64()
		e.ConsolidationBalanceToConsume = r.uint64()
		e.EarliestConsolidationEpoch = r.uint64()
		r.offset()
		r.offset()
		r.offset()
		s.electra = e
	}

	tails, err := r.tails(buf, fixed)
	if err != nil {
		return nil, err
	}
	if s.HistoricalRoots, err = decodeRoots(FieldHistoricalRoots, tails[0], historicalRootsLimit); err != nil {
		return nil, err
	}
	if s.Eth1DataVotes, err = decodeList(FieldEth1DataVotes, tails[1], eth1DataSize, p.eth1DataVotesLimit(),
		infallible((*Eth1Data).decode)); err != nil {
		return nil, err
	}
	if s.Validators, err = decodeList(FieldValidators, tails[2], validatorSize, validatorRegistryLimit,
		(*Validator).decode); err != nil {
		return nil, err
	}
	if s.Balances, err = decodeUint64s(FieldBalances, tails[3], validatorRegistryLimit); err != nil {
		return nil, err
	}
	if s.PreviousEpochParticipation, err = decodeBytes(FieldPreviousEpochParticipation, tails[4], validatorRegistryLimit); err != nil {
		return nil, err
	}
	if s.CurrentEpochParticipation, err = decodeBytes(FieldCurrentEpochParticipation, tails[5], validatorRegistryLimit); err != nil {
		return nil, err
	}
	if s.InactivityScores, err = decodeUint64s(FieldInactivityScores, tails[6], validatorRegistryLimit); err != nil {
		return nil, err
	}
	if s.LatestExecutionPayloadHeader, err = decodePayloadHeader(tails[7], v.Fork >= Deneb); err != nil {
		return nil, err
	}
	if s.HistoricalSummaries, err = decodeList(FieldHistoricalSummaries, tails[8], historicalSummarySize, historicalRootsLimit,
		infallible((*HistoricalSummary).decode)); err != nil {
		return nil, err
	}
	if e := s.electra; e != nil {
		if e.PendingDeposits, err = decodeList(FieldPendingDeposits, tails[9], pendingDepositSize, p.PendingDepositsLimit,
			infallible((*PendingDeposit).decode)); err != nil {
			return nil, err
		}
		if e.PendingPartialWithdrawals, err = decodeList(FieldPendingPartialWithdrawals, tails[10], pendingWithdrawalSize,
			p.PendingPartialWithdrawalsLimit, infallible((*PendingPartialWithdrawal).decode)); err != nil {
			return nil, err
		}
		if e.PendingConsolidations, err = decodeList(FieldPendingConsolidations, tails[11], pendingConsolidSize,
			p.PendingConsolidationsLimit, infallible((*PendingConsolidation).decode)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *stateCore) Variant() Variant { return s.variant }

func (s *stateCore) GetSlot() uint64 { return s.Slot }

func (s *stateCore) GetLatestBlockHeader() *BeaconBlockHeader { return &s.LatestBlockHeader }

func (s *stateCore) GetBlockRoots() []Root { return s.BlockRoots }

func (s *stateCore) GetFinalizedCheckpoint() *Checkpoint { return &s.FinalizedCheckpoint }

func (s *stateCore) GetExecutionPayloadHeader() *ExecutionPayloadHeader {
	return s.LatestExecutionPayloadHeader
}

func (s *stateCore) GetCurrentSyncCommittee() *SyncCommittee { return &s.CurrentSyncCommittee }

func (s *stateCore) GetNextSyncCommittee() *SyncCommittee { return &s.NextSyncCommittee }

// MarshalSSZ re-encodes the state under its variant.
func (s *stateCore) MarshalSSZ() ([]byte, error) {
	if err := s.checkShape(); err != nil {
		return nil, err
	}
	v := s.variant
	fixed := fixedSize(v)

	var votes, validators, summaries []byte
	for i := range s.Eth1DataVotes {
		votes = s.Eth1DataVotes[i].encode(votes)
	}
	for i := range s.Validators {
		validators = s.Validators[i].encode(validators)
	}
	for i := range s.HistoricalSummaries {
		summaries = s.HistoricalSummaries[i].encode(summaries)
	}
	tails := [][]byte{
		appendRoots(nil, s.HistoricalRoots),
		votes,
		validators,
		appendUint64s(nil, s.Balances),
		s.PreviousEpochParticipation,
		s.CurrentEpochParticipation,
		appendUint64s(nil, s.InactivityScores),
		s.LatestExecutionPayloadHeader.encode(nil),
		summaries,
	}
	if e := s.electra; e != nil {
		var deposits, withdrawals, consolidations []byte
		for i := range e.PendingDeposits {
			deposits = e.PendingDeposits[i].encode(deposits)
		}
		for i := range e.PendingPartialWithdrawals {
			withdrawals = e.PendingPartialWithdrawals[i].encode(withdrawals)
		}
		for i := range e.PendingConsolidations {
			consolidations = e.PendingConsolidations[i].encode(consolidations)
		}
		tails = append(tails, deposits, withdrawals, consolidations)
	}

	size := fixed
	for _, t := range tails {
		size += len(t)
	}
	dst := make([]byte, 0, size)
	offset, next := fixed, 0
	writeOffset := func() {
		dst = ssz.WriteOffset(dst, offset)
		offset += len(tails[next])
		next++
	}

	dst = ssz.MarshalUint64(dst, s.GenesisTime)
	dst = append(dst, s.GenesisValidatorsRoot[:]...)
	dst = ssz.MarshalUint64(dst, s.Slot)
	dst = s.Fork.encode(dst)
	dst = s.LatestBlockHeader.encode(dst)
	dst = appendRoots(dst, s.BlockRoots)
	dst = appendRoots(dst, s.StateRoots)
	writeOffset()
	dst = s.Eth1Data.encode(dst)
	writeOffset()
	dst = ssz.MarshalUint64(dst, s.Eth1DepositIndex)
	writeOffset()
	writeOffset()
	dst = appendRoots(dst, s.RandaoMixes)
	dst = appendUint64s(dst, s.Slashings)
	writeOffset()
	writeOffset()
	dst = append(dst, s.JustificationBits)
	dst = s.PreviousJustifiedCheckpoint.encode(dst)
	dst = s.CurrentJustifiedCheckpoint.encode(dst)
	dst = s.FinalizedCheckpoint.encode(dst)
	writeOffset()
	dst = s.CurrentSyncCommittee.encode(dst)
	dst = s.NextSyncCommittee.encode(dst)
	writeOffset()
	dst = ssz.MarshalUint64(dst, s.NextWithdrawalIndex)
	dst = ssz.MarshalUint64(dst, s.NextWithdrawalValidatorIndex)
	writeOffset()
	if e := s.electra; e != nil {
		dst = ssz.MarshalUint64(dst, e.DepositRequestsStartIndex)
		dst = ssz.MarshalUint64(dst, e.DepositBalanceToConsume)
		dst = ssz.MarshalUint64(dst, e.ExitBalanceToConsume)
		dst = ssz.MarshalUint64(dst, e.EarliestExitEpoch)
		dst = ssz.MarshalUint64(dst, e.ConsolidationBalanceToConsume)
		dst = ssz.MarshalUint64(dst, e.EarliestConsolidationEpoch)
		writeOffset()
		writeOffset()
		writeOffset()
	}
	for _, t := range tails {
		dst = append(dst, t...)
	}
	return dst, nil
}

// checkShape verifies the vector lengths against the preset, so hashing and
// encoding never silently produce a root for a different layout.
func (s *stateCore) checkShape() error {
	p := s.variant.Preset
	checks := []struct {
		name      string
		got, want uint64
	}{
		{FieldBlockRoots, uint64(len(s.BlockRoots)), p.SlotsPerHistoricalRoot},
		{FieldStateRoots, uint64(len(s.StateRoots)), p.SlotsPerHistoricalRoot},
		{FieldRandaoMixes, uint64(len(s.RandaoMixes)), p.EpochsPerHistoricalVector},
		{FieldSlashings, uint64(len(s.Slashings)), p.EpochsPerSlashingsVector},
		{FieldCurrentSyncCommittee, uint64(len(s.CurrentSyncCommittee.Pubkeys)), p.SyncCommitteeSize},
		{FieldNextSyncCommittee, uint64(len(s.NextSyncCommittee.Pubkeys)), p.SyncCommitteeSize},
	}
	for _, c := range checks {
		if c.got != c.want {
			return fmt.Errorf("%s has %d entries, %s expects %d", c.name, c.got, s.variant, c.want)
		}
	}
	if s.LatestExecutionPayloadHeader == nil {
		return fmt.Errorf("%s is missing", FieldLatestExecutionPayloadHeader)
	}
	if s.LatestExecutionPayloadHeader.HasBlobGas != (s.variant.Fork >= Deneb) {
		return fmt.Errorf("execution payload header layout does not match %s", s.variant)
	}
	if (s.electra != nil) != (s.variant.Fork >= Electra) {
		return fmt.Errorf("electra fields do not match %s", s.variant)
	}
	return nil
}

func uint64Field(v uint64) fieldHasher {
	return func(hh ssz.HashWalker) error { hh.PutUint64(v); return nil }
}

func bytesField(b []byte) fieldHasher {
	return func(hh ssz.HashWalker) error { hh.PutBytes(b); return nil }
}

// fields lists one hasher per state field, in container order.
func (s *stateCore) fields() []fieldHasher {
	p := s.variant.Preset
	fields := []fieldHasher{
		uint64Field(s.GenesisTime),
		bytesField(s.GenesisValidatorsRoot[:]),
		uint64Field(s.Slot),
		s.Fork.HashTreeRootWith,
		s.LatestBlockHeader.HashTreeRootWith,
		func(hh ssz.HashWalker) error { hashRoots(hh, s.BlockRoots); return nil },
		func(hh ssz.HashWalker) error { hashRoots(hh, s.StateRoots); return nil },
		func(hh ssz.HashWalker) error {
			hashRootList(hh, s.HistoricalRoots, historicalRootsLimit)
			return nil
		},
		s.Eth1Data.HashTreeRootWith,
		func(hh ssz.HashWalker) error { return hashList(hh, s.Eth1DataVotes, p.eth1DataVotesLimit()) },
		uint64Field(s.Eth1DepositIndex),
		func(hh ssz.HashWalker) error { return hashList(hh, s.Validators, validatorRegistryLimit) },
		func(hh ssz.HashWalker) error {
			hashUint64List(hh, s.Balances, validatorRegistryLimit)
			return nil
		},
		func(hh ssz.HashWalker) error { hashRoots(hh, s.RandaoMixes); return nil },
		func(hh ssz.HashWalker) error { hashUint64Vector(hh, s.Slashings); return nil },
		func(hh ssz.HashWalker) error {
			hashByteList(hh, s.PreviousEpochParticipation, validatorRegistryLimit)
			return nil
		},
		func(hh ssz.HashWalker) error {
			hashByteList(hh, s.CurrentEpochParticipation, validatorRegistryLimit)
			return nil
		},
		bytesField([]byte{s.JustificationBits}),
		s.PreviousJustifiedCheckpoint.HashTreeRootWith,
		s.CurrentJustifiedCheckpoint.HashTreeRootWith,
		s.FinalizedCheckpoint.HashTreeRootWith,
		func(hh ssz.HashWalker) error {
			hashUint64List(hh, s.InactivityScores, validatorRegistryLimit)
			return nil
		},
		s.CurrentSyncCommittee.HashTreeRootWith,
		s.NextSyncCommittee.HashTreeRootWith,
		s.LatestExecutionPayloadHeader.HashTreeRootWith,
		uint64Field(s.NextWithdrawalIndex),
		uint64Field(s.NextWithdrawalValidatorIndex),
		func(hh ssz.HashWalker) error { return hashList(hh, s.HistoricalSummaries, historicalRootsLimit) },
	}
	if e := s.electra; e != nil {
		fields = append(fields,
			uint64Field(e.DepositRequestsStartIndex),
			uint64Field(e.DepositBalanceToConsume),
			uint64Field(e.ExitBalanceToConsume),
			uint64Field(e.EarliestExitEpoch),
			uint64Field(e.ConsolidationBalanceToConsume),
			uint64Field(e.EarliestConsolidationEpoch),
			func(hh ssz.HashWalker) error { return hashList(hh, e.PendingDeposits, p.PendingDepositsLimit) },
			func(hh ssz.HashWalker) error {
				return hashList(hh, e.PendingPartialWithdrawals, p.PendingPartialWithdrawalsLimit)
			},
			func(hh ssz.HashWalker) error {
				return hashList(hh, e.PendingConsolidations, p.PendingConsolidationsLimit)
			},
		)
	}
	return fields
}

func (s *stateCore) HashTreeRootWith(hh ssz.HashWalker) error {
	if err := s.checkShape(); err != nil {
		return err
	}
	return merkleizeFields(hh, s.fields())
}

func (s *stateCore) HashTreeRoot() ([32]byte, error) {
	return hashRoot(s)
}

func (s *stateCore) GetTree() (*merkle.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree != nil {
		return s.tree, nil
	}
	if err := s.checkShape(); err != nil {
		return nil, err
	}
	roots, err := fieldRoots(s.fields())
	if err != nil {
		return nil, err
	}
	fork := s.variant.Fork
	tree, err := merkle.FromChunks(roots, TreeDepth(fork))
	if err != nil {
		return nil, err
	}

	// Expand the fields relay proofs descend into.
	blockRoots, err := merkle.FromChunks(rootChunks(s.BlockRoots), log2(s.variant.Preset.SlotsPerHistoricalRoot))
	if err != nil {
		return nil, err
	}
	checkpoint, err := merkle.FromChunks([][]byte{uint64Chunk(s.FinalizedCheckpoint.Epoch), s.FinalizedCheckpoint.Root[:]}, 1)
	if err != nil {
		return nil, err
	}
	header := s.LatestBlockHeader
	blockHeader, err := merkle.FromChunks([][]byte{
		uint64Chunk(header.Slot), uint64Chunk(header.ProposerIndex),
		header.ParentRoot[:], header.StateRoot[:], header.BodyRoot[:],
	}, 3)
	if err != nil {
		return nil, err
	}
	payloadRoots, err := fieldRoots(s.LatestExecutionPayloadHeader.fields())
	if err != nil {
		return nil, err
	}
	payload, err := merkle.FromChunks(payloadRoots, s.LatestExecutionPayloadHeader.depth())
	if err != nil {
		return nil, err
	}
	for name, sub := range map[string]*merkle.Node{
		FieldBlockRoots:                   blockRoots,
		FieldFinalizedCheckpoint:          checkpoint,
		FieldLatestBlockHeader:            blockHeader,
		FieldLatestExecutionPayloadHeader: payload,
	} {
		if err := tree.Replace(mustGeneralizedIndex(fork, name), sub); err != nil {
			return nil, fmt.Errorf("expand %s: %w", name, err)
		}
	}
	s.tree = tree
	return tree, nil
}

func rootChunks(roots []Root) [][]byte {
	out := make([][]byte, len(roots))
	for i := range roots {
		out[i] = roots[i][:]
	}
	return out
}

func uint64Chunk(v uint64) []byte {
	return append(ssz.MarshalUint64(make([]byte, 0, 32), v), make([]byte, 24)...)
}
