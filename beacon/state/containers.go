package state

import (
	ssz "github.com/ferranbt/fastssz"
)

type Root [32]byte

type BLSPubkey [48]byte

const (
	forkInfoSize          = 16
	beaconBlockHeaderSize = 112
	checkpointSize        = 40
	eth1DataSize          = 72
	validatorSize         = 121
	historicalSummarySize = 64
	pendingDepositSize    = 192
	pendingWithdrawalSize = 24
	pendingConsolidSize   = 16
)

// ForkInfo is the beacon state's fork record.
type ForkInfo struct {
	PreviousVersion [4]byte
	CurrentVersion  [4]byte
	Epoch           uint64
}

func (f *ForkInfo) decode(r *reader) {
	r.read(f.PreviousVersion[:])
	r.read(f.CurrentVersion[:])
	f.Epoch = r.uint64()
}

func (f *ForkInfo) encode(dst []byte) []byte {
	dst = append(dst, f.PreviousVersion[:]...)
	dst = append(dst, f.CurrentVersion[:]...)
	return ssz.MarshalUint64(dst, f.Epoch)
}

func (f *ForkInfo) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(f.PreviousVersion[:])
	hh.PutBytes(f.CurrentVersion[:])
	hh.PutUint64(f.Epoch)
	hh.Merkleize(indx)
	return nil
}

type BeaconBlockHeader struct {
	Slot          uint64
	ProposerIndex uint64
	ParentRoot    Root
	StateRoot     Root
	BodyRoot      Root
}

func (h *BeaconBlockHeader) decode(r *reader) {
	h.Slot = r.uint64()
	h.ProposerIndex = r.uint64()
	h.ParentRoot = r.root()
	h.StateRoot = r.root()
	h.BodyRoot = r.root()
}

func (h *BeaconBlockHeader) encode(dst []byte) []byte {
	dst = ssz.MarshalUint64(dst, h.Slot)
	dst = ssz.MarshalUint64(dst, h.ProposerIndex)
	dst = append(dst, h.ParentRoot[:]...)
	dst = append(dst, h.StateRoot[:]...)
	return append(dst, h.BodyRoot[:]...)
}

func (h *BeaconBlockHeader) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutUint64(h.Slot)
	hh.PutUint64(h.ProposerIndex)
	hh.PutBytes(h.ParentRoot[:])
	hh.PutBytes(h.StateRoot[:])
	hh.PutBytes(h.BodyRoot[:])
	hh.Merkleize(indx)
	return nil
}

// HashTreeRoot returns the block root of the header.
func (h *BeaconBlockHeader) HashTreeRoot() ([32]byte, error) {
	return hashRoot(h)
}

// Checkpoint is an (epoch, root) pair used for finality justification.
type Checkpoint struct {
	Epoch uint64
	Root  Root
}

func (c *Checkpoint) decode(r *reader) {
	c.Epoch = r.uint64()
	c.Root = r.root()
}

func (c *Checkpoint) encode(dst []byte) []byte {
	dst = ssz.MarshalUint64(dst, c.Epoch)
	return append(dst, c.Root[:]...)
}

func (c *Checkpoint) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutUint64(c.Epoch)
	hh.PutBytes(c.Root[:])
	hh.Merkleize(indx)
	return nil
}

type Eth1Data struct {
	DepositRoot  Root
	DepositCount uint64
	BlockHash    Root
}

func (e *Eth1Data) decode(r *reader) {
	e.DepositRoot = r.root()
	e.DepositCount = r.uint64()
	e.BlockHash = r.root()
}

func (e *Eth1Data) encode(dst []byte) []byte {
	dst = append(dst, e.DepositRoot[:]...)
	dst = ssz.MarshalUint64(dst, e.DepositCount)
	return append(dst, e.BlockHash[:]...)
}

func (e *Eth1Data) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(e.DepositRoot[:])
	hh.PutUint64(e.DepositCount)
	hh.PutBytes(e.BlockHash[:])
	hh.Merkleize(indx)
	return nil
}

type Validator struct {
	Pubkey                     BLSPubkey
	WithdrawalCredentials      Root
	EffectiveBalance           uint64
	Slashed                    bool
	ActivationEligibilityEpoch uint64
	ActivationEpoch            uint64
	ExitEpoch                  uint64
	WithdrawableEpoch          uint64
}

func (v *Validator) decode(r *reader) error {
	r.read(v.Pubkey[:])
	v.WithdrawalCredentials = r.root()
	v.EffectiveBalance = r.uint64()
	slashed, err := r.bool()
	if err != nil {
		return err
	}
	v.Slashed = slashed
	v.ActivationEligibilityEpoch = r.uint64()
	v.ActivationEpoch = r.uint64()
	v.ExitEpoch = r.uint64()
	v.WithdrawableEpoch = r.uint64()
	return nil
}

func (v *Validator) encode(dst []byte) []byte {
	dst = append(dst, v.Pubkey[:]...)
	dst = append(dst, v.WithdrawalCredentials[:]...)
	dst = ssz.MarshalUint64(dst, v.EffectiveBalance)
	dst = ssz.MarshalBool(dst, v.Slashed)
	dst = ssz.MarshalUint64(dst, v.ActivationEligibilityEpoch)
	dst = ssz.MarshalUint64(dst, v.ActivationEpoch)
	dst = ssz.MarshalUint64(dst, v.ExitEpoch)
	return ssz.MarshalUint64(dst, v.WithdrawableEpoch)
}

func (v *Validator) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(v.Pubkey[:])
	hh.PutBytes(v.WithdrawalCredentials[:])
	hh.PutUint64(v.EffectiveBalance)
	hh.PutBool(v.Slashed)
	hh.PutUint64(v.ActivationEligibilityEpoch)
	hh.PutUint64(v.ActivationEpoch)
	hh.PutUint64(v.ExitEpoch)
	hh.PutUint64(v.WithdrawableEpoch)
	hh.Merkleize(indx)
	return nil
}

type SyncCommittee struct {
	Pubkeys         []BLSPubkey
	AggregatePubkey BLSPubkey
}

func syncCommitteeSize(p Preset) int {
	return int(p.SyncCommitteeSize)*48 + 48
}

func (c *SyncCommittee) decode(r *reader, p Preset) {
	c.Pubkeys = make([]BLSPubkey, p.SyncCommitteeSize)
	for i := range c.Pubkeys {
		r.read(c.Pubkeys[i][:])
	}
	r.read(c.AggregatePubkey[:])
}

func (c *SyncCommittee) encode(dst []byte) []byte {
	for i := range c.Pubkeys {
		dst = append(dst, c.Pubkeys[i][:]...)
	}
	return append(dst, c.AggregatePubkey[:]...)
}

func (c *SyncCommittee) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	{
		subIndx := hh.Index()
		for i := range c.Pubkeys {
			hh.PutBytes(c.Pubkeys[i][:])
		}
		hh.Merkleize(subIndx)
	}
	hh.PutBytes(c.AggregatePubkey[:])
	hh.Merkleize(indx)
	return nil
}

type HistoricalSummary struct {
	BlockSummaryRoot Root
	StateSummaryRoot Root
}

func (s *HistoricalSummary) decode(r *reader) {
	s.BlockSummaryRoot = r.root()
	s.StateSummaryRoot = r.root()
}

func (s *HistoricalSummary) encode(dst []byte) []byte {
	dst = append(dst, s.BlockSummaryRoot[:]...)
	return append(dst, s.StateSummaryRoot[:]...)
}

func (s *HistoricalSummary) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(s.BlockSummaryRoot[:])
	hh.PutBytes(s.StateSummaryRoot[:])
	hh.Merkleize(indx)
	return nil
}

type PendingDeposit struct {
	Pubkey                BLSPubkey
	WithdrawalCredentials Root
	Amount                uint64
	Signature             [96]byte
	Slot                  uint64
}

func (d *PendingDeposit) decode(r *reader) {
	r.read(d.Pubkey[:])
	d.WithdrawalCredentials = r.root()
	d.Amount = r.uint64()
	r.read(d.Signature[:])
	d.Slot = r.uint64()
}

func (d *PendingDeposit) encode(dst []byte) []byte {
	dst = append(dst, d.Pubkey[:]...)
	dst = append(dst, d.WithdrawalCredentials[:]...)
	dst = ssz.MarshalUint64(dst, d.Amount)
	dst = append(dst, d.Signature[:]...)
	return ssz.MarshalUint64(dst, d.Slot)
}

func (d *PendingDeposit) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutBytes(d.Pubkey[:])
	hh.PutBytes(d.WithdrawalCredentials[:])
	hh.PutUint64(d.Amount)
	hh.PutBytes(d.Signature[:])
	hh.PutUint64(d.Slot)
	hh.Merkleize(indx)
	return nil
}

type PendingPartialWithdrawal struct {
	ValidatorIndex    uint64
	Amount            uint64
	WithdrawableEpoch uint64
}

func (w *PendingPartialWithdrawal) decode(r *reader) {
	w.ValidatorIndex = r.uint64()
	w.Amount = r.uint64()
	w.WithdrawableEpoch = r.uint64()
}

func (w *PendingPartialWithdrawal) encode(dst []byte) []byte {
	dst = ssz.MarshalUint64(dst, w.ValidatorIndex)
	dst = ssz.MarshalUint64(dst, w.Amount)
	return ssz.MarshalUint64(dst, w.WithdrawableEpoch)
}

func (w *PendingPartialWithdrawal) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutUint64(w.ValidatorIndex)
	hh.PutUint64(w.Amount)
	hh.PutUint64(w.WithdrawableEpoch)
	hh.Merkleize(indx)
	return nil
}

type PendingConsolidation struct {
	SourceIndex uint64
	TargetIndex uint64
}

func (c *PendingConsolidation) decode(r *reader) {
	c.SourceIndex = r.uint64()
	c.TargetIndex = r.uint64()
}

func (c *PendingConsolidation) encode(dst []byte) []byte {
	dst = ssz.MarshalUint64(dst, c.SourceIndex)
	return ssz.MarshalUint64(dst, c.TargetIndex)
}

func (c *PendingConsolidation) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	hh.PutUint64(c.SourceIndex)
	hh.PutUint64(c.TargetIndex)
	hh.Merkleize(indx)
	return nil
}
