package state

import (
	"fmt"
	"math"
	"strings"
)

// Preset carries the size constants that shape a beacon state.
type Preset struct {
	Name                           string
	SlotsPerEpoch                  uint64
	SlotsPerHistoricalRoot         uint64
	EpochsPerHistoricalVector      uint64
	EpochsPerSlashingsVector       uint64
	EpochsPerEth1VotingPeriod      uint64
	SyncCommitteeSize              uint64
	PendingDepositsLimit           uint64
	PendingPartialWithdrawalsLimit uint64
	PendingConsolidationsLimit     uint64
}

var (
	Mainnet = Preset{
		Name:                           "mainnet",
		SlotsPerEpoch:                  32,
		SlotsPerHistoricalRoot:         8192,
		EpochsPerHistoricalVector:      65536,
		EpochsPerSlashingsVector:       8192,
		EpochsPerEth1VotingPeriod:      64,
		SyncCommitteeSize:              512,
		PendingDepositsLimit:           1 << 27,
		PendingPartialWithdrawalsLimit: 1 << 27,
		PendingConsolidationsLimit:     1 << 18,
	}
	Minimal = Preset{
		Name:                           "minimal",
		SlotsPerEpoch:                  8,
		SlotsPerHistoricalRoot:         64,
		EpochsPerHistoricalVector:      64,
		EpochsPerSlashingsVector:       64,
		EpochsPerEth1VotingPeriod:      4,
		SyncCommitteeSize:              32,
		PendingDepositsLimit:           1 << 27,
		PendingPartialWithdrawalsLimit: 64,
		PendingConsolidationsLimit:     64,
	}
)

// PresetByName looks up a preset by its configuration name.
func PresetByName(name string) (Preset, error) {
	switch strings.ToLower(name) {
	case Mainnet.Name:
		return Mainnet, nil
	case Minimal.Name:
		return Minimal, nil
	}
	return Preset{}, fmt.Errorf("unknown beacon preset %q", name)
}

func (p Preset) eth1DataVotesLimit() uint64 {
	return p.EpochsPerEth1VotingPeriod * p.SlotsPerEpoch
}

// Fork identifies a beacon state layout.
type Fork int

const (
	Capella Fork = iota
	Deneb
	Electra
)

func (f Fork) String() string {
	switch f {
	case Capella:
		return "capella"
	case Deneb:
		return "deneb"
	case Electra:
		return "electra"
	}
	return fmt.Sprintf("fork(%d)", int(f))
}

// FarFutureEpoch marks a fork that is not scheduled.
const FarFutureEpoch = math.MaxUint64

// Variant is the (fork, preset) pair a state must be decoded with.
type Variant struct {
	Fork   Fork
	Preset Preset
}

func (v Variant) String() string {
	return v.Fork.String() + "/" + v.Preset.Name
}

// ForkSchedule maps epochs to state variants. It is the only way a variant
// is chosen; payload sizes are never used to guess one.
type ForkSchedule struct {
	Preset       Preset
	CapellaEpoch uint64
	DenebEpoch   uint64
	ElectraEpoch uint64
}

// VariantAt returns the variant active at epoch.
func (s ForkSchedule) VariantAt(epoch uint64) (Variant, error) {
	switch {
	case epoch >= s.ElectraEpoch && s.ElectraEpoch != FarFutureEpoch:
		return Variant{Fork: Electra, Preset: s.Preset}, nil
	case epoch >= s.DenebEpoch && s.DenebEpoch != FarFutureEpoch:
		return Variant{Fork: Deneb, Preset: s.Preset}, nil
	case epoch >= s.CapellaEpoch && s.CapellaEpoch != FarFutureEpoch:
		return Variant{Fork: Capella, Preset: s.Preset}, nil
	}
	return Variant{}, fmt.Errorf("epoch %d predates the capella fork (epoch %d)", epoch, s.CapellaEpoch)
}

// VariantForSlot returns the variant active at slot.
func (s ForkSchedule) VariantForSlot(slot uint64) (Variant, error) {
	return s.VariantAt(slot / s.Preset.SlotsPerEpoch)
}

// Validate checks that forks are scheduled in order.
func (s ForkSchedule) Validate() error {
	if s.Preset.SlotsPerEpoch == 0 {
		return fmt.Errorf("fork schedule has no preset")
	}
	if s.DenebEpoch < s.CapellaEpoch || s.ElectraEpoch < s.DenebEpoch {
		return fmt.Errorf("fork epochs out of order: capella=%d deneb=%d electra=%d",
			s.CapellaEpoch, s.DenebEpoch, s.ElectraEpoch)
	}
	return nil
}
