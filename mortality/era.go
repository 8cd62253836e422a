// Package mortality encodes the validity window of a mortal extrinsic.
//
// A mortal extrinsic names the period (a power of two) and the phase of the
// block it was anchored at. The destination chain accepts it only between its
// birth block and birth+period, which bounds how long a signed but unconfirmed
// transaction can be replayed.
package mortality

import (
	"fmt"
	"math/bits"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

const (
	MinPeriod = 4
	MaxPeriod = 1 << 16
)

// ValidatePeriod checks that period is a power of two within [MinPeriod, MaxPeriod].
// Encode must only be called with periods that pass this check.
func ValidatePeriod(period uint64) error {
	if period < MinPeriod || period > MaxPeriod {
		return fmt.Errorf("mortality period %d out of range [%d, %d]", period, MinPeriod, MaxPeriod)
	}
	if period&(period-1) != 0 {
		return fmt.Errorf("mortality period %d is not a power of two", period)
	}
	return nil
}

// Encode returns the two byte descriptor of the window that contains current.
// The result is undefined for a period rejected by ValidatePeriod.
func Encode(current, period uint64) [2]byte {
	phase := current % period
	quantizeFactor := quantizeFactor(period)
	quantizedPhase := phase / quantizeFactor * quantizeFactor

	low := uint64(bits.TrailingZeros64(period)) - 1
	if low < 1 {
		low = 1
	} else if low > 15 {
		low = 15
	}
	encoded := uint16(low) | uint16(quantizedPhase/quantizeFactor)<<4
	return [2]byte{byte(encoded), byte(encoded >> 8)}
}

func quantizeFactor(period uint64) uint64 {
	if f := period >> 12; f > 1 {
		return f
	}
	return 1
}

// Era is a decoded mortality descriptor.
type Era struct {
	period uint64
	phase  uint64
}

// NewEra returns the era anchored at current for the given period.
func NewEra(current, period uint64) Era {
	era, _ := Decode(Encode(current, period))
	return era
}

// Decode parses a two byte descriptor produced by Encode.
func Decode(b [2]byte) (Era, error) {
	encoded := uint64(b[0]) | uint64(b[1])<<8
	period := uint64(2) << (encoded % (1 << 4))
	phase := (encoded >> 4) * quantizeFactor(period)
	if period < MinPeriod || phase >= period {
		return Era{}, fmt.Errorf("invalid mortal era 0x%02x%02x", b[0], b[1])
	}
	return Era{period: period, phase: phase}, nil
}

func (e Era) Period() uint64 { return e.period }

func (e Era) Phase() uint64 { return e.phase }

// Birth returns the first block at which an extrinsic carrying this era is
// valid, given a block number at or after the one it was anchored at.
func (e Era) Birth(current uint64) uint64 {
	if current < e.phase {
		current = e.phase
	}
	return (current-e.phase)/e.period*e.period + e.phase
}

// Death returns the first block at which the extrinsic is no longer valid.
func (e Era) Death(current uint64) uint64 {
	return e.Birth(current) + e.period
}

// Bytes re-encodes the era.
func (e Era) Bytes() [2]byte {
	return Encode(e.phase, e.period)
}

// Extrinsic converts the era into the form carried by signed extrinsics.
func (e Era) Extrinsic() types.ExtrinsicEra {
	b := e.Bytes()
	return types.ExtrinsicEra{
		IsMortalEra: true,
		AsMortalEra: types.MortalEra{First: b[0], Second: b[1]},
	}
}
