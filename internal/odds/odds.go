// Package odds decodes player selectors into win-probability terms and
// computes payout amounts. All functions are pure; the only state on
// Engine is jackpot configuration.
package odds

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// MinModulo and MaxMaskModulo bound the supported game variants. A
	// modulo up to 216 (other than 100) selects winning outcomes with a
	// bitmask over one slot per outcome.
	MinModulo     = 4
	MaxMaskModulo = 216

	// Masks are processed in 40-bit chunks. The multiply/mask/remainder
	// population-count identity below is only valid for operands up to
	// 42 bits, so the chunk must stay below that.
	chunkBits  = 40
	maskChunks = 6 // ceil(216 / 40)
)

var (
	ErrSelector  = errors.New("selector out of range")
	ErrModulo    = errors.New("modulo out of range")
	ErrRollUnder = errors.New("roll under out of range")
	ErrFee       = errors.New("jackpot fee exceeds amount")
	ErrOverflow  = errors.New("payout overflows")

	chunkMask = new(big.Int).Lsh(big.NewInt(1), chunkBits) // 2^40 - 1 after Sub
	maskLimit = new(big.Int).Lsh(big.NewInt(1), MaxMaskModulo)

	// Constant-time popcount of a 40-bit operand: the multiplier lays
	// six staggered copies of the operand so that the select mask picks
	// one bit of each 6-bit column, and the remainder by 63 sums the
	// columns.
	popcntMult, _   = new(big.Int).SetString("2000000000100000000008000000000400000000020000000001", 16)
	popcntSelect, _ = new(big.Int).SetString("1041041041041041041041041041041041041041041041041041041041041", 16)
	popcntModulo    = big.NewInt(0x3F)
)

func init() {
	chunkMask.Sub(chunkMask, big.NewInt(1))
}

// Engine carries the jackpot fee schedule. Amounts are in base units.
type Engine struct {
	JackpotThreshold uint64 // minimum wager that becomes jackpot-eligible
	JackpotFee       uint64 // flat fee charged on eligible wagers
}

// Decode interprets selector for the given modulo. For mask games the
// returned mask is non-nil and rollUnder is its population count; for
// threshold games (modulo 100, or above the mask limit) the mask is nil
// and rollUnder is the selector itself.
func Decode(selector *big.Int, modulo uint64) (rollUnder uint64, mask *big.Int, err error) {
	if modulo <= MaxMaskModulo && modulo != 100 {
		if selector.Sign() <= 0 || selector.Cmp(maskLimit) >= 0 {
			return 0, nil, fmt.Errorf("%w: mask must be in (0, 2^%d)", ErrSelector, MaxMaskModulo)
		}
		return PopCount(selector), new(big.Int).Set(selector), nil
	}

	if selector.Sign() <= 0 || !selector.IsUint64() || selector.Uint64() > modulo {
		return 0, nil, fmt.Errorf("%w: threshold must be in (0, %d]", ErrSelector, modulo)
	}
	return selector.Uint64(), nil, nil
}

// PopCount returns the number of set bits in a mask of up to 216 bits.
// The mask is consumed in 40-bit chunks; each chunk's bit count comes
// from the multiply/mask/remainder identity rather than a bit loop.
func PopCount(mask *big.Int) uint64 {
	m := new(big.Int).Set(mask)
	chunk := new(big.Int)
	scratch := new(big.Int)

	var total uint64
	for i := 0; i < maskChunks; i++ {
		chunk.And(m, chunkMask)
		scratch.Mul(chunk, popcntMult)
		scratch.And(scratch, popcntSelect)
		scratch.Mod(scratch, popcntModulo)
		total += scratch.Uint64()
		m.Rsh(m, chunkBits)
	}
	return total
}

// Payout computes the win amount and the jackpot fee for a wager.
// winAmount = floor((amount - fee) * modulo / rollUnder); the
// multiplication happens before the division and the result is
// truncated; the truncation is the house edge.
func (e Engine) Payout(amount, modulo, rollUnder uint64) (winAmount, jackpotFee uint64, err error) {
	if rollUnder == 0 || rollUnder > modulo {
		return 0, 0, fmt.Errorf("%w: rollUnder %d, modulo %d", ErrRollUnder, rollUnder, modulo)
	}

	if amount >= e.JackpotThreshold {
		jackpotFee = e.JackpotFee
	}
	if jackpotFee > amount {
		return 0, 0, ErrFee
	}

	win := new(big.Int).SetUint64(amount - jackpotFee)
	win.Mul(win, new(big.Int).SetUint64(modulo))
	win.Div(win, new(big.Int).SetUint64(rollUnder))
	if !win.IsUint64() {
		return 0, 0, ErrOverflow
	}
	return win.Uint64(), jackpotFee, nil
}
