package settlement

import (
	"fmt"
	"math/bits"

	"github.com/lox/wordchain/internal/ledger"
)

// Distribution splits a round's pool between winners and the treasury.
type Distribution struct {
	Pool           uint64
	TreasuryCut    uint64
	PrizePool      uint64
	PerWinnerShare uint64
	// Dust is the part of the prize pool that cannot be split evenly, or the
	// whole prize pool when nobody won. It goes to the treasury.
	Dust uint64
}

// TreasuryCredit is the amount credited to the treasury.
func (d Distribution) TreasuryCredit() uint64 {
	return d.TreasuryCut + d.Dust
}

// Distribute computes the split of pool for winners winners at feePercent.
// The result always satisfies share*winners + cut + dust == pool.
func Distribute(pool, feePercent uint64, winners int) (Distribution, error) {
	if feePercent > 100 {
		return Distribution{}, fmt.Errorf("%w: treasury fee percent %d", ledger.ErrValidation, feePercent)
	}
	if winners < 0 {
		return Distribution{}, fmt.Errorf("%w: negative winner count", ledger.ErrValidation)
	}

	// pool*feePercent can exceed 64 bits; divide the 128-bit product.
	hi, lo := bits.Mul64(pool, feePercent)
	cut, _ := bits.Div64(hi, lo, 100)

	d := Distribution{
		Pool:        pool,
		TreasuryCut: cut,
		PrizePool:   pool - cut,
	}
	if winners == 0 {
		d.Dust = d.PrizePool
		return d, nil
	}
	n := uint64(winners)
	d.PerWinnerShare = d.PrizePool / n
	d.Dust = d.PrizePool - d.PerWinnerShare*n
	return d, nil
}
