package booking

import (
	"github.com/Domenick1991/guardbooking/internal/domain"
)

// FeePolicy splits a booking total. Rates are basis points of the total;
// ProcessingFixed is a flat fee in minor units.
type FeePolicy struct {
	ProcessingRateBps int64 `yaml:"processing_rate_bps"`
	ProcessingFixed   int64 `yaml:"processing_fixed"`
	PlatformRateBps   int64 `yaml:"platform_rate_bps"`
}

type Breakdown struct {
	ProcessingFee int64
	PlatformCut   int64
	GuardPayout   int64
}

func (b Breakdown) Total() int64 {
	return b.ProcessingFee + b.PlatformCut + b.GuardPayout
}

// Split computes the breakdown for total. The guard payout absorbs rounding so
// the parts always sum to total exactly.
func (p FeePolicy) Split(total int64) (Breakdown, error) {
	if total <= 0 {
		return Breakdown{}, domain.Validation("total amount must be positive")
	}
	fee := bps(total, p.ProcessingRateBps) + p.ProcessingFixed
	cut := bps(total, p.PlatformRateBps)
	payout := total - fee - cut
	if payout < 0 {
		return Breakdown{}, domain.Validation("total amount %d does not cover fees", total)
	}
	return Breakdown{ProcessingFee: fee, PlatformCut: cut, GuardPayout: payout}, nil
}

// bps rounds half up.
func bps(amount, rate int64) int64 {
	return (amount*rate + 5000) / 10000
}
