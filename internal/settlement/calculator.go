// Package settlement computes what each redeemed claim is owed once a sale
// is finalized, and writes it back to the ledger through settle_claim.
//
// For a sale with revenue R and fee f basis points, and claims burning b_i
// out of a total B:
//
//	fee       = floor(R * f / 10000)
//	net       = R - fee
//	claimable = floor(net * b_i / B)
//
// Products are taken in 128 bits, so no input in range can overflow.
// Claims already paid out keep their amount. Those amounts come off net
// first and the remainder is split among the open claims by their share of
// the open burns, so a burn after payout never pushes the total past net.
// Rounding dust (net minus the sum of claimables) stays undistributed.
package settlement

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/roach88/voltchain/internal/ir"
)

// BasisPoints is the fee denominator.
const BasisPoints = 10_000

// ppm scales a share to millionths (a percentage with four decimals).
const ppm = 1_000_000

var (
	// ErrFeeTooHigh is returned for sales whose fee exceeds the revenue.
	ErrFeeTooHigh = errors.New("fee exceeds revenue")

	// ErrSaleMismatch is returned when a claim belongs to another sale.
	ErrSaleMismatch = errors.New("claim belongs to another sale")

	// ErrSaleOpen is returned when settling a sale that is not finalized.
	ErrSaleOpen = errors.New("sale is not finalized")

	// ErrOverpaid is returned when paid claims already exceed the net revenue.
	ErrOverpaid = errors.New("paid claims exceed net revenue")
)

// Share is one user's line in a settlement.
type Share struct {
	User            ir.Identity `json:"user"`
	BurnedAmount    uint64      `json:"burned_amount"`
	SharePPM        uint64      `json:"share_ppm"` // share of total burned, in millionths
	ClaimableAmount uint64      `json:"claimable_amount"`
	Claimed         bool        `json:"claimed"` // already paid out; its amount is fixed
}

// Report is the settlement of one sale.
type Report struct {
	SaleID        uint64  `json:"sale_id"`
	EnergySold    uint64  `json:"energy_sold"`
	Revenue       uint64  `json:"revenue"`
	Fee           uint64  `json:"fee"`
	NetRevenue    uint64  `json:"net_revenue"`
	TotalBurned   uint64  `json:"total_burned"`
	Undistributed uint64  `json:"undistributed"`
	Shares        []Share `json:"shares"` // ordered by user
}

// Calculate settles claims against sale. Claims are not mutated.
func Calculate(sale ir.Sale, claims []ir.UserClaim) (Report, error) {
	if sale.FeeBps > BasisPoints {
		return Report{}, fmt.Errorf("sale %d: fee %d bps: %w", sale.ID, sale.FeeBps, ErrFeeTooHigh)
	}

	fee := mulDiv(sale.Revenue, uint64(sale.FeeBps), BasisPoints)
	r := Report{
		SaleID:     sale.ID,
		EnergySold: sale.EnergySold,
		Revenue:    sale.Revenue,
		Fee:        fee,
		NetRevenue: sale.Revenue - fee,
	}

	// Paid claims are fixed. The rest of net is split among open claims by
	// their share of the open burns.
	var paid, openBurned uint64
	for _, c := range claims {
		if c.SaleID != sale.ID {
			return Report{}, fmt.Errorf("claim of %s on sale %d, settling %d: %w", c.User, c.SaleID, sale.ID, ErrSaleMismatch)
		}
		total, carry := bits.Add64(r.TotalBurned, c.BurnedAmount, 0)
		if carry != 0 {
			return Report{}, fmt.Errorf("sale %d: total burned overflows", sale.ID)
		}
		r.TotalBurned = total
		if c.Claimed {
			paid = saturatingAdd(paid, c.ClaimableAmount)
		} else {
			openBurned += c.BurnedAmount
		}
	}
	if paid > r.NetRevenue {
		return Report{}, fmt.Errorf("sale %d: paid %d exceeds net %d: %w", sale.ID, paid, r.NetRevenue, ErrOverpaid)
	}
	remaining := r.NetRevenue - paid

	distributed := paid
	r.Shares = make([]Share, 0, len(claims))
	for _, c := range claims {
		s := Share{
			User:         c.User,
			BurnedAmount: c.BurnedAmount,
			Claimed:      c.Claimed,
		}
		if r.TotalBurned > 0 {
			s.SharePPM = mulDiv(c.BurnedAmount, ppm, r.TotalBurned)
		}
		switch {
		case c.Claimed:
			s.ClaimableAmount = c.ClaimableAmount
		case openBurned > 0:
			s.ClaimableAmount = mulDiv(remaining, c.BurnedAmount, openBurned)
			distributed += s.ClaimableAmount
		}
		r.Shares = append(r.Shares, s)
	}
	r.Undistributed = r.NetRevenue - distributed

	sort.Slice(r.Shares, func(i, j int) bool { return r.Shares[i].User < r.Shares[j].User })
	return r, nil
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// mulDiv returns floor(a*b/d) for d > 0. The caller guarantees the
// quotient fits in 64 bits (a*b/d <= a or <= b).
func mulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, d)
	return q
}
