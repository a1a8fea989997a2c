package audit

import (
	"github.com/roach88/voltchain/internal/ir"
)

// ledger is the state rebuilt from the notification log alone.
type ledger struct {
	pool      bool
	total     uint64
	period    uint64
	positions map[ir.Identity]*ir.UserPosition
	sales     map[uint64]*ir.Sale
	claims    map[claimKey]*ir.UserClaim
}

type claimKey struct {
	user ir.Identity
	sale uint64
}

// replay folds the log in seq order. Arithmetic wraps silently here: any
// wrap would also show up as a mismatch against the stored records.
func replay(log []ir.Notification) *ledger {
	l := &ledger{
		positions: make(map[ir.Identity]*ir.UserPosition),
		sales:     make(map[uint64]*ir.Sale),
		claims:    make(map[claimKey]*ir.UserClaim),
	}
	for _, n := range log {
		p := n.Payload
		switch n.Name {
		case ir.EventPoolInitialized:
			l.pool = true
		case ir.EventUserRegistered:
			owner, _ := p.Str("owner")
			l.positions[ir.Identity(owner)] = &ir.UserPosition{Owner: ir.Identity(owner)}
		case ir.EventEnergyReported:
			owner, _ := p.Str("owner")
			delta, _ := p.Uint64("delta")
			if pos, ok := l.positions[ir.Identity(owner)]; ok {
				pos.Accrued += delta
				pos.Lifetime += delta
			}
			l.total += delta
		case ir.EventSaleRecorded:
			id, _ := p.Uint64("sale_id")
			sold, _ := p.Uint64("energy_sold")
			revenue, _ := p.Uint64("revenue")
			fee, _ := p.Uint64("fee_bps")
			l.sales[id] = &ir.Sale{ID: id, EnergySold: sold, Revenue: revenue, FeeBps: uint16(fee)}
			l.period++
		case ir.EventTokensBurned:
			owner, _ := p.Str("owner")
			id, _ := p.Uint64("sale_id")
			burned, _ := p.Uint64("burned_amount")
			if pos, ok := l.positions[ir.Identity(owner)]; ok {
				pos.Accrued -= burned
			}
			l.claims[claimKey{ir.Identity(owner), id}] = &ir.UserClaim{User: ir.Identity(owner), SaleID: id, BurnedAmount: burned}
		case ir.EventSaleFinalized:
			id, _ := p.Uint64("sale_id")
			if s, ok := l.sales[id]; ok {
				s.Finalized = true
			}
		case ir.EventClaimSettled:
			if c := l.claim(p); c != nil {
				c.ClaimableAmount, _ = p.Uint64("claimable_amount")
			}
		case ir.EventPayoutClaimed:
			if c := l.claim(p); c != nil {
				c.Claimed = true
			}
		}
	}
	return l
}

func (l *ledger) claim(p ir.Object) *ir.UserClaim {
	user, _ := p.Str("user")
	id, _ := p.Uint64("sale_id")
	return l.claims[claimKey{ir.Identity(user), id}]
}

// checkReplay compares every stored record with its replayed counterpart,
// in both directions.
func checkReplay(res *Result, ns string, log []ir.Notification, pool decoded[ir.Pool], positions []decoded[ir.UserPosition], sales []decoded[ir.Sale], claims []decoded[ir.UserClaim]) {
	l := replay(log)

	if !l.pool {
		res.add(CheckLogReplay, pool.addr, "pool exists but was never initialized in the log")
	}
	if l.total != pool.rec.TotalEnergy || l.period != pool.rec.Period {
		res.add(CheckLogReplay, pool.addr, "pool total/period %d/%d, log says %d/%d",
			pool.rec.TotalEnergy, pool.rec.Period, l.total, l.period)
	}

	for _, p := range positions {
		want, ok := l.positions[p.rec.Owner]
		switch {
		case !ok:
			res.add(CheckLogReplay, p.addr, "position of %s has no registration in the log", p.rec.Owner)
		case *want != p.rec:
			res.add(CheckLogReplay, p.addr, "position of %s is %d/%d, log says %d/%d",
				p.rec.Owner, p.rec.Accrued, p.rec.Lifetime, want.Accrued, want.Lifetime)
		}
		delete(l.positions, p.rec.Owner)
	}
	for owner := range l.positions {
		res.add(CheckLogReplay, ir.PositionAddress(ns, owner), "log registers %s but no position is stored", owner)
	}

	for _, s := range sales {
		want, ok := l.sales[s.rec.ID]
		switch {
		case !ok:
			res.add(CheckLogReplay, s.addr, "sale %d is not in the log", s.rec.ID)
		case *want != s.rec:
			res.add(CheckLogReplay, s.addr, "sale %d differs from the log", s.rec.ID)
		}
		delete(l.sales, s.rec.ID)
	}
	for id := range l.sales {
		res.add(CheckLogReplay, ir.SaleAddress(ns, id), "log records sale %d but it is not stored", id)
	}

	for _, c := range claims {
		k := claimKey{c.rec.User, c.rec.SaleID}
		want, ok := l.claims[k]
		switch {
		case !ok:
			res.add(CheckLogReplay, c.addr, "claim of %s on sale %d is not in the log", c.rec.User, c.rec.SaleID)
		case *want != c.rec:
			res.add(CheckLogReplay, c.addr, "claim of %s on sale %d differs from the log", c.rec.User, c.rec.SaleID)
		}
		delete(l.claims, k)
	}
	for k := range l.claims {
		res.add(CheckLogReplay, ir.ClaimAddress(ns, k.user, k.sale), "log burns %s on sale %d but no claim is stored", k.user, k.sale)
	}
}
