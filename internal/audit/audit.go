// Package audit checks a pool's records and notification log against the
// ledger invariants.
//
// The audit reads every record of a namespace and replays the notification
// log to rebuild the totals each record should hold. It never writes.
package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

// Check names an invariant.
type Check string

const (
	CheckPoolTotal       Check = "pool_total_equals_lifetimes"
	CheckAccruedLifetime Check = "accrued_within_lifetime"
	CheckSaleSequence    Check = "sale_ids_sequential"
	CheckClaimUnique     Check = "one_claim_per_user_sale"
	CheckClaimState      Check = "claim_state"
	CheckAddress         Check = "records_at_derived_address"
	CheckLogOrder        Check = "log_ordered"
	CheckLogHash         Check = "log_content_hash"
	CheckLogReplay       Check = "records_match_log"
)

// Violation is one failed check.
type Violation struct {
	Check   Check      `json:"check"`
	Address ir.Address `json:"address,omitempty"`
	Message string     `json:"message"`
}

// Result is the outcome of one audit.
type Result struct {
	Namespace     string      `json:"namespace"`
	Positions     int         `json:"positions"`
	Sales         int         `json:"sales"`
	Claims        int         `json:"claims"`
	Notifications int         `json:"notifications"`
	Violations    []Violation `json:"violations"`
}

// OK reports whether no check failed.
func (r Result) OK() bool {
	return len(r.Violations) == 0
}

func (r *Result) add(c Check, addr ir.Address, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Check: c, Address: addr, Message: fmt.Sprintf(format, args...)})
}

// Reader is the read side of a store.Backend.
type Reader interface {
	Records(ctx context.Context, namespace string, kind ir.Kind) ([]store.Record, error)
	Notifications(ctx context.Context, q store.NotificationQuery) ([]ir.Notification, error)
}

// Run audits namespace. A returned error means the audit could not run;
// failed checks are reported in Result.Violations.
func Run(ctx context.Context, s Reader, namespace string) (Result, error) {
	res := Result{Namespace: namespace, Violations: []Violation{}}

	pools, err := decodeAll[ir.Pool](ctx, s, namespace)
	if err != nil {
		return res, err
	}
	positions, err := decodeAll[ir.UserPosition](ctx, s, namespace)
	if err != nil {
		return res, err
	}
	sales, err := decodeAll[ir.Sale](ctx, s, namespace)
	if err != nil {
		return res, err
	}
	claims, err := decodeAll[ir.UserClaim](ctx, s, namespace)
	if err != nil {
		return res, err
	}
	log, err := s.Notifications(ctx, store.NotificationQuery{Namespace: namespace})
	if err != nil {
		return res, fmt.Errorf("audit %s: list notifications: %w", namespace, err)
	}

	res.Positions = len(positions)
	res.Sales = len(sales)
	res.Claims = len(claims)
	res.Notifications = len(log)

	if len(pools) == 0 {
		if len(positions)+len(sales)+len(claims) > 0 {
			res.add(CheckAddress, "", "records exist but the pool does not")
		}
		return res, nil
	}
	pool := pools[0]

	checkAddresses(&res, namespace, pool, positions, sales, claims)
	checkTotals(&res, pool, positions)
	checkSales(&res, pool, sales)
	checkClaims(&res, claims)
	checkLog(&res, log)
	checkReplay(&res, namespace, log, pool, positions, sales, claims)

	sort.SliceStable(res.Violations, func(i, j int) bool {
		a, b := res.Violations[i], res.Violations[j]
		if a.Check != b.Check {
			return a.Check < b.Check
		}
		return a.Address < b.Address
	})
	return res, nil
}

// decoded pairs a record body with its stored address.
type decoded[T ir.Record] struct {
	addr ir.Address
	rec  T
}

func decodeAll[T ir.Record](ctx context.Context, s Reader, namespace string) ([]decoded[T], error) {
	var zero T
	recs, err := s.Records(ctx, namespace, zero.Kind())
	if err != nil {
		return nil, fmt.Errorf("audit %s: list %s: %w", namespace, zero.Kind(), err)
	}
	out := make([]decoded[T], 0, len(recs))
	for _, r := range recs {
		v, err := ir.DecodeRecord[T](r.Body)
		if err != nil {
			return nil, fmt.Errorf("audit %s: %w", namespace, err)
		}
		out = append(out, decoded[T]{addr: r.Address, rec: v})
	}
	return out, nil
}

func checkAddresses(res *Result, ns string, pool decoded[ir.Pool], positions []decoded[ir.UserPosition], sales []decoded[ir.Sale], claims []decoded[ir.UserClaim]) {
	if want := ir.PoolAddress(ns); pool.addr != want {
		res.add(CheckAddress, pool.addr, "pool stored away from its derived address")
	}
	for _, p := range positions {
		if p.addr != ir.PositionAddress(ns, p.rec.Owner) {
			res.add(CheckAddress, p.addr, "position of %s stored away from its derived address", p.rec.Owner)
		}
	}
	for _, s := range sales {
		if s.addr != ir.SaleAddress(ns, s.rec.ID) {
			res.add(CheckAddress, s.addr, "sale %d stored away from its derived address", s.rec.ID)
		}
	}
	for _, c := range claims {
		if c.addr != ir.ClaimAddress(ns, c.rec.User, c.rec.SaleID) {
			res.add(CheckAddress, c.addr, "claim of %s on sale %d stored away from its derived address", c.rec.User, c.rec.SaleID)
		}
	}
}

func checkTotals(res *Result, pool decoded[ir.Pool], positions []decoded[ir.UserPosition]) {
	var sum uint64
	overflow := false
	for _, p := range positions {
		if p.rec.Accrued > p.rec.Lifetime {
			res.add(CheckAccruedLifetime, p.addr, "%s: accrued %d > lifetime %d", p.rec.Owner, p.rec.Accrued, p.rec.Lifetime)
		}
		next := sum + p.rec.Lifetime
		if next < sum {
			overflow = true
		}
		sum = next
	}
	switch {
	case overflow:
		res.add(CheckPoolTotal, pool.addr, "sum of lifetimes overflows")
	case sum != pool.rec.TotalEnergy:
		res.add(CheckPoolTotal, pool.addr, "pool total %d != sum of lifetimes %d", pool.rec.TotalEnergy, sum)
	}
}

func checkSales(res *Result, pool decoded[ir.Pool], sales []decoded[ir.Sale]) {
	ids := make([]uint64, 0, len(sales))
	for _, s := range sales {
		ids = append(ids, s.rec.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != uint64(i) {
			res.add(CheckSaleSequence, "", "sale ids are not 0..N-1: position %d holds id %d", i, id)
			break
		}
	}
	if uint64(len(ids)) != pool.rec.Period {
		res.add(CheckSaleSequence, pool.addr, "pool period %d != %d sales", pool.rec.Period, len(ids))
	}
}

func checkClaims(res *Result, claims []decoded[ir.UserClaim]) {
	type key struct {
		user ir.Identity
		sale uint64
	}
	seen := make(map[key]bool, len(claims))
	for _, c := range claims {
		k := key{c.rec.User, c.rec.SaleID}
		if seen[k] {
			res.add(CheckClaimUnique, c.addr, "second claim of %s on sale %d", c.rec.User, c.rec.SaleID)
		}
		seen[k] = true
		if c.rec.Claimed && c.rec.ClaimableAmount == 0 {
			res.add(CheckClaimState, c.addr, "claim of %s on sale %d paid out with nothing owed", c.rec.User, c.rec.SaleID)
		}
	}
}

func checkLog(res *Result, log []ir.Notification) {
	for i := 1; i < len(log); i++ {
		if log[i].Seq <= log[i-1].Seq {
			res.add(CheckLogOrder, "", "seq %d follows %d", log[i].Seq, log[i-1].Seq)
		}
	}
	for _, n := range log {
		id, err := ir.NotificationID(n)
		if err != nil || id != n.ID {
			res.add(CheckLogHash, "", "notification %d: content hash mismatch", n.Seq)
		}
	}
}
