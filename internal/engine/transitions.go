package engine

import (
	"github.com/roach88/voltchain/internal/ir"
)

// transitions maps each transition to its body. A body only sees the
// records in tx.loaded, which holds exactly the declared set.
var transitions = map[ir.Transition]func(*txn) error{
	ir.TransitionInitializePool: initializePool,
	ir.TransitionRegisterUser:   registerUser,
	ir.TransitionReportEnergy:   reportEnergy,
	ir.TransitionRecordSale:     recordSale,
	ir.TransitionBurnAndMark:    burnAndMark,
	ir.TransitionFinalizeSale:   finalizeSale,
	ir.TransitionSettleClaim:    settleClaim,
	ir.TransitionClaimPayout:    claimPayout,
}

// initializePool creates the namespace's pool. The caller pays for the
// record and need not be the authority.
func initializePool(tx *txn) error {
	args := tx.ins.Args
	if err := tx.expect(RolePool, ir.PoolAddress(tx.namespace())); err != nil {
		return err
	}
	if err := tx.absent(RolePool); err != nil {
		return err
	}

	pool := ir.Pool{Authority: args.Authority, CreditMint: args.CreditMint}
	if err := tx.create(RolePool, pool); err != nil {
		return err
	}

	payload := ir.Object{
		"authority": ir.String(pool.Authority),
		"payer":     ir.String(tx.ins.Caller),
	}
	payload[tx.engine.assetField] = ir.String(pool.CreditMint)
	tx.emit(ir.EventPoolInitialized, payload)
	return nil
}

// registerUser creates the caller's position. One per identity.
func registerUser(tx *txn) error {
	owner := tx.ins.Caller
	if err := tx.expect(RolePosition, ir.PositionAddress(tx.namespace(), owner)); err != nil {
		return err
	}
	if err := tx.absent(RolePosition); err != nil {
		return err
	}

	if err := tx.create(RolePosition, ir.UserPosition{Owner: owner}); err != nil {
		return err
	}

	tx.emit(ir.EventUserRegistered, ir.Object{"owner": ir.String(owner)})
	return nil
}

// ownedPosition loads the caller's position, checks the stored owner and
// then the address.
func ownedPosition(tx *txn) (ir.UserPosition, int64, error) {
	pos, version, err := loadAs[ir.UserPosition](tx, RolePosition)
	if err != nil {
		return pos, 0, err
	}
	if pos.Owner != tx.ins.Caller {
		return pos, 0, tx.fail(CodeUnauthorized, RolePosition, "position is owned by %s, not %s", pos.Owner, tx.ins.Caller)
	}
	if err := tx.expect(RolePosition, ir.PositionAddress(tx.namespace(), tx.ins.Caller)); err != nil {
		return pos, 0, err
	}
	return pos, version, nil
}

// loadPool loads the namespace's pool after checking its address.
func loadPool(tx *txn) (ir.Pool, int64, error) {
	if err := tx.expect(RolePool, ir.PoolAddress(tx.namespace())); err != nil {
		return ir.Pool{}, 0, err
	}
	return loadAs[ir.Pool](tx, RolePool)
}

// authorizedPool loads the pool and requires the caller to be its authority.
func authorizedPool(tx *txn) (ir.Pool, int64, error) {
	pool, version, err := loadPool(tx)
	if err != nil {
		return pool, 0, err
	}
	if pool.Authority != tx.ins.Caller {
		return pool, 0, tx.fail(CodeUnauthorized, RolePool, "caller %s is not the pool authority", tx.ins.Caller)
	}
	return pool, version, nil
}

// reportEnergy credits delta to the caller's accrued and lifetime totals
// and to the pool total. The delta is not validated.
func reportEnergy(tx *txn) error {
	delta := tx.ins.Args.Delta

	pool, poolVersion, err := loadPool(tx)
	if err != nil {
		return err
	}
	pos, posVersion, err := ownedPosition(tx)
	if err != nil {
		return err
	}

	accrued, ok := checkedAdd(pos.Accrued, delta)
	if !ok {
		return tx.fail(CodeArithmeticOverflow, RolePosition, "accrued %d + %d overflows", pos.Accrued, delta)
	}
	lifetime, ok := checkedAdd(pos.Lifetime, delta)
	if !ok {
		return tx.fail(CodeArithmeticOverflow, RolePosition, "lifetime %d + %d overflows", pos.Lifetime, delta)
	}
	total, ok := checkedAdd(pool.TotalEnergy, delta)
	if !ok {
		return tx.fail(CodeArithmeticOverflow, RolePool, "total energy %d + %d overflows", pool.TotalEnergy, delta)
	}

	pos.Accrued = accrued
	pos.Lifetime = lifetime
	pool.TotalEnergy = total
	if err := tx.update(RolePool, pool, poolVersion); err != nil {
		return err
	}
	if err := tx.update(RolePosition, pos, posVersion); err != nil {
		return err
	}

	tx.emit(ir.EventEnergyReported, ir.Object{
		"owner":          ir.String(pos.Owner),
		"delta":          ir.Uint(delta),
		"new_user_total": ir.Uint(pos.Accrued),
		"lifetime":       ir.Uint(pos.Lifetime),
		"pool_total":     ir.Uint(pool.TotalEnergy),
	})
	return nil
}

// recordSale opens a sale with id = pool.period and advances the period.
// Terms are declared by the authority and not reconciled against reported
// energy.
func recordSale(tx *txn) error {
	args := tx.ins.Args

	pool, poolVersion, err := authorizedPool(tx)
	if err != nil {
		return err
	}
	if err := tx.expect(RoleSale, ir.SaleAddress(tx.namespace(), pool.Period)); err != nil {
		return err
	}
	if err := tx.absent(RoleSale); err != nil {
		return err
	}

	next, ok := checkedAdd(pool.Period, 1)
	if !ok {
		return tx.fail(CodeArithmeticOverflow, RolePool, "period %d + 1 overflows", pool.Period)
	}

	sale := ir.Sale{
		ID:         pool.Period,
		EnergySold: args.EnergySold,
		Revenue:    args.Revenue,
		FeeBps:     args.FeeBps,
	}
	pool.Period = next
	if err := tx.update(RolePool, pool, poolVersion); err != nil {
		return err
	}
	if err := tx.create(RoleSale, sale); err != nil {
		return err
	}

	tx.emit(ir.EventSaleRecorded, saleTerms(sale))
	return nil
}

// burnAndMark burns part of the caller's accrued balance against a sale and
// records the claim. The claim's address is the only guard against burning
// twice for the same sale, so it is checked before the balance. The sale
// itself is not required to exist.
func burnAndMark(tx *txn) error {
	args := tx.ins.Args

	if _, _, err := loadPool(tx); err != nil {
		return err
	}
	pos, posVersion, err := ownedPosition(tx)
	if err != nil {
		return err
	}
	if err := tx.expect(RoleClaim, ir.ClaimAddress(tx.namespace(), tx.ins.Caller, args.SaleID)); err != nil {
		return err
	}
	if err := tx.absent(RoleClaim); err != nil {
		return err
	}

	remaining, ok := checkedSub(pos.Accrued, args.Amount)
	if !ok {
		return tx.fail(CodeInsufficientBalance, RolePosition, "burn %d exceeds accrued %d", args.Amount, pos.Accrued)
	}

	pos.Accrued = remaining
	claim := ir.UserClaim{
		User:         pos.Owner,
		SaleID:       args.SaleID,
		BurnedAmount: args.Amount,
	}
	if err := tx.update(RolePosition, pos, posVersion); err != nil {
		return err
	}
	if err := tx.create(RoleClaim, claim); err != nil {
		return err
	}

	tx.emit(ir.EventTokensBurned, ir.Object{
		"owner":             ir.String(pos.Owner),
		"sale_id":           ir.Uint(args.SaleID),
		"burned_amount":     ir.Uint(args.Amount),
		"remaining_accrued": ir.Uint(remaining),
	})
	return nil
}

// loadSale loads the sale named by args.SaleID.
func loadSale(tx *txn) (ir.Sale, int64, error) {
	if err := tx.expect(RoleSale, ir.SaleAddress(tx.namespace(), tx.ins.Args.SaleID)); err != nil {
		return ir.Sale{}, 0, err
	}
	return loadAs[ir.Sale](tx, RoleSale)
}

// finalizeSale moves a sale from open to finalized. Finalized is terminal.
func finalizeSale(tx *txn) error {
	if _, _, err := authorizedPool(tx); err != nil {
		return err
	}
	sale, saleVersion, err := loadSale(tx)
	if err != nil {
		return err
	}
	if sale.Finalized {
		return tx.fail(CodeInvalidState, RoleSale, "sale %d is already finalized", sale.ID)
	}

	sale.Finalized = true
	if err := tx.update(RoleSale, sale, saleVersion); err != nil {
		return err
	}

	tx.emit(ir.EventSaleFinalized, saleTerms(sale))
	return nil
}

// settleClaim writes the payout owed on a claim against a finalized sale.
// It may run again while the claim is unclaimed; the last value wins.
func settleClaim(tx *txn) error {
	args := tx.ins.Args

	if _, _, err := authorizedPool(tx); err != nil {
		return err
	}
	sale, _, err := loadSale(tx)
	if err != nil {
		return err
	}
	if !sale.Finalized {
		return tx.fail(CodeInvalidState, RoleSale, "sale %d is not finalized", sale.ID)
	}
	if err := tx.expect(RoleClaim, ir.ClaimAddress(tx.namespace(), args.User, args.SaleID)); err != nil {
		return err
	}
	claim, claimVersion, err := loadAs[ir.UserClaim](tx, RoleClaim)
	if err != nil {
		return err
	}
	if claim.Claimed {
		return tx.fail(CodeInvalidState, RoleClaim, "claim of %s on sale %d is already paid out", claim.User, claim.SaleID)
	}

	claim.ClaimableAmount = args.ClaimableAmount
	if err := tx.update(RoleClaim, claim, claimVersion); err != nil {
		return err
	}

	tx.emit(ir.EventClaimSettled, claimAmounts(claim))
	return nil
}

// claimPayout marks the caller's settled claim as paid out. Moving the
// funds is outside the ledger.
func claimPayout(tx *txn) error {
	args := tx.ins.Args

	claim, claimVersion, err := loadAs[ir.UserClaim](tx, RoleClaim)
	if err != nil {
		return err
	}
	if claim.User != tx.ins.Caller {
		return tx.fail(CodeUnauthorized, RoleClaim, "claim belongs to %s, not %s", claim.User, tx.ins.Caller)
	}
	if err := tx.expect(RoleClaim, ir.ClaimAddress(tx.namespace(), tx.ins.Caller, args.SaleID)); err != nil {
		return err
	}
	if claim.Claimed {
		return tx.fail(CodeInvalidState, RoleClaim, "claim on sale %d is already paid out", claim.SaleID)
	}
	if claim.ClaimableAmount == 0 {
		return tx.fail(CodeInvalidState, RoleClaim, "claim on sale %d has not been settled", claim.SaleID)
	}

	claim.Claimed = true
	if err := tx.update(RoleClaim, claim, claimVersion); err != nil {
		return err
	}

	tx.emit(ir.EventPayoutClaimed, claimAmounts(claim))
	return nil
}

func saleTerms(s ir.Sale) ir.Object {
	return ir.Object{
		"sale_id":     ir.Uint(s.ID),
		"energy_sold": ir.Uint(s.EnergySold),
		"revenue":     ir.Uint(s.Revenue),
		"fee_bps":     ir.Uint(s.FeeBps),
	}
}

func claimAmounts(c ir.UserClaim) ir.Object {
	return ir.Object{
		"user":             ir.String(c.User),
		"sale_id":          ir.Uint(c.SaleID),
		"claimable_amount": ir.Uint(c.ClaimableAmount),
	}
}
