package engine

import (
	"context"
	"fmt"

	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

// Typed helpers. Each builds the Instruction for one transition with
// derived addresses and calls Execute.

// InitializePool creates the pool. payer pays for the record; authority
// is the identity allowed to record and finalize sales.
func (e *Engine) InitializePool(ctx context.Context, payer, authority ir.Identity, creditMint string) (ir.Notification, error) {
	return e.Execute(ctx, Instruction{
		Transition: ir.TransitionInitializePool,
		Caller:     payer,
		Args:       Args{Authority: authority, CreditMint: creditMint},
	})
}

// RegisterUser creates owner's position.
func (e *Engine) RegisterUser(ctx context.Context, owner ir.Identity) (ir.Notification, error) {
	return e.Execute(ctx, Instruction{
		Transition: ir.TransitionRegisterUser,
		Caller:     owner,
	})
}

// ReportEnergy credits delta micro-units to owner.
func (e *Engine) ReportEnergy(ctx context.Context, owner ir.Identity, delta uint64) (ir.Notification, error) {
	return e.Execute(ctx, Instruction{
		Transition: ir.TransitionReportEnergy,
		Caller:     owner,
		Args:       Args{Delta: delta},
	})
}

// RecordSale opens the next sale.
func (e *Engine) RecordSale(ctx context.Context, authority ir.Identity, energySold, revenue uint64, feeBps uint16) (ir.Notification, error) {
	return e.Execute(ctx, Instruction{
		Transition: ir.TransitionRecordSale,
		Caller:     authority,
		Args:       Args{EnergySold: energySold, Revenue: revenue, FeeBps: feeBps},
	})
}

// BurnAndMark burns amount of owner's accrued balance against saleID.
func (e *Engine) BurnAndMark(ctx context.Context, owner ir.Identity, saleID, amount uint64) (ir.Notification, error) {
	return e.Execute(ctx, Instruction{
		Transition: ir.TransitionBurnAndMark,
		Caller:     owner,
		Args:       Args{SaleID: saleID, Amount: amount},
	})
}

// FinalizeSale closes saleID.
func (e *Engine) FinalizeSale(ctx context.Context, authority ir.Identity, saleID uint64) (ir.Notification, error) {
	return e.Execute(ctx, Instruction{
		Transition: ir.TransitionFinalizeSale,
		Caller:     authority,
		Args:       Args{SaleID: saleID},
	})
}

// SettleClaim writes the payout owed to user for saleID.
func (e *Engine) SettleClaim(ctx context.Context, authority, user ir.Identity, saleID, claimable uint64) (ir.Notification, error) {
	return e.Execute(ctx, Instruction{
		Transition: ir.TransitionSettleClaim,
		Caller:     authority,
		Args:       Args{User: user, SaleID: saleID, ClaimableAmount: claimable},
	})
}

// ClaimPayout marks user's settled claim on saleID as paid out.
func (e *Engine) ClaimPayout(ctx context.Context, user ir.Identity, saleID uint64) (ir.Notification, error) {
	return e.Execute(ctx, Instruction{
		Transition: ir.TransitionClaimPayout,
		Caller:     user,
		Args:       Args{SaleID: saleID},
	})
}

// Read views. These take no locks and may observe a record between two
// transitions, never inside one.

func (e *Engine) Pool(ctx context.Context) (ir.Pool, error) {
	return view[ir.Pool](ctx, e.store, ir.PoolAddress(e.namespace))
}

func (e *Engine) Position(ctx context.Context, owner ir.Identity) (ir.UserPosition, error) {
	return view[ir.UserPosition](ctx, e.store, ir.PositionAddress(e.namespace, owner))
}

func (e *Engine) Sale(ctx context.Context, id uint64) (ir.Sale, error) {
	return view[ir.Sale](ctx, e.store, ir.SaleAddress(e.namespace, id))
}

func (e *Engine) Claim(ctx context.Context, user ir.Identity, saleID uint64) (ir.UserClaim, error) {
	return view[ir.UserClaim](ctx, e.store, ir.ClaimAddress(e.namespace, user, saleID))
}

func view[T ir.Record](ctx context.Context, s RecordStore, addr ir.Address) (T, error) {
	var zero T
	recs, err := s.Load(ctx, []ir.Address{addr})
	if err != nil {
		return zero, fmt.Errorf("load %s: %w", zero.Kind(), err)
	}
	rec, ok := recs[addr]
	if !ok {
		return zero, fmt.Errorf("%s %s: %w", zero.Kind(), shortAddr(addr), store.ErrNotFound)
	}
	return ir.DecodeRecord[T](rec.Body)
}
