package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
	"github.com/roach88/voltchain/internal/store/memory"
)

const (
	testNS    = "test-pool"
	authority = ir.Identity("authority")
	payer     = ir.Identity("payer")
	alice     = ir.Identity("alice")
	bob       = ir.Identity("bob")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, store.Backend) {
	t.Helper()
	s := memory.New()
	opts = append([]Option{WithLogger(quietLogger()), WithRequestIDGenerator(NewSequentialGenerator("req"))}, opts...)
	return New(s, testNS, opts...), s
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newPool initializes the pool and registers the given users.
func newPool(t *testing.T, e *Engine, users ...ir.Identity) {
	t.Helper()
	ctx := context.Background()
	_, err := e.InitializePool(ctx, payer, authority, "mint-1")
	require.NoError(t, err)
	for _, u := range users {
		_, err := e.RegisterUser(ctx, u)
		require.NoError(t, err)
	}
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, CodeOf(err), "error: %v", err)
}

func lastSeq(t *testing.T, s store.Backend) int64 {
	t.Helper()
	seq, err := s.LastSeq(context.Background())
	require.NoError(t, err)
	return seq
}

func TestEngine_New(t *testing.T) {
	e := New(memory.New(), "ns")

	assert.Equal(t, "ns", e.Namespace())
	assert.Equal(t, DefaultAssetField, e.AssetField())
	assert.NotNil(t, e.locks)
	assert.NotNil(t, e.logger)
	assert.IsType(t, UUIDv7Generator{}, e.requestIDs)
}

func TestEngine_ConcreteScenario(t *testing.T) {
	backends := map[string]func(t *testing.T) RecordStore{
		"memory": func(t *testing.T) RecordStore { return memory.New() },
		"sqlite": func(t *testing.T) RecordStore { return setupTestStore(t) },
	}
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(newStore(t), testNS, WithLogger(quietLogger()))
			newPool(t, e, alice)

			_, err := e.ReportEnergy(ctx, alice, 1_000_000)
			require.NoError(t, err)
			pos, err := e.Position(ctx, alice)
			require.NoError(t, err)
			assert.Equal(t, uint64(1_000_000), pos.Accrued)
			assert.Equal(t, uint64(1_000_000), pos.Lifetime)
			pool, err := e.Pool(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(1_000_000), pool.TotalEnergy)

			n, err := e.RecordSale(ctx, authority, 500_000, 200, 1000)
			require.NoError(t, err)
			saleID, _ := n.Payload.Uint64("sale_id")
			assert.Equal(t, uint64(0), saleID)
			pool, err = e.Pool(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), pool.Period)

			_, err = e.BurnAndMark(ctx, alice, 0, 400_000)
			require.NoError(t, err)
			pos, err = e.Position(ctx, alice)
			require.NoError(t, err)
			assert.Equal(t, uint64(600_000), pos.Accrued)
			claim, err := e.Claim(ctx, alice, 0)
			require.NoError(t, err)
			assert.Equal(t, ir.UserClaim{User: alice, SaleID: 0, BurnedAmount: 400_000}, claim)

			_, err = e.FinalizeSale(ctx, authority, 0)
			require.NoError(t, err)
			sale, err := e.Sale(ctx, 0)
			require.NoError(t, err)
			assert.True(t, sale.Finalized)

			_, err = e.BurnAndMark(ctx, alice, 0, 100)
			requireCode(t, err, CodeAlreadyExists)
			assert.True(t, errors.Is(err, ErrAlreadyExists))
		})
	}
}

func TestInitializePool(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	n, err := e.InitializePool(ctx, payer, authority, "mint-1")
	require.NoError(t, err)
	assert.Equal(t, ir.EventPoolInitialized, n.Name)
	assert.Equal(t, int64(1), n.Seq)
	assert.Equal(t, "req-1", n.RequestID)
	assert.Equal(t, ir.Object{
		"authority":   ir.String(authority),
		"credit_mint": ir.String("mint-1"),
		"payer":       ir.String(payer),
	}, n.Payload)

	pool, err := e.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Pool{Authority: authority, CreditMint: "mint-1"}, pool)
}

func TestInitializePool_Duplicate(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	newPool(t, e)

	_, err := e.InitializePool(ctx, bob, bob, "mint-2")
	requireCode(t, err, CodeAlreadyExists)
	assert.Equal(t, int64(1), lastSeq(t, s))

	pool, err := e.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, authority, pool.Authority, "existing pool must be untouched")
}

func TestInitializePool_AssetField(t *testing.T) {
	for _, field := range []string{"enx_mint", "voltchain_mint"} {
		t.Run(field, func(t *testing.T) {
			e, _ := newTestEngine(t, WithAssetField(field))

			n, err := e.InitializePool(context.Background(), payer, authority, "mint-x")
			require.NoError(t, err)
			got, ok := n.Payload.Str(field)
			assert.True(t, ok)
			assert.Equal(t, "mint-x", got)
			_, ok = n.Payload[DefaultAssetField]
			assert.False(t, ok)
		})
	}
}

func TestInitializePool_ReservedAssetField(t *testing.T) {
	for _, field := range []string{"authority", "payer"} {
		t.Run(field, func(t *testing.T) {
			e, _ := newTestEngine(t, WithAssetField(field))
			assert.Equal(t, DefaultAssetField, e.AssetField())

			n, err := e.InitializePool(context.Background(), payer, authority, "mint-x")
			require.NoError(t, err)
			got, _ := n.Payload.Str("authority")
			assert.Equal(t, string(authority), got)
			got, _ = n.Payload.Str("payer")
			assert.Equal(t, string(payer), got)
			got, _ = n.Payload.Str(DefaultAssetField)
			assert.Equal(t, "mint-x", got)
		})
	}
}

func TestInitializePool_MissingAuthority(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.InitializePool(context.Background(), payer, "", "mint")
	requireCode(t, err, CodeInvalidArgument)
}

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	n, err := e.RegisterUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"owner": ir.String(alice)}, n.Payload)

	pos, err := e.Position(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, ir.UserPosition{Owner: alice}, pos)

	_, err = e.RegisterUser(ctx, alice)
	requireCode(t, err, CodeAlreadyExists)
	assert.Equal(t, int64(1), lastSeq(t, s))
}

func TestReportEnergy_SumsDeltas(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e, alice, bob)

	reports := []struct {
		who   ir.Identity
		delta uint64
	}{
		{alice, 10}, {bob, 250}, {alice, 0}, {alice, 1_000_000}, {bob, 7},
	}
	want := map[ir.Identity]uint64{}
	var total uint64
	for _, r := range reports {
		n, err := e.ReportEnergy(ctx, r.who, r.delta)
		require.NoError(t, err)
		want[r.who] += r.delta
		total += r.delta

		got, _ := n.Payload.Uint64("new_user_total")
		assert.Equal(t, want[r.who], got)
		poolTotal, _ := n.Payload.Uint64("pool_total")
		assert.Equal(t, total, poolTotal)
	}

	var lifetimes uint64
	for who, sum := range want {
		pos, err := e.Position(ctx, who)
		require.NoError(t, err)
		assert.Equal(t, sum, pos.Accrued)
		assert.Equal(t, sum, pos.Lifetime)
		lifetimes += pos.Lifetime
	}
	pool, err := e.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, pool.TotalEnergy)
	assert.Equal(t, lifetimes, pool.TotalEnergy)
}

func TestReportEnergy_Unregistered(t *testing.T) {
	e, _ := newTestEngine(t)
	newPool(t, e)

	_, err := e.ReportEnergy(context.Background(), alice, 5)
	requireCode(t, err, CodeNotFound)
}

func TestReportEnergy_NoPool(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	_, err := e.RegisterUser(ctx, alice)
	require.NoError(t, err)

	_, err = e.ReportEnergy(ctx, alice, 5)
	requireCode(t, err, CodeNotFound)
}

func TestReportEnergy_OtherOwnersPosition(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	newPool(t, e, alice, bob)
	before := lastSeq(t, s)

	_, err := e.Execute(ctx, Instruction{
		Transition: ir.TransitionReportEnergy,
		Caller:     alice,
		Accounts: map[Role]ir.Address{
			RolePool:     ir.PoolAddress(testNS),
			RolePosition: ir.PositionAddress(testNS, bob),
		},
		Args: Args{Delta: 100},
	})
	requireCode(t, err, CodeUnauthorized)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, before, lastSeq(t, s))

	pos, err := e.Position(ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, pos.Accrued)
}

func TestReportEnergy_OverflowHasNoEffect(t *testing.T) {
	ctx := context.Background()

	t.Run("position", func(t *testing.T) {
		e, s := newTestEngine(t)
		newPool(t, e, alice)
		_, err := e.ReportEnergy(ctx, alice, math.MaxUint64)
		require.NoError(t, err)
		before := lastSeq(t, s)

		_, err = e.ReportEnergy(ctx, alice, 1)
		requireCode(t, err, CodeArithmeticOverflow)
		assert.Equal(t, before, lastSeq(t, s))

		pos, err := e.Position(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64), pos.Accrued)
	})

	t.Run("pool", func(t *testing.T) {
		e, s := newTestEngine(t)
		newPool(t, e, alice, bob)
		_, err := e.ReportEnergy(ctx, alice, math.MaxUint64)
		require.NoError(t, err)
		before := lastSeq(t, s)

		// bob's own counters fit, the pool total does not
		_, err = e.ReportEnergy(ctx, bob, 1)
		requireCode(t, err, CodeArithmeticOverflow)
		assert.Equal(t, before, lastSeq(t, s))

		pos, err := e.Position(ctx, bob)
		require.NoError(t, err)
		assert.Zero(t, pos.Accrued)
		assert.Zero(t, pos.Lifetime)
	})
}

func TestRecordSale_SequentialIDs(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e)

	for i := uint64(0); i < 5; i++ {
		n, err := e.RecordSale(ctx, authority, 100*i, 10*i, 250)
		require.NoError(t, err)
		id, _ := n.Payload.Uint64("sale_id")
		assert.Equal(t, i, id)

		sale, err := e.Sale(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, ir.Sale{ID: i, EnergySold: 100 * i, Revenue: 10 * i, FeeBps: 250}, sale)
	}

	pool, err := e.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), pool.Period)
}

func TestRecordSale_NotAuthority(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	newPool(t, e, alice)
	before := lastSeq(t, s)

	_, err := e.RecordSale(ctx, alice, 1, 1, 0)
	requireCode(t, err, CodeUnauthorized)
	assert.Equal(t, before, lastSeq(t, s))

	pool, err := e.Pool(ctx)
	require.NoError(t, err)
	assert.Zero(t, pool.Period)
}

func TestRecordSale_StaleSaleAddress(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e)

	_, err := e.Execute(ctx, Instruction{
		Transition: ir.TransitionRecordSale,
		Caller:     authority,
		Accounts: map[Role]ir.Address{
			RolePool: ir.PoolAddress(testNS),
			RoleSale: ir.SaleAddress(testNS, 3),
		},
		Args: Args{EnergySold: 1, Revenue: 1},
	})
	requireCode(t, err, CodeNotFound)

	_, err = e.Sale(ctx, 3)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestBurnAndMark_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	newPool(t, e, alice)
	_, err := e.ReportEnergy(ctx, alice, 100)
	require.NoError(t, err)
	before := lastSeq(t, s)

	_, err = e.BurnAndMark(ctx, alice, 0, 101)
	requireCode(t, err, CodeInsufficientBalance)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, before, lastSeq(t, s))

	pos, err := e.Position(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pos.Accrued)

	_, err = e.Claim(ctx, alice, 0)
	assert.True(t, errors.Is(err, store.ErrNotFound), "no claim may be created")
}

func TestBurnAndMark_DuplicateRegardlessOfState(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e, alice)
	_, err := e.ReportEnergy(ctx, alice, 1_000)
	require.NoError(t, err)
	_, err = e.BurnAndMark(ctx, alice, 7, 500)
	require.NoError(t, err)

	// more energy, different amount, then an amount above the balance
	_, err = e.ReportEnergy(ctx, alice, 10_000)
	require.NoError(t, err)
	_, err = e.BurnAndMark(ctx, alice, 7, 1)
	requireCode(t, err, CodeAlreadyExists)
	_, err = e.BurnAndMark(ctx, alice, 7, math.MaxUint64)
	requireCode(t, err, CodeAlreadyExists)

	pos, err := e.Position(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_500), pos.Accrued)

	// a different sale is a different claim
	_, err = e.BurnAndMark(ctx, alice, 8, 500)
	require.NoError(t, err)
}

func TestBurnAndMark_SaleNeedNotExist(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e, alice)
	_, err := e.ReportEnergy(ctx, alice, 10)
	require.NoError(t, err)

	n, err := e.BurnAndMark(ctx, alice, 42, 10)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{
		"owner":             ir.String(alice),
		"sale_id":           ir.Uint(42),
		"burned_amount":     ir.Uint(10),
		"remaining_accrued": ir.Uint(0),
	}, n.Payload)
}

func TestBurnAndMark_AccruedNeverExceedsLifetime(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e, alice)

	steps := []func() error{
		func() error { _, err := e.ReportEnergy(ctx, alice, 300); return err },
		func() error { _, err := e.BurnAndMark(ctx, alice, 0, 200); return err },
		func() error { _, err := e.ReportEnergy(ctx, alice, 50); return err },
		func() error { _, err := e.BurnAndMark(ctx, alice, 1, 150); return err },
		func() error { _, err := e.BurnAndMark(ctx, alice, 2, 1); return err },
	}
	for i, step := range steps {
		err := step()
		if i == 4 {
			requireCode(t, err, CodeInsufficientBalance)
		} else {
			require.NoError(t, err, "step %d", i)
		}
		pos, err := e.Position(ctx, alice)
		require.NoError(t, err)
		assert.LessOrEqual(t, pos.Accrued, pos.Lifetime, "step %d", i)
	}
}

func TestFinalizeSale_Twice(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e)
	_, err := e.RecordSale(ctx, authority, 500_000, 200, 1000)
	require.NoError(t, err)

	n, err := e.FinalizeSale(ctx, authority, 0)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{
		"sale_id":     ir.Uint(0),
		"energy_sold": ir.Uint(500_000),
		"revenue":     ir.Uint(200),
		"fee_bps":     ir.Uint(1000),
	}, n.Payload)

	_, err = e.FinalizeSale(ctx, authority, 0)
	requireCode(t, err, CodeInvalidState)
	assert.True(t, errors.Is(err, ErrInvalidState))

	sale, err := e.Sale(ctx, 0)
	require.NoError(t, err)
	assert.True(t, sale.Finalized)
}

func TestFinalizeSale_Rejections(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e)
	_, err := e.RecordSale(ctx, authority, 1, 1, 0)
	require.NoError(t, err)

	_, err = e.FinalizeSale(ctx, authority, 9)
	requireCode(t, err, CodeNotFound)

	_, err = e.FinalizeSale(ctx, alice, 0)
	requireCode(t, err, CodeUnauthorized)

	sale, err := e.Sale(ctx, 0)
	require.NoError(t, err)
	assert.False(t, sale.Finalized)
}

// burnedAgainstSale leaves alice with a claim of 400 against sale 0.
func burnedAgainstSale(t *testing.T, e *Engine, finalize bool) {
	t.Helper()
	ctx := context.Background()
	newPool(t, e, alice)
	_, err := e.ReportEnergy(ctx, alice, 1_000)
	require.NoError(t, err)
	_, err = e.RecordSale(ctx, authority, 1_000, 10_000, 1000)
	require.NoError(t, err)
	_, err = e.BurnAndMark(ctx, alice, 0, 400)
	require.NoError(t, err)
	if finalize {
		_, err = e.FinalizeSale(ctx, authority, 0)
		require.NoError(t, err)
	}
}

func TestSettleClaim(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	burnedAgainstSale(t, e, true)

	n, err := e.SettleClaim(ctx, authority, alice, 0, 9_000)
	require.NoError(t, err)
	assert.Equal(t, ir.EventClaimSettled, n.Name)
	amount, _ := n.Payload.Uint64("claimable_amount")
	assert.Equal(t, uint64(9_000), amount)

	// reruns overwrite while unclaimed
	_, err = e.SettleClaim(ctx, authority, alice, 0, 8_000)
	require.NoError(t, err)
	claim, err := e.Claim(ctx, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8_000), claim.ClaimableAmount)
	assert.Equal(t, uint64(400), claim.BurnedAmount)
	assert.False(t, claim.Claimed)
}

func TestSettleClaim_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("open sale", func(t *testing.T) {
		e, _ := newTestEngine(t)
		burnedAgainstSale(t, e, false)
		_, err := e.SettleClaim(ctx, authority, alice, 0, 1)
		requireCode(t, err, CodeInvalidState)
	})

	t.Run("not authority", func(t *testing.T) {
		e, _ := newTestEngine(t)
		burnedAgainstSale(t, e, true)
		_, err := e.SettleClaim(ctx, alice, alice, 0, 1)
		requireCode(t, err, CodeUnauthorized)
	})

	t.Run("no claim", func(t *testing.T) {
		e, _ := newTestEngine(t)
		burnedAgainstSale(t, e, true)
		_, err := e.SettleClaim(ctx, authority, bob, 0, 1)
		requireCode(t, err, CodeNotFound)
	})

	t.Run("already paid out", func(t *testing.T) {
		e, _ := newTestEngine(t)
		burnedAgainstSale(t, e, true)
		_, err := e.SettleClaim(ctx, authority, alice, 0, 5)
		require.NoError(t, err)
		_, err = e.ClaimPayout(ctx, alice, 0)
		require.NoError(t, err)

		_, err = e.SettleClaim(ctx, authority, alice, 0, 6)
		requireCode(t, err, CodeInvalidState)
	})

	t.Run("missing user", func(t *testing.T) {
		e, _ := newTestEngine(t)
		burnedAgainstSale(t, e, true)
		_, err := e.SettleClaim(ctx, authority, "", 0, 5)
		requireCode(t, err, CodeInvalidArgument)
	})
}

func TestClaimPayout(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	burnedAgainstSale(t, e, true)

	_, err := e.ClaimPayout(ctx, alice, 0)
	requireCode(t, err, CodeInvalidState)

	_, err = e.SettleClaim(ctx, authority, alice, 0, 3_600)
	require.NoError(t, err)

	n, err := e.ClaimPayout(ctx, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{
		"user":             ir.String(alice),
		"sale_id":          ir.Uint(0),
		"claimable_amount": ir.Uint(3_600),
	}, n.Payload)

	claim, err := e.Claim(ctx, alice, 0)
	require.NoError(t, err)
	assert.True(t, claim.Claimed)

	before := lastSeq(t, s)
	_, err = e.ClaimPayout(ctx, alice, 0)
	requireCode(t, err, CodeInvalidState)
	assert.Equal(t, before, lastSeq(t, s))
}

func TestClaimPayout_SomeoneElsesClaim(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	burnedAgainstSale(t, e, true)
	_, err := e.SettleClaim(ctx, authority, alice, 0, 10)
	require.NoError(t, err)

	_, err = e.Execute(ctx, Instruction{
		Transition: ir.TransitionClaimPayout,
		Caller:     bob,
		Accounts:   map[Role]ir.Address{RoleClaim: ir.ClaimAddress(testNS, alice, 0)},
		Args:       Args{SaleID: 0},
	})
	requireCode(t, err, CodeUnauthorized)
}

func TestExecute_InvalidInstructions(t *testing.T) {
	tests := []struct {
		name string
		ins  Instruction
	}{
		{"unknown transition", Instruction{Transition: "mint_money", Caller: alice}},
		{"missing caller", Instruction{Transition: ir.TransitionRegisterUser}},
		{"missing role", Instruction{
			Transition: ir.TransitionReportEnergy,
			Caller:     alice,
			Accounts:   map[Role]ir.Address{RolePosition: ir.PositionAddress(testNS, alice)},
		}},
		{"undeclared role", Instruction{
			Transition: ir.TransitionRegisterUser,
			Caller:     alice,
			Accounts: map[Role]ir.Address{
				RolePosition: ir.PositionAddress(testNS, alice),
				RolePool:     ir.PoolAddress(testNS),
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s := newTestEngine(t)
			_, err := e.Execute(context.Background(), tt.ins)
			requireCode(t, err, CodeInvalidArgument)
			assert.Zero(t, lastSeq(t, s))
		})
	}
}

func TestExecute_DeclaredAddressMismatch(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Execute(ctx, Instruction{
		Transition: ir.TransitionRegisterUser,
		Caller:     alice,
		Accounts:   map[Role]ir.Address{RolePosition: ir.PositionAddress("other-pool", alice)},
	})
	requireCode(t, err, CodeNotFound)
}

func TestExecute_ExplicitAccounts(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e, alice)

	_, err := e.Execute(ctx, Instruction{
		Transition: ir.TransitionReportEnergy,
		Caller:     alice,
		Accounts: map[Role]ir.Address{
			RolePool:     ir.PoolAddress(testNS),
			RolePosition: ir.PositionAddress(testNS, alice),
		},
		Args:      Args{Delta: 5},
		RequestID: "client-chosen",
	})
	require.NoError(t, err)

	pos, err := e.Position(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), pos.Accrued)
}

func TestExecute_RecordBusy(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	newPool(t, e, alice)
	posAddr := ir.PositionAddress(testNS, alice)

	require.True(t, e.locks.tryAcquire(posAddr, modeWrite))
	before := lastSeq(t, s)

	_, err := e.ReportEnergy(ctx, alice, 1)
	requireCode(t, err, CodeRecordBusy)
	assert.True(t, errors.Is(err, ErrRecordBusy))
	assert.Equal(t, before, lastSeq(t, s))

	// the pool claim taken before the conflict was given back
	assert.Equal(t, 1, e.locks.held())

	e.locks.release(posAddr, modeWrite)
	_, err = e.ReportEnergy(ctx, alice, 1)
	require.NoError(t, err)
	assert.Zero(t, e.locks.held(), "locks must be released after commit")
}

func TestExecute_SharedPoolReads(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	burnedAgainstSale(t, e, true)

	// another transition reading the pool does not block a settle
	require.True(t, e.locks.tryAcquire(ir.PoolAddress(testNS), modeRead))
	_, err := e.SettleClaim(ctx, authority, alice, 0, 1)
	require.NoError(t, err)

	// but a writer of the pool would be blocked
	_, err = e.ReportEnergy(ctx, alice, 1)
	requireCode(t, err, CodeRecordBusy)
}

func TestExecute_ConcurrentReportsKeepTotals(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	users := []ir.Identity{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	newPool(t, e, users...)

	const perUser = 25
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u ir.Identity) {
			defer wg.Done()
			for i := 0; i < perUser; {
				_, err := e.ReportEnergy(ctx, u, 3)
				if IsCode(err, CodeRecordBusy) {
					continue // caller retries
				}
				if !assert.NoError(t, err) {
					return
				}
				i++
			}
		}(u)
	}
	wg.Wait()

	var lifetimes uint64
	for _, u := range users {
		pos, err := e.Position(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, uint64(3*perUser), pos.Lifetime)
		lifetimes += pos.Lifetime
	}
	pool, err := e.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifetimes, pool.TotalEnergy)
}

func TestExecute_ConcurrentRegistrationsDisjoint(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.RegisterUser(ctx, ir.Identity(string(rune('a'+i))))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "user %d", i)
	}
	assert.Equal(t, int64(16), lastSeq(t, s))
}

func TestExecute_ConcurrentDuplicateBurnSingleWinner(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	newPool(t, e, alice)
	_, err := e.ReportEnergy(ctx, alice, 1_000)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.BurnAndMark(ctx, alice, 0, 100)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			code := CodeOf(err)
			assert.True(t, code == CodeRecordBusy || code == CodeAlreadyExists, "unexpected %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	pos, err := e.Position(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), pos.Accrued)
}

func TestExecute_Notifier(t *testing.T) {
	ctx := context.Background()
	var got []ir.Notification
	e, _ := newTestEngine(t, WithNotifier(NotifierFunc(func(_ context.Context, n ir.Notification) {
		got = append(got, n)
	})))

	newPool(t, e, alice)
	_, err := e.RegisterUser(ctx, alice)
	require.Error(t, err)

	require.Len(t, got, 2, "rejected transitions are not delivered")
	assert.Equal(t, ir.EventPoolInitialized, got[0].Name)
	assert.Equal(t, ir.EventUserRegistered, got[1].Name)
	assert.NotEmpty(t, got[1].ID)
}

func TestEngine_IndependentPools(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	north := New(s, "north", WithLogger(quietLogger()))
	south := New(s, "south", WithLogger(quietLogger()))

	newPool(t, north, alice)
	newPool(t, south, alice)

	_, err := north.ReportEnergy(ctx, alice, 10)
	require.NoError(t, err)
	_, err = south.ReportEnergy(ctx, alice, 99)
	require.NoError(t, err)

	np, err := north.Pool(ctx)
	require.NoError(t, err)
	sp, err := south.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), np.TotalEnergy)
	assert.Equal(t, uint64(99), sp.TotalEnergy)
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{store.ErrExists, CodeAlreadyExists},
		{store.ErrNotFound, CodeNotFound},
		{store.ErrVersionConflict, CodeRecordBusy},
		{errors.New("disk full"), ""},
	}
	for _, tt := range tests {
		err := storeError(ir.TransitionReportEnergy, tt.err)
		assert.Equal(t, tt.want, CodeOf(err), "%v", tt.err)
		assert.True(t, errors.Is(err, tt.err), "cause must stay reachable")
	}
}

func TestTransitionError(t *testing.T) {
	err := newError(CodeInsufficientBalance, ir.TransitionBurnAndMark, ir.PositionAddress(testNS, alice), "burn %d exceeds accrued %d", 5, 1)
	wrapped := errors.Join(errors.New("context"), err)

	assert.True(t, errors.Is(wrapped, ErrInsufficientBalance))
	assert.False(t, errors.Is(wrapped, ErrInvalidState))
	assert.True(t, IsCode(wrapped, CodeInsufficientBalance))
	assert.Contains(t, err.Error(), "burn_and_mark: INSUFFICIENT_BALANCE: burn 5 exceeds accrued 1")
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestDeclared(t *testing.T) {
	assert.Equal(t, []Role{RolePool, RolePosition, RoleClaim}, Declared(ir.TransitionBurnAndMark))
	for _, tr := range ir.Transitions {
		assert.NotEmpty(t, Declared(tr), "transition %s", tr)
		_, ok := transitions[tr]
		assert.True(t, ok, "transition %s has no body", tr)
	}
}
