package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alitto/pond/v2"

	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

// DefaultWorkers bounds concurrent settle_claim transitions per run.
const DefaultWorkers = 4

// busyRetries is how often a claim is retried after RECORD_BUSY.
const busyRetries = 3

// Runner settles finalized sales against a ledger.
//
// Claims are discovered from TokensBurned notifications, read through the
// engine, and written back with settle_claim as the pool authority. Each
// claim is its own record, so claims of one sale settle in parallel on a
// bounded worker pool.
type Runner struct {
	engine    *engine.Engine
	log       store.Backend
	authority ir.Identity
	workers   pond.Pool
	logger    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	workers int
	logger  *slog.Logger
}

// WithWorkers sets the number of concurrent settle_claim workers.
func WithWorkers(n int) RunnerOption {
	return func(c *runnerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(c *runnerConfig) {
		c.logger = l
	}
}

// NewRunner creates a Runner. records is the store the engine writes to;
// the runner only reads notifications from it. Call Close when done.
func NewRunner(e *engine.Engine, records store.Backend, authority ir.Identity, opts ...RunnerOption) *Runner {
	cfg := runnerConfig{workers: DefaultWorkers, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runner{
		engine:    e,
		log:       records,
		authority: authority,
		workers:   pond.NewPool(cfg.workers, pond.WithQueueSize(cfg.workers*16)),
		logger:    cfg.logger,
	}
}

// Close stops the worker pool after queued settlements finish.
func (r *Runner) Close() {
	r.workers.StopAndWait()
}

// Claims returns the current state of every claim burned against saleID,
// in burn order.
func (r *Runner) Claims(ctx context.Context, saleID uint64) ([]ir.UserClaim, error) {
	burns, err := r.log.Notifications(ctx, store.NotificationQuery{
		Namespace: r.engine.Namespace(),
		Name:      ir.EventTokensBurned,
	})
	if err != nil {
		return nil, fmt.Errorf("list burns: %w", err)
	}

	claims := []ir.UserClaim{}
	for _, n := range burns {
		id, ok := n.Payload.Uint64("sale_id")
		if !ok || id != saleID {
			continue
		}
		owner, ok := n.Payload.Str("owner")
		if !ok {
			return nil, fmt.Errorf("burn notification %d has no owner", n.Seq)
		}
		c, err := r.engine.Claim(ctx, ir.Identity(owner), saleID)
		if err != nil {
			return nil, fmt.Errorf("load claim of %s on sale %d: %w", owner, saleID, err)
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// SettleSale computes the report for a finalized sale and writes every
// unclaimed claim whose stored amount differs. Returns the report and the
// number of claims written.
func (r *Runner) SettleSale(ctx context.Context, saleID uint64) (Report, int, error) {
	sale, err := r.engine.Sale(ctx, saleID)
	if err != nil {
		return Report{}, 0, fmt.Errorf("load sale %d: %w", saleID, err)
	}
	if !sale.Finalized {
		return Report{}, 0, fmt.Errorf("sale %d: %w", saleID, ErrSaleOpen)
	}

	claims, err := r.Claims(ctx, saleID)
	if err != nil {
		return Report{}, 0, err
	}
	report, err := Calculate(sale, claims)
	if err != nil {
		return Report{}, 0, err
	}

	stored := make(map[ir.Identity]ir.UserClaim, len(claims))
	for _, c := range claims {
		stored[c.User] = c
	}

	var (
		mu      sync.Mutex
		written int
	)
	group := r.workers.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, s := range report.Shares {
		c := stored[s.User]
		if c.Claimed || c.ClaimableAmount == s.ClaimableAmount {
			continue
		}
		s := s
		group.SubmitErr(func() error {
			if err := r.settle(groupCtx, s.User, saleID, s.ClaimableAmount); err != nil {
				return err
			}
			mu.Lock()
			written++
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return report, written, fmt.Errorf("settle sale %d: %w", saleID, err)
	}

	r.logger.Info("sale settled",
		"sale_id", saleID,
		"claims", len(report.Shares),
		"written", written,
		"net_revenue", report.NetRevenue,
		"undistributed", report.Undistributed,
	)
	return report, written, nil
}

func (r *Runner) settle(ctx context.Context, user ir.Identity, saleID, amount uint64) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		_, err = r.engine.SettleClaim(ctx, r.authority, user, saleID, amount)
		if !engine.IsCode(err, engine.CodeRecordBusy) {
			return err
		}
		r.logger.Debug("claim busy, retrying", "user", user, "sale_id", saleID, "attempt", attempt+1)
	}
	return err
}

// Run settles every finalized sale of the pool and returns the reports of
// sales where at least one claim was written.
func (r *Runner) Run(ctx context.Context) ([]Report, error) {
	pool, err := r.engine.Pool(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}

	var reports []Report
	for id := uint64(0); id < pool.Period; id++ {
		sale, err := r.engine.Sale(ctx, id)
		if err != nil {
			return reports, fmt.Errorf("load sale %d: %w", id, err)
		}
		if !sale.Finalized {
			continue
		}
		report, written, err := r.SettleSale(ctx, id)
		if err != nil {
			return reports, err
		}
		if written > 0 {
			reports = append(reports, report)
		}
	}
	return reports, nil
}
