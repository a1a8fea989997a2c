package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/settlement"
)

// SettleOptions holds flags for the settle command.
type SettleOptions struct {
	*RootOptions
	Sale      int64
	ReportDir string
	Authority string
	Workers   int
	Schedule  string
	Serve     bool
}

// SettleResult is the JSON shape of a one-shot settlement.
type SettleResult struct {
	Reports []settlement.Report `json:"reports"`
	Files   []string            `json:"files,omitempty"`
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SettleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Compute and write claim payouts for finalized sales",
		Long: `Compute each claimant's share of a finalized sale's net revenue and write
it through settle_claim.

  fee       = revenue * fee_bps / 10000
  net       = revenue - fee
  claimable = floor(net * burned / total burned)

Without --sale every finalized sale is settled. With --serve the command
keeps running and settles on the configured cron schedule (six fields,
seconds first) until interrupted.

Examples:
  voltchain settle
  voltchain settle --sale 0 --report-dir ./reports
  voltchain settle --serve --schedule "0 */10 * * * *"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettle(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Sale, "sale", -1, "settle only this sale id")
	cmd.Flags().StringVar(&opts.ReportDir, "report-dir", "", "directory for CSV reports (default from config)")
	cmd.Flags().StringVar(&opts.Authority, "authority", "", "authority identity (default from config, then the pool)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent claim writers (default from config)")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "cron schedule for --serve (default from config)")
	cmd.Flags().BoolVar(&opts.Serve, "serve", false, "keep running and settle on a schedule")

	return cmd
}

func runSettle(opts *SettleOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)
	cfg := opts.Config.Settlement

	reportDir := firstNonEmpty(opts.ReportDir, cfg.ReportDir)
	schedule := firstNonEmpty(opts.Schedule, cfg.Schedule)
	workers := cfg.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	e := opts.newEngine(st)
	authority, err := opts.authority(cmd, e)
	if err != nil {
		return err
	}

	f.VerboseLog("settling as %s with %d workers", authority, workers)

	runner := settlement.NewRunner(e, st, authority,
		settlement.WithWorkers(workers),
		settlement.WithLogger(opts.logger()),
	)
	defer runner.Close()

	if opts.Serve {
		sched, err := settlement.NewScheduler(ctx, runner, schedule, reportDir, opts.logger())
		if err != nil {
			return WrapExitError(ExitCommandError, "schedule settlement", err).WithCode(ErrCodeConfig)
		}
		sched.Start()
		<-ctx.Done()
		sched.Stop()
		return nil
	}

	var result SettleResult
	if opts.Sale >= 0 {
		report, _, err := runner.SettleSale(ctx, uint64(opts.Sale))
		if err != nil {
			return WrapExitError(ExitFailure, "settle", err)
		}
		result.Reports = []settlement.Report{report}
	} else {
		reports, err := runner.Run(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "settle", err)
		}
		result.Reports = reports
	}
	if result.Files, err = settlement.WriteReports(reportDir, result.Reports, time.Now()); err != nil {
		return WrapExitError(ExitCommandError, "write report", err).WithCode(ErrCodeWriteFailed)
	}
	if result.Reports == nil {
		result.Reports = []settlement.Report{}
	}

	return f.Success(result, func(w io.Writer) {
		if len(result.Reports) == 0 {
			fmt.Fprintln(w, "Nothing to settle.")
			return
		}
		for _, r := range result.Reports {
			fmt.Fprintf(w, "sale %d: revenue %d, fee %d, net %d, %d claims, undistributed %d\n",
				r.SaleID, r.Revenue, r.Fee, r.NetRevenue, len(r.Shares), r.Undistributed)
			for _, s := range r.Shares {
				fmt.Fprintf(w, "  %s: burned %d, claimable %d\n", s.User, s.BurnedAmount, s.ClaimableAmount)
			}
		}
		for _, path := range result.Files {
			fmt.Fprintf(w, "report: %s\n", path)
		}
	})
}

// authority resolves the identity settlement writes as. The CLI operator is
// trusted to act for the pool authority.
func (o *SettleOptions) authority(cmd *cobra.Command, e *engine.Engine) (ir.Identity, error) {
	if id := firstNonEmpty(o.Authority, o.Config.Settlement.Authority); id != "" {
		return ir.Identity(id), nil
	}
	pool, err := e.Pool(cmd.Context())
	if err != nil {
		return "", WrapExitError(ExitFailure, "resolve authority", err)
	}
	return pool.Authority, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
