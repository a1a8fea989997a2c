package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

// recordView is the JSON shape of a shown record.
type recordView struct {
	Kind      ir.Kind    `json:"kind"`
	Address   ir.Address `json:"address"`
	Namespace string     `json:"namespace"`
	Fields    ir.Object  `json:"fields"`
}

// NewShowCommand creates the show command and its record subcommands.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one ledger record",
		Long: `Show one ledger record of the configured namespace.

Examples:
  voltchain show pool
  voltchain show position alice
  voltchain show sale 0
  voltchain show claim alice 0 --format json`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "pool",
		Short:         "Show the pool",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRecord(rootOpts, cmd, func(ctx context.Context, e *engine.Engine) (ir.Record, ir.Address, error) {
				p, err := e.Pool(ctx)
				return p, ir.PoolAddress(e.Namespace()), err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "position <owner>",
		Short:         "Show a producer's position",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := ir.Identity(args[0])
			return showRecord(rootOpts, cmd, func(ctx context.Context, e *engine.Engine) (ir.Record, ir.Address, error) {
				p, err := e.Position(ctx, owner)
				return p, ir.PositionAddress(e.Namespace(), owner), err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "sale <id>",
		Short:         "Show a sale",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSaleID(args[0])
			if err != nil {
				return err
			}
			return showRecord(rootOpts, cmd, func(ctx context.Context, e *engine.Engine) (ir.Record, ir.Address, error) {
				s, err := e.Sale(ctx, id)
				return s, ir.SaleAddress(e.Namespace(), id), err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "claim <user> <sale-id>",
		Short:         "Show a user's claim on a sale",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user := ir.Identity(args[0])
			id, err := parseSaleID(args[1])
			if err != nil {
				return err
			}
			return showRecord(rootOpts, cmd, func(ctx context.Context, e *engine.Engine) (ir.Record, ir.Address, error) {
				c, err := e.Claim(ctx, user, id)
				return c, ir.ClaimAddress(e.Namespace(), user, id), err
			})
		},
	})

	return cmd
}

func parseSaleID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid sale id %q", s), err).WithCode(ErrCodeInvalidInput)
	}
	return id, nil
}

type loadFunc func(ctx context.Context, e *engine.Engine) (ir.Record, ir.Address, error)

func showRecord(opts *RootOptions, cmd *cobra.Command, load loadFunc) error {
	f := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	e := opts.newEngine(st)
	rec, addr, err := load(cmd.Context(), e)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitFailure, "record not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "read record", err).WithCode(ErrCodeStore)
	}

	view := recordView{
		Kind:      rec.Kind(),
		Address:   addr,
		Namespace: e.Namespace(),
		Fields:    rec.ToObject(),
	}
	return f.Success(view, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s\n", view.Kind, view.Address)
		for _, key := range view.Fields.SortedKeys() {
			fmt.Fprintf(w, "  %s: %s\n", key, renderValue(view.Fields[key]))
		}
	})
}
