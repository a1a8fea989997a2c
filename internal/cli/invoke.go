package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Caller    string
	Args      string
	Accounts  map[string]string
	RequestID string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <transition>",
		Short: "Execute one transition against the ledger",
		Long: `Execute one transition against the ledger database.

The caller identity is taken as already authenticated. Record addresses are
derived from the caller and arguments unless given with --account.

Transitions:
  initialize_pool  register_user  report_energy  record_sale
  burn_and_mark    finalize_sale  settle_claim   claim_payout

Examples:
  voltchain invoke initialize_pool --caller payer --args '{"authority":"operator","credit_mint":"mint"}'
  voltchain invoke report_energy --caller alice --args '{"delta":1000000}'
  voltchain invoke burn_and_mark --caller alice --args '{"sale_id":0,"amount":400000}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeTransition(opts, ir.Transition(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Caller, "caller", "", "authenticated caller identity (required)")
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "transition arguments as JSON")
	cmd.Flags().StringToStringVar(&opts.Accounts, "account", nil, "declared record address by role (role=address)")
	cmd.Flags().StringVar(&opts.RequestID, "request-id", "", "correlation token (default: generated UUIDv7)")
	_ = cmd.MarkFlagRequired("caller")

	return cmd
}

func invokeTransition(opts *InvokeOptions, transition ir.Transition, cmd *cobra.Command) error {
	if !slices.Contains(ir.Transitions, transition) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown transition %q", transition)).WithCode(ErrCodeInvalidInput)
	}
	ins, err := opts.instruction(transition)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err).WithCode(ErrCodeInvalidInput)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := opts.newEngine(st).Execute(cmd.Context(), ins)
	if err != nil {
		var te *engine.TransitionError
		if !errors.As(err, &te) {
			return WrapExitError(ExitCommandError, "execute "+string(transition), err)
		}
		return WrapExitError(ExitFailure, "transition rejected", err)
	}

	return opts.formatter(cmd).Success(n, func(w io.Writer) {
		printNotification(w, n)
	})
}

// instruction builds the engine instruction from the flags. Unknown
// argument keys are rejected.
func (o *InvokeOptions) instruction(transition ir.Transition) (engine.Instruction, error) {
	var args engine.Args
	dec := json.NewDecoder(bytes.NewReader([]byte(o.Args)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return engine.Instruction{}, fmt.Errorf("--args: %w", err)
	}

	ins := engine.Instruction{
		Transition: transition,
		Caller:     ir.Identity(o.Caller),
		Args:       args,
		RequestID:  o.RequestID,
	}
	if len(o.Accounts) > 0 {
		ins.Accounts = make(map[engine.Role]ir.Address, len(o.Accounts))
		for role, addr := range o.Accounts {
			ins.Accounts[engine.Role(role)] = ir.Address(addr)
		}
	}
	return ins, nil
}

func printNotification(w io.Writer, n ir.Notification) {
	fmt.Fprintf(w, "%s seq=%d transition=%s caller=%s\n", n.Name, n.Seq, n.Transition, n.Caller)
	fmt.Fprintf(w, "  id: %s\n", n.ID)
	fmt.Fprintf(w, "  request_id: %s\n", n.RequestID)
	for _, key := range n.Payload.SortedKeys() {
		fmt.Fprintf(w, "  %s: %s\n", key, renderValue(n.Payload[key]))
	}
}

// renderValue prints strings bare and everything else as canonical JSON.
func renderValue(v ir.Value) string {
	if s, ok := v.(ir.String); ok {
		return string(s)
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
