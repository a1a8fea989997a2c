package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store/memory"
)

// Harness executes scenario steps against one engine.
type Harness struct {
	store  *memory.Store
	engine *engine.Engine
	logger *slog.Logger
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes engine and harness logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario on a fresh in-memory store.
//
// Execution flow:
//  1. Build an engine with sequential request IDs
//  2. Execute setup steps, which must all succeed
//  3. Execute flow steps and compare each outcome with its expect clause
//  4. Evaluate assertions over the log and the final records
//
// The returned error covers harness failures only. Scenario failures are
// reported through Result.Pass and Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		store:  memory.New(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	defer h.store.Close()

	namespace := scenario.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	engineOpts := []engine.Option{
		engine.WithLogger(h.logger),
		engine.WithRequestIDGenerator(engine.NewSequentialGenerator(scenario.Name)),
	}
	if scenario.AssetField != "" {
		engineOpts = append(engineOpts, engine.WithAssetField(scenario.AssetField))
	}
	h.engine = engine.New(h.store, namespace, engineOpts...)

	result := NewResult()
	for i, step := range scenario.Setup {
		if err := h.execute(ctx, PhaseSetup, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", err)
		}
	}
	if !result.Pass {
		return result, nil
	}
	for i, step := range scenario.Flow {
		if err := h.execute(ctx, PhaseFlow, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute flow: %w", err)
		}
	}

	actx := &AssertionContext{
		Ctx:       ctx,
		Engine:    h.engine,
		Store:     h.store,
		Namespace: namespace,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"steps", len(result.Trace),
		"pass", result.Pass,
	)
	return result, nil
}

// execute runs one step and checks it against its expect clause.
// Only failures outside the transition error space are returned.
func (h *Harness) execute(ctx context.Context, phase Phase, i int, step Step, result *Result) error {
	ins := step.Instruction
	n, err := h.engine.Execute(ctx, ins)
	if err != nil {
		code := engine.CodeOf(err)
		if code == "" {
			return fmt.Errorf("%s[%d] %s: %w", phase, i, ins.Transition, err)
		}
		result.addRejected(phase, i, ins, code)

		var want engine.Code
		if step.Expect != nil {
			want = step.Expect.Error
		}
		switch {
		case want == "":
			result.AddError(fmt.Sprintf("%s[%d] %s: expected success, got %s", phase, i, ins.Transition, err))
		case want != code:
			result.AddError(fmt.Sprintf("%s[%d] %s: expected %s, got %s", phase, i, ins.Transition, want, code))
		}
		h.logger.Debug("step rejected", "phase", phase, "step", i, "code", code)
		return nil
	}

	result.addCommitted(phase, i, ins, n)
	if step.Expect == nil {
		return nil
	}
	if step.Expect.Error != "" {
		result.AddError(fmt.Sprintf("%s[%d] %s: expected %s, got success", phase, i, ins.Transition, step.Expect.Error))
		return nil
	}
	if msg := matchObject(n.Payload, step.Expect.Payload); msg != "" {
		result.AddError(fmt.Sprintf("%s[%d] %s payload: %s", phase, i, ins.Transition, msg))
	}
	return nil
}

// matchObject checks that every key of want is present in got with an
// equal value. It returns "" on match or a description of the first
// difference, keys visited in sorted order.
func matchObject(got ir.Object, want map[string]any) string {
	if len(want) == 0 {
		return ""
	}
	expected, err := ir.FromAny(want)
	if err != nil {
		return fmt.Sprintf("invalid expected value: %v", err)
	}
	obj := expected.(ir.Object)
	for _, key := range obj.SortedKeys() {
		actual, ok := got[key]
		if !ok {
			return fmt.Sprintf("field %q missing", key)
		}
		if !ir.Equal(actual, obj[key]) {
			return fmt.Sprintf("field %q = %s, want %s", key, render(actual), render(obj[key]))
		}
	}
	return ""
}

func render(v ir.Value) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
