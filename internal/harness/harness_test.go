package harness

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
)

func u64(n uint64) *uint64 { return &n }

func step(t ir.Transition, caller ir.Identity, args engine.Args) Step {
	return Step{Instruction: engine.Instruction{Transition: t, Caller: caller, Args: args}}
}

func expectError(s Step, code engine.Code) Step {
	s.Expect = &Expect{Error: code}
	return s
}

func poolSetup() []Step {
	return []Step{
		step(ir.TransitionInitializePool, "payer", engine.Args{Authority: "operator", CreditMint: "mint"}),
		step(ir.TransitionRegisterUser, "alice", engine.Args{}),
	}
}

func TestRun_CommittedSteps(t *testing.T) {
	scenario := &Scenario{
		Name:  "committed",
		Setup: poolSetup(),
		Flow: []Step{
			step(ir.TransitionReportEnergy, "alice", engine.Args{Delta: 10}),
			step(ir.TransitionReportEnergy, "alice", engine.Args{Delta: 5}),
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Record: RecordPosition, Owner: "alice", Expect: map[string]any{"accrued": 15}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 4)
	require.Len(t, result.Notifications, 4)

	last := result.Trace[3]
	assert.Equal(t, PhaseFlow, last.Phase)
	assert.Equal(t, 1, last.Step)
	assert.Equal(t, OutcomeOK, last.Outcome)
	assert.Equal(t, ir.EventEnergyReported, last.Event)
	assert.Equal(t, int64(4), last.Seq)
	assert.Equal(t, ir.Uint(15), last.Payload["pool_total"])

	assert.Equal(t, "committed-4", result.Notifications[3].RequestID)
	assert.Equal(t, DefaultNamespace, result.Notifications[3].Namespace)
}

func TestRun_ExpectedErrorPasses(t *testing.T) {
	scenario := &Scenario{
		Name:  "expected_error",
		Setup: poolSetup(),
		Flow: []Step{
			expectError(step(ir.TransitionBurnAndMark, "alice", engine.Args{SaleID: 0, Amount: 1}), engine.CodeInsufficientBalance),
		},
		Assertions: []Assertion{{Type: AssertEventCount, Name: ir.EventTokensBurned, Count: 0}},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, string(engine.CodeInsufficientBalance), result.Trace[2].Outcome)
	assert.False(t, result.Trace[2].Committed())
}

func TestRun_UnexpectedOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		flow    Step
		wantErr string
	}{
		{
			name:    "failure where success expected",
			flow:    step(ir.TransitionRegisterUser, "alice", engine.Args{}),
			wantErr: "flow[0] register_user: expected success",
		},
		{
			name:    "wrong failure code",
			flow:    expectError(step(ir.TransitionRegisterUser, "alice", engine.Args{}), engine.CodeUnauthorized),
			wantErr: "expected UNAUTHORIZED, got ALREADY_EXISTS",
		},
		{
			name:    "success where failure expected",
			flow:    expectError(step(ir.TransitionRegisterUser, "bob", engine.Args{}), engine.CodeAlreadyExists),
			wantErr: "expected ALREADY_EXISTS, got success",
		},
		{
			name: "payload mismatch",
			flow: Step{
				Instruction: engine.Instruction{Transition: ir.TransitionReportEnergy, Caller: "alice", Args: engine.Args{Delta: 7}},
				Expect:      &Expect{Payload: map[string]any{"pool_total": 8}},
			},
			wantErr: `field "pool_total" = 7, want 8`,
		},
		{
			name: "payload field missing",
			flow: Step{
				Instruction: engine.Instruction{Transition: ir.TransitionRegisterUser, Caller: "bob"},
				Expect:      &Expect{Payload: map[string]any{"user": "bob"}},
			},
			wantErr: `field "user" missing`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:       "unexpected",
				Setup:      poolSetup(),
				Flow:       []Step{tt.flow},
				Assertions: []Assertion{{Type: AssertAuditClean}},
			}

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.NotEmpty(t, result.Errors)
			assert.Contains(t, result.Errors[0], tt.wantErr)
		})
	}
}

func TestRun_FailedSetupSkipsFlow(t *testing.T) {
	scenario := &Scenario{
		Name: "bad_setup",
		Setup: []Step{
			step(ir.TransitionRegisterUser, "alice", engine.Args{}),
			step(ir.TransitionRegisterUser, "alice", engine.Args{}),
		},
		Flow:       []Step{step(ir.TransitionRegisterUser, "bob", engine.Args{})},
		Assertions: []Assertion{{Type: AssertAuditClean}},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Trace, 2)
	assert.Contains(t, result.Errors[0], "setup[1] register_user: expected success")
}

func TestRun_AssetField(t *testing.T) {
	scenario := &Scenario{
		Name:       "asset_field",
		AssetField: "voltchain_mint",
		Setup:      poolSetup(),
		Flow:       []Step{step(ir.TransitionReportEnergy, "alice", engine.Args{Delta: 1})},
		Assertions: []Assertion{
			{Type: AssertEventEmitted, Name: ir.EventPoolInitialized, Payload: map[string]any{"voltchain_mint": "mint"}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	_, hasDefault := result.Trace[0].Payload["credit_mint"]
	assert.False(t, hasDefault)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/sale_lifecycle.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	require.Equal(t, len(first.Notifications), len(second.Notifications))
	for i := range first.Notifications {
		assert.Equal(t, first.Notifications[i].ID, second.Notifications[i].ID, "notification %d", i)
	}
}

func TestRun_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	scenario := &Scenario{
		Name:       "logged",
		Setup:      poolSetup(),
		Flow:       []Step{expectError(step(ir.TransitionRegisterUser, "alice", engine.Args{}), engine.CodeAlreadyExists)},
		Assertions: []Assertion{{Type: AssertAuditClean}},
	}

	result, err := Run(context.Background(), scenario, WithLogger(logger))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, buf.String(), "step rejected")
	assert.Contains(t, buf.String(), "scenario finished")
}
