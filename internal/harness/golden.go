package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/voltchain/internal/ir"
)

// Snapshot renders a trace as one canonical JSON object per line, headed by
// the scenario name. Notification IDs and request IDs are left out so the
// snapshot depends only on the ledger behaviour.
func Snapshot(name string, result *Result) ([]byte, error) {
	var buf bytes.Buffer

	header, err := ir.MarshalCanonical(ir.Object{"scenario": ir.String(name)})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for i, event := range result.Trace {
		line, err := ir.MarshalCanonical(event.toObject())
		if err != nil {
			return nil, fmt.Errorf("trace[%d]: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (e TraceEvent) toObject() ir.Object {
	obj := ir.Object{
		"phase":      ir.String(e.Phase),
		"step":       ir.Uint(e.Step),
		"transition": ir.String(e.Transition),
		"caller":     ir.String(e.Caller),
		"outcome":    ir.String(e.Outcome),
	}
	if e.Committed() {
		obj["event"] = ir.String(e.Event)
		obj["seq"] = ir.Uint(e.Seq)
		payload := e.Payload
		if payload == nil {
			payload = ir.Object{}
		}
		obj["payload"] = payload
	}
	return obj
}

// RunWithGolden executes a scenario and compares its trace with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}
