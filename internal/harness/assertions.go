package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/voltchain/internal/audit"
	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent // committed and rejected steps, for context
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s by %s: %s", i+1, event.Transition, event.Caller, event.Outcome)
			if event.Event != "" {
				fmt.Fprintf(&buf, " %s", event.Event)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the run's final state.
type AssertionContext struct {
	Ctx       context.Context
	Engine    *engine.Engine
	Store     audit.Reader
	Namespace string
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertEventEmitted:
		return assertEventEmitted(result.Trace, a)
	case AssertEventOrder:
		return assertEventOrder(result.Trace, a)
	case AssertEventCount:
		return assertEventCount(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(actx, a)
	case AssertAuditClean:
		return assertAuditClean(actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertEventEmitted checks that some committed step emitted the named
// event with a payload containing a.Payload.
func assertEventEmitted(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Committed() && event.Event == a.Name && matchObject(event.Payload, a.Payload) == "" {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventEmitted,
		Expected: fmt.Sprintf("event %s with payload %v", a.Name, a.Payload),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that the first occurrences of the named events
// appear in the given order. Other events may appear in between.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if !event.Committed() {
			continue
		}
		if _, seen := positions[event.Event]; !seen {
			positions[event.Event] = i + 1
		}
	}

	for _, name := range a.Events {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Committed() && event.Event == a.Name {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Name),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState loads the selected record through the engine's read
// views and compares the fields named in a.Expect.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	desc := describeRecord(a)

	obj, err := loadRecord(actx, a)
	if errors.Is(err, store.ErrNotFound) {
		if a.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: desc + " to exist",
			Actual:   "record not found",
		}
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", desc, err)
	}
	if a.Absent {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: desc + " to be absent",
			Actual:   render(obj),
		}
	}

	if msg := matchObject(obj, a.Expect); msg != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s matching %v", desc, a.Expect),
			Actual:   msg,
		}
	}
	return nil
}

func loadRecord(actx *AssertionContext, a Assertion) (ir.Object, error) {
	ctx, e := actx.Ctx, actx.Engine
	switch a.Record {
	case RecordPool:
		p, err := e.Pool(ctx)
		return p.ToObject(), err
	case RecordPosition:
		p, err := e.Position(ctx, a.Owner)
		return p.ToObject(), err
	case RecordSale:
		s, err := e.Sale(ctx, *a.SaleID)
		return s.ToObject(), err
	case RecordClaim:
		c, err := e.Claim(ctx, a.User, *a.SaleID)
		return c.ToObject(), err
	default:
		return nil, fmt.Errorf("unknown record %q", a.Record)
	}
}

func describeRecord(a Assertion) string {
	switch a.Record {
	case RecordPosition:
		return fmt.Sprintf("position of %s", a.Owner)
	case RecordSale:
		return fmt.Sprintf("sale %d", *a.SaleID)
	case RecordClaim:
		return fmt.Sprintf("claim of %s on sale %d", a.User, *a.SaleID)
	default:
		return a.Record
	}
}

func assertAuditClean(actx *AssertionContext) error {
	res, err := audit.Run(actx.Ctx, actx.Store, actx.Namespace)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if res.OK() {
		return nil
	}
	lines := make([]string, len(res.Violations))
	for i, v := range res.Violations {
		lines[i] = fmt.Sprintf("%s: %s", v.Check, v.Message)
	}
	return &AssertionError{
		Type:     AssertAuditClean,
		Expected: "no invariant violations",
		Actual:   strings.Join(lines, "; "),
	}
}
