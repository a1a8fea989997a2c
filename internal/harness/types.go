package harness

import (
	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
)

// Phase tells which scenario section a trace event came from.
type Phase string

const (
	PhaseSetup Phase = "setup"
	PhaseFlow  Phase = "flow"
)

// OutcomeOK marks a committed step in the trace.
const OutcomeOK = "ok"

// TraceEvent records one executed step.
type TraceEvent struct {
	Phase      Phase         `json:"phase"`
	Step       int           `json:"step"`
	Transition ir.Transition `json:"transition"`
	Caller     ir.Identity   `json:"caller"`
	Outcome    string        `json:"outcome"` // OutcomeOK or an error code
	Event      string        `json:"event,omitempty"`
	Seq        int64         `json:"seq,omitempty"`
	Payload    ir.Object     `json:"payload,omitempty"`
}

// Committed reports whether the step produced a notification.
func (e TraceEvent) Committed() bool {
	return e.Outcome == OutcomeOK
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Notifications holds the full log, IDs included.
	Notifications []ir.Notification `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addCommitted(phase Phase, step int, ins engine.Instruction, n ir.Notification) {
	r.Trace = append(r.Trace, TraceEvent{
		Phase:      phase,
		Step:       step,
		Transition: ins.Transition,
		Caller:     ins.Caller,
		Outcome:    OutcomeOK,
		Event:      n.Name,
		Seq:        n.Seq,
		Payload:    n.Payload,
	})
	r.Notifications = append(r.Notifications, n)
}

func (r *Result) addRejected(phase Phase, step int, ins engine.Instruction, code engine.Code) {
	r.Trace = append(r.Trace, TraceEvent{
		Phase:      phase,
		Step:       step,
		Transition: ins.Transition,
		Caller:     ins.Caller,
		Outcome:    string(code),
	})
}
