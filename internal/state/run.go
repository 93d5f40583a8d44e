package state

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the lifecycle position of a WorkflowRun.
type Phase int

const (
	PhaseCreated Phase = iota
	PhasePlanning
	PhaseExecuting
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhasePlanning:
		return "planning"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ErrInvalidTransition is returned when a run is driven out of order.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// WorkflowRun is the mutable aggregate for one execution. It is owned by a
// single orchestrator and is not safe for concurrent use.
//
// len(results) == cursor holds after every method returns, and the run is
// completed exactly when cursor == len(plan).
type WorkflowRun struct {
	id        string
	objective string
	phase     Phase
	plan      []string
	cursor    int
	results   []Result
	degraded  bool
	startedAt time.Time
	endedAt   time.Time
}

// NewWorkflowRun creates a run in the Created phase.
func NewWorkflowRun(id, objective string) *WorkflowRun {
	return &WorkflowRun{id: id, objective: objective, phase: PhaseCreated}
}

func (r *WorkflowRun) ID() string        { return r.id }
func (r *WorkflowRun) Objective() string { return r.objective }
func (r *WorkflowRun) Phase() Phase      { return r.phase }
func (r *WorkflowRun) Cursor() int       { return r.cursor }
func (r *WorkflowRun) Completed() bool   { return r.phase == PhaseCompleted }

// BeginPlanning moves Created -> Planning.
func (r *WorkflowRun) BeginPlanning(now time.Time) error {
	if r.phase != PhaseCreated {
		return fmt.Errorf("%w: begin planning from %s", ErrInvalidTransition, r.phase)
	}
	r.phase = PhasePlanning
	r.startedAt = now
	return nil
}

// BeginExecuting moves Planning -> Executing with a copy of plan. An empty plan
// completes the run immediately.
func (r *WorkflowRun) BeginExecuting(plan []string, degraded bool, now time.Time) error {
	if r.phase != PhasePlanning {
		return fmt.Errorf("%w: begin executing from %s", ErrInvalidTransition, r.phase)
	}
	r.plan = append([]string(nil), plan...)
	r.degraded = degraded
	r.cursor = 0
	r.results = make([]Result, 0, len(plan))
	r.phase = PhaseExecuting
	r.maybeComplete(now)
	return nil
}

// NextStep returns the step at the cursor. ok is false once every step has a result.
func (r *WorkflowRun) NextStep() (index int, step string, ok bool) {
	if r.phase != PhaseExecuting || r.cursor >= len(r.plan) {
		return r.cursor, "", false
	}
	return r.cursor, r.plan[r.cursor], true
}

// RecordResult appends the result for the step at the cursor and advances it,
// whatever the result kind.
func (r *WorkflowRun) RecordResult(res Result, now time.Time) error {
	if r.phase != PhaseExecuting {
		return fmt.Errorf("%w: record result in %s", ErrInvalidTransition, r.phase)
	}
	r.results = append(r.results, res)
	r.cursor++
	r.maybeComplete(now)
	return nil
}

func (r *WorkflowRun) maybeComplete(now time.Time) {
	if r.cursor == len(r.plan) {
		r.phase = PhaseCompleted
		r.endedAt = now
	}
}

// Report is an immutable snapshot of a run.
type Report struct {
	RunID     string
	Objective string
	Plan      []string
	Results   []Result
	Completed bool
	Degraded  bool
	Duration  time.Duration
}

// Snapshot copies the run's current state.
func (r *WorkflowRun) Snapshot() Report {
	rep := Report{
		RunID:     r.id,
		Objective: r.objective,
		Plan:      append([]string{}, r.plan...),
		Results:   append([]Result{}, r.results...),
		Completed: r.Completed(),
		Degraded:  r.degraded,
	}
	if !r.endedAt.IsZero() {
		rep.Duration = r.endedAt.Sub(r.startedAt)
	}
	return rep
}

// Texts returns the result texts in plan order.
func (rep Report) Texts() []string {
	out := make([]string, len(rep.Results))
	for i, res := range rep.Results {
		out[i] = res.Text
	}
	return out
}

// Failures counts failure-tagged results.
func (rep Report) Failures() int {
	n := 0
	for _, res := range rep.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// Validate checks the run invariants on a snapshot.
func (rep Report) Validate() error {
	if rep.Objective == "" {
		return fmt.Errorf("objective cannot be empty")
	}
	if len(rep.Results) > len(rep.Plan) {
		return fmt.Errorf("results (%d) exceed plan length (%d)", len(rep.Results), len(rep.Plan))
	}
	if rep.Completed != (len(rep.Results) == len(rep.Plan)) {
		return fmt.Errorf("completed=%t with %d/%d results", rep.Completed, len(rep.Results), len(rep.Plan))
	}
	return nil
}
