package state

import (
	"encoding/json"
	"fmt"
)

// ResultKind tags a step or tool outcome.
type ResultKind int

const (
	KindSuccess ResultKind = iota
	KindFailure
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the outcome of one step or one tool call. Text carries the same
// human-readable output in both cases; Kind says which case it is.
type Result struct {
	Kind ResultKind
	Text string
}

// Success wraps a successful outcome.
func Success(text string) Result {
	return Result{Kind: KindSuccess, Text: text}
}

// Failure wraps a failed outcome.
func Failure(text string) Result {
	return Result{Kind: KindFailure, Text: text}
}

// Failuref builds a failure from a format string.
func Failuref(format string, args ...any) Result {
	return Failure(fmt.Sprintf(format, args...))
}

// OK reports whether the result is success-tagged.
func (r Result) OK() bool { return r.Kind == KindSuccess }

func (r Result) String() string { return r.Text }

type resultJSON struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{Success: r.OK(), Output: r.Text})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Text = raw.Output
	r.Kind = KindFailure
	if raw.Success {
		r.Kind = KindSuccess
	}
	return nil
}
