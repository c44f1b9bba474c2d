package symtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// Outcome classifies how one explored path concluded.
type Outcome int

const (
	// OutcomePass is a path that reached a passing conclusion.
	OutcomePass Outcome = iota

	// OutcomeFail is a path that reached an explicit failure.
	OutcomeFail

	// OutcomeSoftFail is a degraded path that recorded a failure but was
	// allowed to run to its natural end without a harder conclusion.
	OutcomeSoftFail

	// OutcomeAbandon is a path the test itself gave up on, with a reason.
	OutcomeAbandon

	// OutcomeAnomalous is a path that ended outside the harness protocol:
	// a crash, a timeout or an engine-level abort.
	OutcomeAnomalous
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeSoftFail:
		return "soft-fail"
	case OutcomeAbandon:
		return "abandon"
	case OutcomeAnomalous:
		return "anomalous"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// LogLine is one line of target-side log output captured on a path.
type LogLine struct {
	Level LogLevel
	Text  string
}

func (l LogLine) String() string {
	return fmt.Sprintf("[%s] %s", l.Level, l.Text)
}

// Verdict is the structured result of one terminated path of one test.
type Verdict struct {
	Test    string
	Outcome Outcome
	Reason  string
	Tag     string
	Logs    []LogLine

	// Input holds the concretized reproducer bytes that drive execution
	// down this path, when extraction succeeded.
	Input []byte
}

// normalizeTermination turns a raw termination event into a Verdict. The
// harness tag maps to the outcome recorded by the handler that requested
// termination; an empty tag is a natural return and finalizes the last
// recorded outcome; any other tag is anomalous and reported verbatim.
func normalizeTermination(test string, p Path, tag string) Verdict {
	state := stateOf(p)
	for level := range state.streams {
		state.flushStream(level)
	}

	v := Verdict{Test: test, Tag: tag, Logs: state.logs}
	switch {
	case tag == TerminationTag:
		if state.hasOutcome {
			v.Outcome = state.outcome
			v.Reason = state.reason
		} else {
			v.Outcome = OutcomeAbandon
			v.Reason = "termination requested without a recorded outcome"
		}
	case tag == "":
		if state.hasOutcome {
			v.Outcome = state.outcome
			v.Reason = state.reason
		} else {
			v.Outcome = OutcomeAnomalous
			v.Reason = "path ended without reaching a conclusion"
		}
	default:
		v.Outcome = OutcomeAnomalous
		v.Reason = tag
	}

	if input, err := SolveInput(p); err == nil {
		v.Input = input
	}
	return v
}

// Report aggregates the verdicts of one batch run.
type Report struct {
	Verdicts []Verdict
}

// Counts returns the number of verdicts per outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, v := range r.Verdicts {
		counts[v.Outcome]++
	}
	return counts
}

// Failed reports whether any verdict fails the batch. SoftFail marks a
// degraded path but does not fail the batch on its own.
func (r *Report) Failed() bool {
	for _, v := range r.Verdicts {
		switch v.Outcome {
		case OutcomeFail, OutcomeAbandon, OutcomeAnomalous:
			return true
		}
	}
	return false
}

// ExitCode returns the process exit status for the batch.
func (r *Report) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// String renders a per-test summary followed by outcome counts.
func (r *Report) String() string {
	var buf strings.Builder
	for _, v := range r.Verdicts {
		fmt.Fprintf(&buf, "%s: %s", v.Test, v.Outcome)
		if v.Reason != "" {
			fmt.Fprintf(&buf, " (%s)", v.Reason)
		}
		if len(v.Input) > 0 {
			fmt.Fprintf(&buf, " input=%x", v.Input)
		}
		buf.WriteByte('\n')
		for _, line := range v.Logs {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}

	counts := r.Counts()
	outcomes := make([]Outcome, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })

	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("%d %s", counts[o], o))
	}
	fmt.Fprintf(&buf, "%d paths: %s\n", len(r.Verdicts), strings.Join(parts, ", "))
	return buf.String()
}

// Dump renders the full report structure for debugging.
func (r *Report) Dump() string {
	return spew.Sdump(r)
}
