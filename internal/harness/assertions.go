package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/pushreg/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, describe(ev))
	}

	return buf.String()
}

func describe(ev TraceEvent) string {
	switch ev.Type {
	case TraceTransition:
		return fmt.Sprintf("%s: %s -> %s", ev.Event, ev.From, ev.To)
	case TraceQueued:
		return fmt.Sprintf("%s queued in %s", ev.Event, ev.State)
	case TraceRequest:
		return fmt.Sprintf("request %s for %s", ev.Request, ev.Device)
	case TraceCallback:
		if ev.Error != "" {
			return fmt.Sprintf("callback %s: %s", ev.Callback, ev.Error)
		}
		return "callback " + ev.Callback
	case TraceRestart:
		return "restart in " + ev.State
	}
	return ev.Type
}

// assertSequence compares two sequences exactly.
func assertSequence(kind string, want, got []string, trace []TraceEvent) error {
	if len(want) == len(got) {
		match := true
		for i := range want {
			if want[i] != got[i] {
				match = false
				break
			}
		}
		if match {
			return nil
		}
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    trace,
	}
}

func requestNames(d *testutil.Dispatcher) []string {
	kinds := d.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// callbackNames renders failed callbacks with a trailing "!".
func callbackNames(n *testutil.Notifier) []string {
	cbs := n.Callbacks()
	out := make([]string, len(cbs))
	for i, cb := range cbs {
		out[i] = cb.Name
		if !cb.OK() {
			out[i] += "!"
		}
	}
	return out
}

// transitionEvents returns the event kinds of handled transitions, in order.
func transitionEvents(trace []TraceEvent) []string {
	var out []string
	for _, ev := range trace {
		if ev.Type == TraceTransition {
			out = append(out, ev.Event)
		}
	}
	return out
}

// assertTraceOrder checks that the given events occur in this relative order
// among handled transitions. Other events may be interleaved.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	events := transitionEvents(trace)
	next := 0
	for _, ev := range events {
		if next < len(assertion.Values) && ev == assertion.Values[next] {
			next++
		}
	}
	if next == len(assertion.Values) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("%v in order", assertion.Values),
		Actual:   fmt.Sprintf("%v (missing %s)", events, assertion.Values[next]),
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range transitionEvents(trace) {
		if ev == assertion.Event {
			count++
		}
	}
	if count == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s handled %d time(s)", assertion.Event, assertion.Count),
		Actual:   fmt.Sprintf("handled %d time(s)", count),
		Trace:    trace,
	}
}

func assertFinalState(final FinalState, assertion Assertion) error {
	var mismatches []string
	for key, want := range assertion.Expect {
		var got any
		switch key {
		case "state":
			got = final.State
		case "pending":
			got = final.Pending
		case "update_token":
			got = final.UpdateToken
		case "registration_token":
			got = final.RegistrationToken
		default:
			return fmt.Errorf("final_state: unknown key %q", key)
		}
		if fmt.Sprint(want) != fmt.Sprint(got) {
			mismatches = append(mismatches, fmt.Sprintf("%s=%v (want %v)", key, got, want))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	sort.Strings(mismatches)
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%v", assertion.Expect),
		Actual:   strings.Join(mismatches, ", "),
	}
}

// EvaluateAssertions evaluates all assertions against the result and the
// recorded requests and callbacks. Returns one message per failure.
func EvaluateAssertions(result *Result, d *testutil.Dispatcher, n *testutil.Notifier, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRequests:
			err = assertSequence(AssertRequests, assertion.Values, requestNames(d), result.Trace)
		case AssertCallbacks:
			err = assertSequence(AssertCallbacks, assertion.Values, callbackNames(n), result.Trace)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.Final, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
