package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pushreg/internal/canonical"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Final        FinalState
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Empty fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":  ev.Seq,
			"type": ev.Type,
		}
		optional := map[string]string{
			"event":    ev.Event,
			"from":     ev.From,
			"to":       ev.To,
			"state":    ev.State,
			"request":  ev.Request,
			"device":   ev.Device,
			"callback": ev.Callback,
			"error":    ev.Error,
		}
		for k, v := range optional {
			if v != "" {
				m[k] = v
			}
		}
		if ev.FromQueue {
			m["from_queue"] = true
		}
		traceList[i] = m
	}

	final := map[string]any{
		"state":   s.Final.State,
		"pending": s.Final.Pending,
	}
	if s.Final.UpdateToken != "" {
		final["update_token"] = s.Final.UpdateToken
	}
	if s.Final.RegistrationToken != "" {
		final["registration_token"] = s.Final.RegistrationToken
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"final":         final,
	}
}

// MarshalSnapshot renders a result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Final:        result.Final,
	}
	return canonical.Marshal(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
