// Package trace records the steps an exploration takes and the property
// violations it finds along the way.
package trace

import (
	"encoding/json"

	"github.com/DistCompiler/pgo/authdh"
)

// Event is one applied transition and the state it produced.
type Event struct {
	Step       int
	Transition authdh.Transition
	State      authdh.State
}

func (event Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"tag":         "event",
		"step":        event.Step,
		"kind":        event.Transition.Kind,
		"transition":  event.Transition.String(),
		"state":       event.State.String(),
		"fingerprint": event.State.Fingerprint(),
	})
}

// Finding is a violated property together with the trace reaching it.
// Findings are results; recording one never stops the exploration that
// produced it.
type Finding struct {
	Property string
	Message  string
	State    authdh.State
	Trace    []Event
}

func (finding Finding) MarshalJSON() ([]byte, error) {
	serializedTrace := []json.RawMessage{}
	for _, event := range finding.Trace {
		buf, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		serializedTrace = append(serializedTrace, buf)
	}
	return json.Marshal(map[string]interface{}{
		"tag":      "finding",
		"property": finding.Property,
		"message":  finding.Message,
		"state":    finding.State.String(),
		"trace":    serializedTrace,
	})
}

// Witness renders the trace as a list of transition labels.
func (finding Finding) Witness() []string {
	out := make([]string, 0, len(finding.Trace))
	for _, event := range finding.Trace {
		out = append(out, event.Transition.String())
	}
	return out
}
