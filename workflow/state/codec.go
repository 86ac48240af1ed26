package state

import (
	"encoding/json"
	"regexp"
	"time"
)

// isoDatePattern matches the RFC 3339 timestamps produced by encoding/json
// for time.Time values.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`)

// encodeState serializes w for storage.
func encodeState(w *WorkflowState) ([]byte, error) {
	return json.MarshalIndent(w, "", "  ")
}

// decodeState parses a stored state and promotes ISO-8601 strings found in
// free-form values back to time.Time.
func decodeState(data []byte) (*WorkflowState, error) {
	var w WorkflowState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	promoteState(&w)
	return &w, nil
}

func promoteState(w *WorkflowState) {
	w.Context = promoteMap(w.Context)
	w.Metadata.Extra = promoteMap(w.Metadata.Extra)
	for i := range w.Steps {
		w.Steps[i].Input = promoteDates(w.Steps[i].Input)
		w.Steps[i].Output = promoteDates(w.Steps[i].Output)
		w.Steps[i].Metadata = promoteMap(w.Steps[i].Metadata)
	}
}

func promoteMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = promoteDates(v)
	}
	return m
}

// promoteDates walks decoded JSON and replaces date-shaped strings with time.Time.
func promoteDates(v any) any {
	switch t := v.(type) {
	case string:
		if isoDatePattern.MatchString(t) {
			if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return ts
			}
		}
		return t
	case map[string]any:
		return promoteMap(t)
	case []any:
		for i, e := range t {
			t[i] = promoteDates(e)
		}
		return t
	default:
		return v
	}
}
