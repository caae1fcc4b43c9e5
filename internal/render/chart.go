package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// errNotObject reports valid JSON whose top-level value is not an object.
var errNotObject = errors.New("top-level value is not an object")

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// ChartSpecError reports a chart spec that is not valid JSON after repair.
type ChartSpecError struct {
	Raw string
	Err error
}

func (e *ChartSpecError) Error() string {
	return fmt.Sprintf("render: invalid chart spec: %v", e.Err)
}

func (e *ChartSpecError) Unwrap() error {
	return e.Err
}

// RepairChartSpec removes trailing commas before a closing brace or bracket.
func RepairChartSpec(raw string) string {
	return trailingCommaPattern.ReplaceAllString(raw, "$1")
}

// ParseChartSpec repairs raw and returns it as compact JSON. The top-level
// value must be an object.
func ParseChartSpec(raw string) (json.RawMessage, error) {
	repaired := []byte(RepairChartSpec(raw))
	var spec any
	if err := json.Unmarshal(repaired, &spec); err != nil {
		return nil, &ChartSpecError{Raw: raw, Err: err}
	}
	if _, ok := spec.(map[string]any); !ok {
		return nil, &ChartSpecError{Raw: raw, Err: errNotObject}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, repaired); err != nil {
		return nil, &ChartSpecError{Raw: raw, Err: err}
	}
	return json.RawMessage(buf.Bytes()), nil
}
