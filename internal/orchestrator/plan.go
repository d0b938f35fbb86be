// ABOUTME: Planner output types and parsing for tool plans.
// ABOUTME: Accepts raw JSON or a fenced json block and caps the number of steps.

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxSteps is the most tool calls one plan may make.
const DefaultMaxSteps = 5

// ErrEmptyPlan is returned when planner output contains no JSON object.
var ErrEmptyPlan = errors.New("empty plan")

// Step is one planned tool call. Args may contain {"var": "path"} placeholders.
type Step struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// StopWhen lists memory paths that must all be present to stop early.
type StopWhen struct {
	Have []string `json:"have,omitempty"`
}

// Plan is a planner's answer: steps in order plus a stop condition.
type Plan struct {
	Steps    []Step   `json:"steps"`
	StopWhen StopWhen `json:"stopWhen"`
}

// ParsePlan decodes planner output. Surrounding prose and a ```json fence are
// tolerated; steps without a tool name are dropped.
func ParsePlan(data []byte) (*Plan, error) {
	raw := extractJSON(string(data))
	if raw == "" {
		return nil, ErrEmptyPlan
	}

	var p Plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}

	steps := p.Steps[:0]
	for _, s := range p.Steps {
		s.Tool = strings.TrimSpace(s.Tool)
		if s.Tool == "" {
			continue
		}
		if s.Args == nil {
			s.Args = map[string]any{}
		}
		steps = append(steps, s)
	}
	p.Steps = steps
	return &p, nil
}

// CapSteps returns at most max steps. A non-positive max means DefaultMaxSteps.
func CapSteps(steps []Step, max int) []Step {
	if max <= 0 {
		max = DefaultMaxSteps
	}
	if len(steps) <= max {
		return steps
	}
	return steps[:max]
}

// extractJSON returns the outermost {...} of s, preferring a fenced block.
func extractJSON(s string) string {
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
