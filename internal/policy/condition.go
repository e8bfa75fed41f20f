package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Condition is a boolean predicate over flattened context attributes.
// Exactly one of All/Any/Not or a leaf comparison (Attr+Op) is set per
// node. Conditions are validated when a snapshot is built so evaluation
// is total: an unknown attribute simply compares against the empty string.
type Condition struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
	Not *Condition  `json:"not,omitempty"`

	Attr   string   `json:"attr,omitempty"`
	Op     string   `json:"op,omitempty"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Comparison operators for leaf conditions.
const (
	OpEqual    = "eq"
	OpNotEqual = "ne"
	OpIn       = "in"
	OpGreater  = "gt"
	OpLess     = "lt"
	OpContains = "contains"
)

// ParseCondition decodes and validates a stored predicate. A nil or empty
// raw condition means the rule matches unconditionally.
func ParseCondition(raw json.RawMessage) (*Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var cond Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return nil, fmt.Errorf("failed to parse condition: %w", err)
	}
	if err := cond.validate(); err != nil {
		return nil, err
	}
	return &cond, nil
}

func (c *Condition) validate() error {
	set := 0
	if len(c.All) > 0 {
		set++
		for i := range c.All {
			if err := c.All[i].validate(); err != nil {
				return err
			}
		}
	}
	if len(c.Any) > 0 {
		set++
		for i := range c.Any {
			if err := c.Any[i].validate(); err != nil {
				return err
			}
		}
	}
	if c.Not != nil {
		set++
		if err := c.Not.validate(); err != nil {
			return err
		}
	}
	if c.Attr != "" {
		set++
		switch c.Op {
		case OpEqual, OpNotEqual, OpGreater, OpLess, OpContains:
		case OpIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("condition on %q: op %q requires values", c.Attr, c.Op)
			}
		default:
			return fmt.Errorf("condition on %q: unknown op %q", c.Attr, c.Op)
		}
	}
	if set != 1 {
		return fmt.Errorf("condition must set exactly one of all/any/not or a comparison")
	}
	return nil
}

// Eval evaluates the predicate against flattened attributes. Validated
// conditions cannot fail at evaluation time.
func (c *Condition) Eval(attrs map[string]string) bool {
	switch {
	case len(c.All) > 0:
		for i := range c.All {
			if !c.All[i].Eval(attrs) {
				return false
			}
		}
		return true
	case len(c.Any) > 0:
		for i := range c.Any {
			if c.Any[i].Eval(attrs) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !c.Not.Eval(attrs)
	}

	actual := attrs[c.Attr]
	switch c.Op {
	case OpEqual:
		return actual == c.Value
	case OpNotEqual:
		return actual != c.Value
	case OpIn:
		for _, v := range c.Values {
			if actual == v {
				return true
			}
		}
		return false
	case OpGreater:
		return compareNumeric(actual, c.Value) > 0
	case OpLess:
		return compareNumeric(actual, c.Value) < 0
	case OpContains:
		return strings.Contains(actual, c.Value)
	}
	return false
}

// compareNumeric compares numerically when both sides parse, falling back
// to lexicographic comparison.
func compareNumeric(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa > fb:
			return 1
		case fa < fb:
			return -1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
