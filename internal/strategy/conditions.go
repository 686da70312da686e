package strategy

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a condition operator.
type Op string

const (
	OpEquals    Op = "equals"
	OpNotEquals Op = "notEquals"
)

// Condition compares the current value of another parameter against Value.
type Condition struct {
	Field string      `yaml:"field" json:"field"`
	Op    Op          `yaml:"op" json:"op"`
	Value interface{} `yaml:"value" json:"value"`
}

// Validate rejects unknown operators and empty fields.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition: empty field")
	}
	switch c.Op {
	case OpEquals, OpNotEquals:
		return nil
	}
	return fmt.Errorf("condition on %q: unknown operator %q", c.Field, c.Op)
}

// Eval reports whether the condition holds for values. A missing field
// compares as unequal to everything.
func (c Condition) Eval(values map[string]interface{}) bool {
	v, ok := values[c.Field]
	eq := ok && sameValue(v, c.Value)
	if c.Op == OpNotEquals {
		return !eq
	}
	return eq
}

// All reports whether every condition holds. An empty list holds.
func All(conds []Condition, values map[string]interface{}) bool {
	for _, c := range conds {
		if !c.Eval(values) {
			return false
		}
	}
	return true
}

// sameValue compares loosely: numbers by value whatever their Go type or
// string spelling, everything else by its string form.
func sameValue(a, b interface{}) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
