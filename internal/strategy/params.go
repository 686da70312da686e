package strategy

import (
	"fmt"
	"sort"
)

func intParam(params map[string]interface{}, name string, def int) int {
	if f, ok := toFloat(params[name]); ok {
		return int(f)
	}
	return def
}

func floatParam(params map[string]interface{}, name string, def float64) float64 {
	if f, ok := toFloat(params[name]); ok {
		return f
	}
	return def
}

func stringParam(params map[string]interface{}, name, def string) string {
	if v, ok := params[name]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return def
}

func sortedKeys(m map[string][]*float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// record appends the indicator's value, or nil while it warms up.
func record(line []*float64, ready bool, v float64) []*float64 {
	if !ready {
		return append(line, nil)
	}
	return append(line, &v)
}
