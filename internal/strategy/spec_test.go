package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_Defaults(t *testing.T) {
	c := Builtin()
	assert.Equal(t, []string{"bollinger_bands", "moving_average_crossover", "rsi_strategy"}, c.Names())

	ma, err := c.Get("moving_average_crossover")
	require.NoError(t, err)
	d := ma.Defaults()
	assert.Equal(t, 20, d["short_window"])
	assert.Equal(t, 50, d["long_window"])

	rsi, _ := c.Get("rsi_strategy")
	p, err := rsi.BuildParams(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"rsi_period": 14, "overbought": 70.0, "oversold": 30.0, "exit_mode": "overbought",
	}, p)

	bb, _ := c.Get("bollinger_bands")
	p, err = bb.BuildParams(nil)
	require.NoError(t, err)
	assert.Equal(t, 20, p["window"])
	assert.Equal(t, 2.0, p["num_std"])

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestCondition_Eval(t *testing.T) {
	vals := map[string]interface{}{"ma_type": "EMA", "n": 20}
	assert.True(t, Condition{Field: "ma_type", Op: OpEquals, Value: "EMA"}.Eval(vals))
	assert.False(t, Condition{Field: "ma_type", Op: OpNotEquals, Value: "EMA"}.Eval(vals))
	assert.True(t, Condition{Field: "n", Op: OpEquals, Value: "20"}.Eval(vals), "numbers compare by value")
	assert.True(t, Condition{Field: "n", Op: OpEquals, Value: 20.0}.Eval(vals))
	assert.False(t, Condition{Field: "missing", Op: OpEquals, Value: ""}.Eval(vals))
	assert.True(t, Condition{Field: "missing", Op: OpNotEquals, Value: "x"}.Eval(vals))
	assert.True(t, All(nil, vals))
}

func TestVisible_FollowsConditions(t *testing.T) {
	ma, _ := Builtin().Get("moving_average_crossover")

	names := func(ps []ParamSpec) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}
	assert.Equal(t, []string{"short_window", "long_window", "ma_type"}, names(ma.Visible(nil)))
	assert.Equal(t, []string{"short_window", "long_window", "ma_type", "ema_smoothing"},
		names(ma.Visible(map[string]interface{}{"ma_type": "EMA"})))
	assert.Equal(t, []string{"short_window", "long_window", "ma_type", "ema_smoothing", "smoothing_length"},
		names(ma.Visible(map[string]interface{}{"ma_type": "EMA", "ema_smoothing": "WMA"})))
}

func TestBuildParams_CoercesAndDropsHidden(t *testing.T) {
	rsi, _ := Builtin().Get("rsi_strategy")

	p, err := rsi.BuildParams(map[string]interface{}{
		"rsi_period": "21", "oversold": 25, "exit_level": 55, "bogus": true,
	})
	require.NoError(t, err)
	assert.Equal(t, 21, p["rsi_period"])
	assert.Equal(t, 25.0, p["oversold"])
	assert.NotContains(t, p, "exit_level")
	assert.NotContains(t, p, "bogus")

	p, err = rsi.BuildParams(map[string]interface{}{"exit_mode": "level", "exit_level": 55})
	require.NoError(t, err)
	assert.Equal(t, 55.0, p["exit_level"])

	_, err = rsi.BuildParams(map[string]interface{}{"rsi_period": 2.5})
	assert.Error(t, err)
	_, err = rsi.BuildParams(map[string]interface{}{"overbought": 120})
	assert.Error(t, err)
	_, err = rsi.BuildParams(map[string]interface{}{"exit_mode": "sometimes"})
	assert.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse([]byte(`
strategies:
  - name: x
    params:
      - {name: a, type: int, default: 1}
      - name: b
        type: int
        default: 2
        visible_if: [{field: a, op: greaterThan, value: 1}]
`))
	assert.ErrorContains(t, err, "unknown operator")

	_, err = Parse([]byte(`
strategies:
  - name: x
    params:
      - name: b
        type: int
        default: 2
        visible_if: [{field: ghost, op: equals, value: 1}]
`))
	assert.ErrorContains(t, err, "unknown field")

	_, err = Parse([]byte(`
strategies:
  - name: x
    params:
      - {name: s, type: select, default: c, options: [a, b]}
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
strategies:
  - {name: x, params: []}
  - {name: x, params: []}
`))
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadFile_EmptyPathIsBuiltin(t *testing.T) {
	c, err := LoadFile("")
	require.NoError(t, err)
	assert.Len(t, c.List(), 3)

	_, err = LoadFile("/nonexistent/strategies.yaml")
	assert.Error(t, err)
}
