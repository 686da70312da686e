package model

// Point is one sample of an indicator series. A nil Value means the indicator
// is not computable at that time (insufficient history).
type Point struct {
	Time  int64    `json:"time"`
	Value *float64 `json:"value"`
}

// IndicatorSeries is a named, time-ordered indicator output aligned to candles.
type IndicatorSeries struct {
	Name   string  `json:"name"`
	Color  string  `json:"color,omitempty"`
	Points []Point `json:"points"`
}

// Defined returns only the points that carry a value.
func (s *IndicatorSeries) Defined() []Point {
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Value != nil {
			out = append(out, p)
		}
	}
	return out
}

// Ready reports whether at least one point has a value.
func (s *IndicatorSeries) Ready() bool {
	for _, p := range s.Points {
		if p.Value != nil {
			return true
		}
	}
	return false
}

// Float returns a pointer to v, used to fill Point.Value.
func Float(v float64) *float64 {
	return &v
}
