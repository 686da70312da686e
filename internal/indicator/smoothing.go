package indicator

import "tradedash/internal/model"

// smoother is an SMA-seeded single-pole filter: the first value is the
// mean of the first period inputs, then cur += alpha*(v-cur).
type smoother struct {
	period  int
	alpha   float64
	count   int
	sum     float64
	current float64
}

func (s *smoother) Add(v float64) {
	s.count++
	if s.count <= s.period {
		s.sum += v
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}
	s.current += s.alpha * (v - s.current)
}

func (s *smoother) Value() float64 { return s.current }
func (s *smoother) Ready() bool    { return s.count >= s.period }

// Peek returns the value with v appended. Before the seed it is the
// partial mean.
func (s *smoother) Peek(v float64) float64 {
	if s.count < s.period {
		return (s.sum + v) / float64(s.count+1)
	}
	return s.current + s.alpha*(v-s.current)
}

// Reset clears the state for reuse.
func (s *smoother) Reset() {
	s.count, s.sum, s.current = 0, 0, 0
}

// EMA is the exponential moving average, alpha = 2/(period+1).
type EMA struct{ smoother }

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{smoother{period: period, alpha: 2 / float64(period+1)}}
}

func (e *EMA) Name() string               { return "EMA" }
func (e *EMA) Update(candle model.Candle) { e.Add(candle.Close) }

// SMMA is the smoothed (running) moving average, also known as RMA or
// Wilder's average: alpha = 1/period.
type SMMA struct{ smoother }

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{smoother{period: period, alpha: 1 / float64(period)}}
}

func (s *SMMA) Name() string               { return "RMA" }
func (s *SMMA) Update(candle model.Candle) { s.Add(candle.Close) }
