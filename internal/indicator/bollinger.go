package indicator

import (
	"github.com/montanaflynn/stats"
)

// DefaultBBMult is the conventional band width in standard deviations.
const DefaultBBMult = 2.0

// Bollinger computes mean ± mult·σ over a sliding window of values.
// σ is the population standard deviation of the window.
type Bollinger struct {
	period int
	mult   float64
	window stats.Float64Data
}

// NewBollinger creates a band calculator. A non-positive mult falls back to 2.
func NewBollinger(period int, mult float64) *Bollinger {
	if mult <= 0 {
		mult = DefaultBBMult
	}
	return &Bollinger{
		period: period,
		mult:   mult,
		window: make(stats.Float64Data, 0, period),
	}
}

// Add pushes a value into the window, evicting the oldest when full.
func (b *Bollinger) Add(v float64) {
	if len(b.window) == b.period {
		copy(b.window, b.window[1:])
		b.window = b.window[:b.period-1]
	}
	b.window = append(b.window, v)
}

// Ready returns true once the window is full.
func (b *Bollinger) Ready() bool { return b.period > 0 && len(b.window) == b.period }

// Bands returns upper, middle and lower band. ok is false until Ready.
func (b *Bollinger) Bands() (upper, mid, lower float64, ok bool) {
	if !b.Ready() {
		return 0, 0, 0, false
	}
	mean, err := b.window.Mean()
	if err != nil {
		return 0, 0, 0, false
	}
	sd, err := b.window.StandardDeviationPopulation()
	if err != nil {
		return 0, 0, 0, false
	}
	return mean + b.mult*sd, mean, mean - b.mult*sd, true
}
