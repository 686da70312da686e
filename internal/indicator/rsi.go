package indicator

import "tradedash/internal/model"

// RSI is the Relative Strength Index. Average gain and loss are Wilder
// averages, which is exactly the SMA-seeded smoother with alpha 1/period.
type RSI struct {
	period  int
	prev    float64
	started bool
	gains   smoother
	losses  smoother
	current float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	alpha := 1 / float64(period)
	return &RSI{
		period: period,
		gains:  smoother{period: period, alpha: alpha},
		losses: smoother{period: period, alpha: alpha},
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(candle model.Candle) { r.Add(candle.Close) }

func (r *RSI) Add(price float64) {
	if !r.started {
		r.prev, r.started = price, true
		return
	}
	gain, loss := split(price - r.prev)
	r.prev = price
	r.gains.Add(gain)
	r.losses.Add(loss)
	if r.gains.Ready() {
		r.current = rsiValue(r.gains.Value(), r.losses.Value())
	}
}

func (r *RSI) Value() float64 { return r.current }

// Ready needs period deltas, i.e. period+1 prices.
func (r *RSI) Ready() bool { return r.gains.Ready() }

// Peek returns the RSI with price appended. It stays at the current value
// until price would complete the first period deltas.
func (r *RSI) Peek(price float64) float64 {
	if !r.started || r.gains.count+1 < r.period {
		return r.current
	}
	gain, loss := split(price - r.prev)
	return rsiValue(r.gains.Peek(gain), r.losses.Peek(loss))
}

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.gains.Reset()
	r.losses.Reset()
	r.prev, r.started, r.current = 0, false, 0
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
