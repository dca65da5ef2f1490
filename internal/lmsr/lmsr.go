// Package lmsr implements the binary Logarithmic Market Scoring Rule used to
// price the UP/DOWN outcome of every scenario market.
//
// All functions are pure. Probabilities that are inverted (target pricing,
// outcome normalisation) are clamped to [Epsilon, 1-Epsilon] so the forward
// and inverse paths agree near 0 and 1.
package lmsr

import "math"

const (
	// Epsilon bounds probabilities away from 0 and 1 before inversion.
	Epsilon = 1e-6

	bisectIterations = 60
	maxSizeShares    = 1e6
)

type Side uint8

const (
	Up Side = iota
	Down
)

func (s Side) String() string {
	if s == Down {
		return "DOWN"
	}
	return "UP"
}

// State is the share issuance of one binary market. B is fixed at creation.
type State struct {
	QUp   float64 `json:"q_up"`
	QDown float64 `json:"q_down"`
	B     float64 `json:"b"`
}

func (s State) Cost() float64 {
	return Cost(s.QUp, s.QDown, s.B)
}

func (s State) PriceUp() float64 {
	return PriceUp(s.QUp, s.QDown, s.B)
}

// Price returns the instantaneous price of the given side.
func (s State) Price(side Side) float64 {
	p := s.PriceUp()
	if side == Down {
		return 1 - p
	}
	return p
}

// Cost is b*ln(exp(qUp/b) + exp(qDown/b)), evaluated with the log-sum-exp
// shift so large issuance does not overflow.
func Cost(qUp, qDown, b float64) float64 {
	m := math.Max(qUp, qDown)
	return m + b*math.Log(math.Exp((qUp-m)/b)+math.Exp((qDown-m)/b))
}

func PriceUp(qUp, qDown, b float64) float64 {
	m := math.Max(qUp, qDown)
	eUp := math.Exp((qUp - m) / b)
	eDown := math.Exp((qDown - m) / b)
	return eUp / (eUp + eDown)
}

func Clamp(p float64) float64 {
	if math.IsNaN(p) {
		return 0.5
	}
	return math.Max(Epsilon, math.Min(1-Epsilon, p))
}

func ImpliedValue(p, min, max float64) float64 {
	return min + p*(max-min)
}

// Normalize maps an absolute value onto the clamped probability scale of the
// range [min, max].
func Normalize(value, min, max float64) float64 {
	return Clamp((value - min) / (max - min))
}

// QUpForTarget returns the qUp that prices UP at p for a fixed qDown.
func QUpForTarget(qDown, b, p float64) float64 {
	return qDown - b*math.Log(1/Clamp(p)-1)
}

// QDownForTarget returns the qDown that prices UP at p for a fixed qUp.
func QDownForTarget(qUp, b, p float64) float64 {
	return qUp + b*math.Log(1/Clamp(p)-1)
}

// Trade is the outcome of applying delta shares to one side. Cost is
// PostCost-PreCost: non-negative for buys, non-positive for sells.
type Trade struct {
	Cost     float64
	QUp      float64
	QDown    float64
	PreCost  float64
	PostCost float64
}

// Refund is what a seller receives; zero for buys.
func (t Trade) Refund() float64 {
	if t.Cost >= 0 {
		return 0
	}
	return t.PreCost - t.PostCost
}

func (t Trade) State(b float64) State {
	return State{QUp: t.QUp, QDown: t.QDown, B: b}
}

func TradeCost(s State, side Side, delta float64) Trade {
	qUp, qDown := s.QUp, s.QDown
	if side == Down {
		qDown += delta
	} else {
		qUp += delta
	}
	pre := Cost(s.QUp, s.QDown, s.B)
	post := Cost(qUp, qDown, s.B)
	return Trade{
		Cost:     post - pre,
		QUp:      qUp,
		QDown:    qDown,
		PreCost:  pre,
		PostCost: post,
	}
}

// SizeByBudget returns the largest share count whose buy cost does not exceed
// budget. The cost is strictly increasing in shares, so the upper bound is
// doubled until it overshoots and then bisected.
func SizeByBudget(s State, side Side, budget float64) float64 {
	if budget <= 0 || math.IsNaN(budget) {
		return 0
	}
	hi := 1.0
	for TradeCost(s, side, hi).Cost <= budget {
		if hi >= maxSizeShares {
			return maxSizeShares
		}
		hi *= 2
	}
	lo := 0.0
	for i := 0; i < bisectIterations; i++ {
		mid := (lo + hi) / 2
		if TradeCost(s, side, mid).Cost <= budget {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
