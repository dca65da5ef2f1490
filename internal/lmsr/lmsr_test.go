package lmsr

import (
	"math"
	"testing"
)

func TestPriceUpBoundsAndSymmetry(t *testing.T) {
	cases := [][3]float64{
		{0, 0, 180},
		{2000, 0, 180},
		{-500, 300, 50},
		{12.5, 12.5, 1},
		{900, -900, 1000},
	}
	for _, c := range cases {
		p := PriceUp(c[0], c[1], c[2])
		if p <= 0 || p >= 1 {
			t.Fatalf("price out of (0,1) for %v: %f", c, p)
		}
		if sum := p + PriceUp(c[1], c[0], c[2]); math.Abs(sum-1) > 1e-12 {
			t.Fatalf("expected symmetric prices to sum to 1 for %v, got %f", c, sum)
		}
	}
}

func TestPriceUpMonotonic(t *testing.T) {
	if PriceUp(10, 0, 100) <= PriceUp(5, 0, 100) {
		t.Fatalf("expected price to increase with qUp")
	}
	if PriceUp(0, 10, 100) >= PriceUp(0, 5, 100) {
		t.Fatalf("expected price to decrease with qDown")
	}
}

func TestCostMatchesClosedForm(t *testing.T) {
	b := 180.0
	got := TradeCost(State{B: b}, Up, 2000).Cost
	want := b*math.Log(math.Exp(2000/b)+1) - b*math.Log(2)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected cost %.12f, got %.12f", want, got)
	}
	if p := PriceUp(2000, 0, b); p <= 0.99 {
		t.Fatalf("expected price above 0.99, got %f", p)
	}
}

func TestCostLargeIssuanceFinite(t *testing.T) {
	c := Cost(500000, 0, 180)
	if math.IsInf(c, 0) || math.IsNaN(c) {
		t.Fatalf("expected finite cost, got %f", c)
	}
	if math.Abs(c-500000) > 1e-6 {
		t.Fatalf("expected cost close to max issuance, got %f", c)
	}
}

func TestTradeCostSigns(t *testing.T) {
	s := State{QUp: 40, QDown: 10, B: 180}
	for _, side := range []Side{Up, Down} {
		buy := TradeCost(s, side, 25)
		if buy.Cost < 0 {
			t.Fatalf("expected non-negative buy cost on %s, got %f", side, buy.Cost)
		}
		if buy.Refund() != 0 {
			t.Fatalf("expected zero refund for a buy")
		}
		sell := TradeCost(s, side, -5)
		if sell.Cost > 0 {
			t.Fatalf("expected non-positive sell cost on %s, got %f", side, sell.Cost)
		}
		if sell.Refund() < 0 || math.Abs(sell.Refund()+sell.Cost) > 1e-12 {
			t.Fatalf("expected refund %f to equal -cost %f", sell.Refund(), -sell.Cost)
		}
	}
}

func TestTradeCostOnlyMovesChosenSide(t *testing.T) {
	s := State{QUp: 1, QDown: 2, B: 100}
	up := TradeCost(s, Up, 3)
	if up.QUp != 4 || up.QDown != 2 {
		t.Fatalf("unexpected up trade state: %+v", up)
	}
	down := TradeCost(s, Down, 3)
	if down.QUp != 1 || down.QDown != 5 {
		t.Fatalf("unexpected down trade state: %+v", down)
	}
}

func TestRoundTripIsFree(t *testing.T) {
	s := State{QUp: 120, QDown: -30, B: 180}
	buy := TradeCost(s, Down, 77)
	after := buy.State(s.B)
	sell := TradeCost(after, Down, -77)
	if math.Abs(sell.QUp-s.QUp) > 1e-9 || math.Abs(sell.QDown-s.QDown) > 1e-9 {
		t.Fatalf("expected quantities restored, got %+v", sell)
	}
	if math.Abs(sell.Refund()-buy.Cost) > 1e-9 {
		t.Fatalf("expected refund %f to equal cost %f", sell.Refund(), buy.Cost)
	}
}

func TestTargetInverse(t *testing.T) {
	b := 180.0
	for _, p := range []float64{0.01, 0.25, 0.5, 0.9, 0.999} {
		qUp := QUpForTarget(37, b, p)
		if got := PriceUp(qUp, 37, b); math.Abs(got-p) > 1e-9 {
			t.Fatalf("QUpForTarget(%f): expected price %f, got %f", p, p, got)
		}
		qDown := QDownForTarget(-12, b, p)
		if got := PriceUp(-12, qDown, b); math.Abs(got-p) > 1e-9 {
			t.Fatalf("QDownForTarget(%f): expected price %f, got %f", p, p, got)
		}
	}
}

func TestTargetInverseClampsExtremes(t *testing.T) {
	qUp := QUpForTarget(0, 180, 0)
	if math.IsInf(qUp, 0) {
		t.Fatalf("expected finite qUp for zero target")
	}
	if got := PriceUp(qUp, 0, 180); math.Abs(got-Epsilon) > 1e-12 {
		t.Fatalf("expected clamped price %g, got %g", Epsilon, got)
	}
}

func TestNormalizeAndImpliedValue(t *testing.T) {
	if got := Normalize(8000, 0, 10000); math.Abs(got-0.8) > 1e-12 {
		t.Fatalf("expected 0.8, got %f", got)
	}
	if got := Normalize(-5, 0, 10); got != Epsilon {
		t.Fatalf("expected clamp to epsilon, got %g", got)
	}
	if got := Normalize(50, 0, 10); got != 1-Epsilon {
		t.Fatalf("expected clamp to 1-epsilon, got %g", got)
	}
	if got := ImpliedValue(0.25, 100, 500); got != 200 {
		t.Fatalf("expected 200, got %f", got)
	}
}

func TestSizeByBudgetWithinBudget(t *testing.T) {
	s := State{QUp: 10, QDown: 40, B: 180}
	for _, budget := range []float64{0.5, 1, 25, 250, 999} {
		shares := SizeByBudget(s, Up, budget)
		if shares <= 0 {
			t.Fatalf("expected positive shares for budget %f", budget)
		}
		cost := TradeCost(s, Up, shares).Cost
		if cost > budget {
			t.Fatalf("cost %f exceeds budget %f", cost, budget)
		}
		if budget-cost > 1e-6 {
			t.Fatalf("expected cost %f to converge to budget %f", cost, budget)
		}
	}
}

func TestSizeByBudgetMonotonic(t *testing.T) {
	s := State{B: 180}
	prev := 0.0
	for _, budget := range []float64{1, 2, 5, 10, 50, 100, 500} {
		shares := SizeByBudget(s, Down, budget)
		if shares < prev {
			t.Fatalf("shares decreased from %f to %f at budget %f", prev, shares, budget)
		}
		prev = shares
	}
}

func TestSizeByBudgetNonPositive(t *testing.T) {
	if got := SizeByBudget(State{B: 180}, Up, 0); got != 0 {
		t.Fatalf("expected 0 shares, got %f", got)
	}
	if got := SizeByBudget(State{B: 180}, Up, -10); got != 0 {
		t.Fatalf("expected 0 shares, got %f", got)
	}
}

func TestSizeByBudgetHardCap(t *testing.T) {
	if got := SizeByBudget(State{B: 1}, Up, 1e12); got != maxSizeShares {
		t.Fatalf("expected cap %f, got %f", maxSizeShares, got)
	}
}
