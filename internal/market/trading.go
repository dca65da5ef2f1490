package market

import (
	"math"

	"cfm-engine/internal/lmsr"

	"go.uber.org/zap"
)

const (
	ActionBuy    = "buy"
	ActionSell   = "sell"
	ActionTarget = "target"
)

// targetTolerance is the probability distance treated as already at target.
const targetTolerance = 1e-6

// Order identifies one side of one scenario market for an account.
type Order struct {
	Account  string
	Project  string
	Scenario Scenario
	Side     Side
}

func (o Order) opError(op, market string, amount float64, err error) *OpError {
	return &OpError{
		Op:       op,
		Market:   market,
		Account:  o.Account,
		Project:  o.Project,
		Scenario: o.Scenario.String(),
		Side:     o.Side.String(),
		Amount:   amount,
		Err:      err,
	}
}

// checkOrder runs the shared pre-trade checks in order: amount, lookups,
// freeze, phase. Funds are checked by the caller.
func (m *Market) checkOrder(op string, o Order, amount float64) (*Account, ProjectID, error) {
	if !validAmount(amount) {
		return nil, 0, o.opError(op, m.id, amount, ErrInvalidAmount)
	}
	acct, ok := m.account(o.Account)
	if !ok {
		return nil, 0, o.opError(op, m.id, amount, ErrUnknownAccount)
	}
	pid, ok := m.project(o.Project)
	if !ok {
		return nil, 0, o.opError(op, m.id, amount, ErrUnknownProject)
	}
	if m.frozen(pid, o.Scenario) {
		return nil, 0, o.opError(op, m.id, amount, ErrMarketFrozen)
	}
	if !m.phase.Tradable() {
		return nil, 0, o.opError(op, m.id, amount, ErrTradingClosed)
	}
	return acct, pid, nil
}

func (m *Market) Buy(o Order, shares float64) (Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, pid, err := m.checkOrder("buy", o, shares)
	if err != nil {
		return Fill{}, err
	}
	return m.buyLocked(ActionBuy, o, acct, pid, shares)
}

func (m *Market) buyLocked(action string, o Order, acct *Account, pid ProjectID, shares float64) (Fill, error) {
	state := &m.projects[pid].Markets[o.Scenario]
	trade := lmsr.TradeCost(*state, o.Side, shares)
	if trade.Cost > acct.Balance {
		return Fill{}, o.opError(action, m.id, shares, ErrInsufficientBalance)
	}
	before := state.Price(o.Side)
	*state = trade.State(state.B)
	acct.Balance -= trade.Cost
	acct.Holdings[pid][o.Scenario][o.Side] += shares
	return m.filledLocked(action, o, acct, shares, trade.Cost, before, state.Price(o.Side)), nil
}

func (m *Market) Sell(o Order, shares float64) (Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, pid, err := m.checkOrder("sell", o, shares)
	if err != nil {
		return Fill{}, err
	}
	held := &acct.Holdings[pid][o.Scenario][o.Side]
	if *held < shares {
		return Fill{}, o.opError("sell", m.id, shares, ErrInsufficientShares)
	}
	state := &m.projects[pid].Markets[o.Scenario]
	trade := lmsr.TradeCost(*state, o.Side, -shares)
	before := state.Price(o.Side)
	*state = trade.State(state.B)
	acct.Balance += trade.Refund()
	*held -= shares
	return m.filledLocked(ActionSell, o, acct, shares, trade.Cost, before, state.Price(o.Side)), nil
}

// BuyWithBudget spends up to budget, capped at the account balance, on the
// largest share count it can afford.
func (m *Market) BuyWithBudget(o Order, budget float64) (Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, pid, err := m.checkOrder("buy_budget", o, budget)
	if err != nil {
		return Fill{}, err
	}
	budget = math.Min(budget, acct.Balance)
	shares := lmsr.SizeByBudget(m.projects[pid].Markets[o.Scenario], o.Side, budget)
	if shares <= 0 {
		return Fill{}, o.opError("buy_budget", m.id, budget, ErrInsufficientBalance)
	}
	return m.buyLocked(ActionBuy, o, acct, pid, shares)
}

// MoveToTargetValue buys exactly the shares that move the scenario price to
// the probability implied by target. The side is chosen from the direction of
// the move; o.Side is ignored. A move that is already satisfied returns an
// empty fill.
func (m *Market) MoveToTargetValue(o Order, target float64) (Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return Fill{}, o.opError("target", m.id, target, ErrInvalidAmount)
	}
	acct, ok := m.account(o.Account)
	if !ok {
		return Fill{}, o.opError("target", m.id, target, ErrUnknownAccount)
	}
	pid, ok := m.project(o.Project)
	if !ok {
		return Fill{}, o.opError("target", m.id, target, ErrUnknownProject)
	}
	if m.frozen(pid, o.Scenario) {
		return Fill{}, o.opError("target", m.id, target, ErrMarketFrozen)
	}
	if !m.phase.Tradable() {
		return Fill{}, o.opError("target", m.id, target, ErrTradingClosed)
	}
	p := &m.projects[pid]
	state := p.Markets[o.Scenario]
	want := lmsr.Normalize(target, p.RangeMin, p.RangeMax)
	current := state.PriceUp()
	if math.Abs(want-current) < targetTolerance {
		return Fill{}, nil
	}
	var delta float64
	if want > current {
		o.Side = Up
		delta = lmsr.QUpForTarget(state.QDown, state.B, want) - state.QUp
	} else {
		o.Side = Down
		delta = lmsr.QDownForTarget(state.QUp, state.B, want) - state.QDown
	}
	if delta <= 0 {
		return Fill{}, nil
	}
	return m.buyLocked(ActionTarget, o, acct, pid, delta)
}

// Quote previews a budget buy without touching any state.
type Quote struct {
	Shares     float64 `json:"shares"`
	Cost       float64 `json:"cost"`
	AvgPrice   float64 `json:"avg_price"`
	PriceAfter float64 `json:"price_after"`
	Payout     float64 `json:"payout"`
	Profit     float64 `json:"profit"`
	ReturnPct  float64 `json:"return_pct"`
}

// Quote sizes a buy for budget and values it as if the scenario resolved at
// previewValue.
func (m *Market) Quote(projectKey string, sc Scenario, side Side, budget, previewValue float64) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := Order{Project: projectKey, Scenario: sc, Side: side}
	if !validAmount(budget) {
		return Quote{}, o.opError("quote", m.id, budget, ErrInvalidAmount)
	}
	pid, ok := m.project(projectKey)
	if !ok {
		return Quote{}, o.opError("quote", m.id, budget, ErrUnknownProject)
	}
	p := &m.projects[pid]
	state := p.Markets[sc]
	shares := lmsr.SizeByBudget(state, side, budget)
	if shares <= 0 {
		return Quote{}, nil
	}
	trade := lmsr.TradeCost(state, side, shares)
	v := lmsr.Normalize(previewValue, p.RangeMin, p.RangeMax)
	if side == Down {
		v = 1 - v
	}
	q := Quote{
		Shares:     shares,
		Cost:       trade.Cost,
		AvgPrice:   trade.Cost / shares,
		PriceAfter: trade.State(state.B).Price(side),
		Payout:     v * shares,
	}
	q.Profit = q.Payout - q.Cost
	if q.Cost > 0 {
		q.ReturnPct = q.Profit / q.Cost * 100
	}
	return q, nil
}

func (m *Market) filledLocked(action string, o Order, acct *Account, shares, cost, before, after float64) Fill {
	fill := Fill{
		ID:          m.newID(),
		Market:      m.id,
		Account:     acct.ID,
		Project:     o.Project,
		Scenario:    o.Scenario.String(),
		Side:        o.Side.String(),
		Action:      action,
		Shares:      shares,
		Cost:        cost,
		PriceBefore: before,
		PriceAfter:  after,
		Balance:     acct.Balance,
		Time:        m.now(),
	}
	m.log.Info("fill",
		zap.String("account", fill.Account),
		zap.String("action", action),
		zap.String("project", fill.Project),
		zap.String("scenario", fill.Scenario),
		zap.String("side", fill.Side),
		zap.Float64("shares", shares),
		zap.Float64("cost", cost),
	)
	for _, obs := range m.observers {
		obs.Filled(fill)
	}
	if m.recordOnTrade {
		m.appendSnapshotLocked(m.snapshotLocked(fill.Time))
	}
	return fill
}
