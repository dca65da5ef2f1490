package market

import (
	"math/rand/v2"

	"cfm-engine/internal/lmsr"

	"go.uber.org/zap"
)

type SimulateOptions struct {
	Count          int
	BuyProbability float64
	MaxShares      int
	Rand           *rand.Rand
}

func (o *SimulateOptions) applyDefaults() {
	if o.BuyProbability <= 0 || o.BuyProbability > 1 {
		o.BuyProbability = 0.7
	}
	if o.MaxShares <= 0 {
		o.MaxShares = 50
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

type SimulateResult struct {
	Requested int    `json:"requested"`
	Executed  int    `json:"executed"`
	Skipped   int    `json:"skipped"`
	Fills     []Fill `json:"fills"`
}

// Simulate runs random trades from the non-admin accounts. Trades are worked
// out on a copy of the market and committed together once the run is done.
func (m *Market) Simulate(opts SimulateOptions) (SimulateResult, error) {
	opts.applyDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.Count <= 0 {
		return SimulateResult{}, &OpError{Op: "simulate", Market: m.id, Amount: float64(opts.Count), Err: ErrInvalidAmount}
	}
	if !m.phase.Tradable() {
		return SimulateResult{}, &OpError{Op: "simulate", Market: m.id, Err: ErrTradingClosed}
	}

	markets := make([][2]lmsr.State, len(m.projects))
	for i := range m.projects {
		markets[i] = m.projects[i].Markets
	}
	traders := make([]*Account, 0, len(m.accounts))
	slots := make([]int, 0, len(m.accounts))
	for i, a := range m.accounts {
		if a.Admin {
			continue
		}
		traders = append(traders, a.clone())
		slots = append(slots, i)
	}

	res := SimulateResult{Requested: opts.Count}
	if len(traders) == 0 {
		res.Skipped = opts.Count
		return res, nil
	}
	r := opts.Rand
	now := m.now()
	for n := 0; n < opts.Count; n++ {
		acct := traders[r.IntN(len(traders))]
		pid := r.IntN(len(m.projects))
		sc := scenarios[r.IntN(len(scenarios))]
		side := sides[r.IntN(len(sides))]
		if m.frozen(ProjectID(pid), sc) {
			res.Skipped++
			continue
		}
		state := &markets[pid][sc]
		fill := Fill{
			Market:   m.id,
			Account:  acct.ID,
			Project:  m.projects[pid].Key,
			Scenario: sc.String(),
			Side:     side.String(),
			Time:     now,
		}
		held := &acct.Holdings[pid][sc][side]
		var trade lmsr.Trade
		if r.Float64() < opts.BuyProbability {
			shares := float64(1 + r.IntN(opts.MaxShares))
			trade = lmsr.TradeCost(*state, side, shares)
			if trade.Cost > acct.Balance {
				shares *= acct.Balance / trade.Cost
				trade = lmsr.TradeCost(*state, side, shares)
			}
			if shares <= 0 || trade.Cost > acct.Balance {
				res.Skipped++
				continue
			}
			acct.Balance -= trade.Cost
			*held += shares
			fill.Action, fill.Shares = ActionBuy, shares
		} else {
			shares := float64(1 + r.IntN(opts.MaxShares))
			if shares > *held {
				shares = *held
			}
			if shares <= 0 {
				res.Skipped++
				continue
			}
			trade = lmsr.TradeCost(*state, side, -shares)
			acct.Balance += trade.Refund()
			*held -= shares
			fill.Action, fill.Shares = ActionSell, shares
		}
		fill.PriceBefore = state.Price(side)
		*state = trade.State(state.B)
		fill.PriceAfter = state.Price(side)
		fill.Cost = trade.Cost
		fill.Balance = acct.Balance
		fill.ID = m.newID()
		res.Fills = append(res.Fills, fill)
		res.Executed++
	}

	for i := range m.projects {
		m.projects[i].Markets = markets[i]
	}
	for i, slot := range slots {
		m.accounts[slot] = traders[i]
	}
	for _, f := range res.Fills {
		for _, obs := range m.observers {
			obs.Filled(f)
		}
	}
	if res.Executed > 0 && m.recordOnTrade {
		m.appendSnapshotLocked(m.snapshotLocked(now))
	}
	m.log.Info("simulation done",
		zap.Int("requested", res.Requested),
		zap.Int("executed", res.Executed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
