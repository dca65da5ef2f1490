package market

import (
	"cfm-engine/internal/lmsr"

	"go.uber.org/zap"
)

type Payout struct {
	Account string  `json:"account"`
	Shares  float64 `json:"shares"`
	Base    float64 `json:"base"`
	Total   float64 `json:"total"`
	Balance float64 `json:"balance"`
}

// RedeemAll pays out every account against the resolved values and zeroes
// the paid holdings and base pairs. Calling it again pays nothing.
func (m *Market) RedeemAll() ([]Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase.Phase != PhaseResolved || m.resolution == nil {
		return nil, &OpError{Op: "redeem", Market: m.id, Err: ErrInvalidPhaseTransition}
	}
	res := m.resolution
	payouts := make([]Payout, 0, len(m.accounts))
	for _, acct := range m.accounts {
		out := Payout{Account: acct.ID}
		for i := range m.projects {
			pid := ProjectID(i)
			p := &m.projects[i]
			live := NotFunded
			if pid == res.Winner {
				live = Funded
			}
			if value, ok := res.Values[i].get(live); ok {
				v := lmsr.Normalize(value, p.RangeMin, p.RangeMax)
				h := &acct.Holdings[i][live]
				out.Shares += v*h[Up] + (1-v)*h[Down]
				h[Up], h[Down] = 0, 0
			}
			base := &acct.Base[i]
			out.Base += base[live]
			base[Funded], base[NotFunded] = 0, 0
		}
		out.Total = out.Shares + out.Base
		acct.Balance += out.Total
		out.Balance = acct.Balance
		if out.Total > 0 {
			m.log.Info("redeemed", zap.String("account", acct.ID), zap.Float64("amount", out.Total))
		}
		payouts = append(payouts, out)
	}
	return payouts, nil
}
