package market

import (
	"fmt"
	"time"

	"cfm-engine/internal/lmsr"

	"go.uber.org/zap"
)

// Record is the persisted form of one market instance.
type Record struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Phase      Phase             `json:"phase"`
	Projects   []ProjectRecord   `json:"projects"`
	Accounts   []AccountRecord   `json:"accounts"`
	History    []ImpactSnapshot  `json:"history"`
	Markers    []PhaseMarker     `json:"markers"`
	Resolution *ResolutionRecord `json:"resolution,omitempty"`
	SavedAt    time.Time         `json:"saved_at"`
}

type ProjectRecord struct {
	Key              string     `json:"key"`
	Name             string     `json:"name"`
	RangeMin         float64    `json:"range_min"`
	RangeMax         float64    `json:"range_max"`
	Funded           lmsr.State `json:"funded"`
	NotFunded        lmsr.State `json:"not_funded"`
	FrozenNotFunded  bool       `json:"frozen_not_funded"`
	FrozenFundedZero bool       `json:"frozen_funded_zero"`
}

type AccountRecord struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Balance  float64    `json:"balance"`
	Admin    bool       `json:"admin"`
	Holdings []Holdings `json:"holdings"`
	Base     []BasePair `json:"base_pairs"`
}

type ResolutionRecord struct {
	Winner string                `json:"winner"`
	Values map[string]FinalValue `json:"values"`
}

// Record returns a consistent copy of the market for persistence.
func (m *Market) Record() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := Record{
		ID:       m.id,
		Name:     m.name,
		Phase:    m.phase.Phase,
		Projects: make([]ProjectRecord, len(m.projects)),
		Accounts: make([]AccountRecord, len(m.accounts)),
		History:  append([]ImpactSnapshot(nil), m.history...),
		Markers:  append([]PhaseMarker(nil), m.markers...),
		SavedAt:  m.now(),
	}
	for i := range m.projects {
		p := &m.projects[i]
		rec.Projects[i] = ProjectRecord{
			Key:              p.Key,
			Name:             p.Name,
			RangeMin:         p.RangeMin,
			RangeMax:         p.RangeMax,
			Funded:           p.Markets[Funded],
			NotFunded:        p.Markets[NotFunded],
			FrozenNotFunded:  m.frozenNotFunded[i],
			FrozenFundedZero: m.frozenFundedZero[i],
		}
	}
	for i, a := range m.accounts {
		rec.Accounts[i] = AccountRecord{
			ID:       a.ID,
			Name:     a.Name,
			Balance:  a.Balance,
			Admin:    a.Admin,
			Holdings: append([]Holdings(nil), a.Holdings...),
			Base:     append([]BasePair(nil), a.Base...),
		}
	}
	if m.resolution != nil {
		rr := &ResolutionRecord{
			Winner: m.projects[m.resolution.Winner].Key,
			Values: make(map[string]FinalValue, len(m.projects)),
		}
		for i, v := range m.resolution.Values {
			if v.Funded != nil || v.NotFunded != nil {
				rr.Values[m.projects[i].Key] = v
			}
		}
		rec.Resolution = rr
	}
	return rec
}

// Restore builds a market from cfg and replaces its state with rec. The
// configuration stays the initial state used by Reset. Accounts in rec that
// the configuration no longer lists are dropped.
func Restore(cfg Config, rec Record, log *zap.Logger) (*Market, error) {
	m, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	if rec.ID != "" && rec.ID != m.id {
		return nil, fmt.Errorf("restore %s: record belongs to market %s", m.id, rec.ID)
	}
	if len(rec.Projects) != len(m.projects) {
		return nil, fmt.Errorf("restore %s: record has %d projects, config has %d", m.id, len(rec.Projects), len(m.projects))
	}
	for i, pr := range rec.Projects {
		if pr.Key != m.projects[i].Key {
			return nil, fmt.Errorf("restore %s: project %d is %s in record, %s in config", m.id, i, pr.Key, m.projects[i].Key)
		}
	}
	phase := rec.Phase
	switch phase {
	case PhaseOpen, PhaseDecided, PhaseResolved:
	case "":
		phase = PhaseOpen
	default:
		return nil, fmt.Errorf("restore %s: unknown phase %q", m.id, rec.Phase)
	}
	var res *Resolution
	if rec.Resolution != nil {
		winner, ok := m.project(rec.Resolution.Winner)
		if !ok {
			return nil, fmt.Errorf("restore %s: unknown winner %s", m.id, rec.Resolution.Winner)
		}
		res = &Resolution{Winner: winner, Values: make([]FinalValue, len(m.projects))}
		for key, v := range rec.Resolution.Values {
			pid, ok := m.project(key)
			if !ok {
				return nil, fmt.Errorf("restore %s: unknown project %s in resolution", m.id, key)
			}
			res.Values[pid] = v
		}
	}
	if phase != PhaseOpen && res == nil {
		return nil, fmt.Errorf("restore %s: phase %s without resolution", m.id, phase)
	}

	for i, pr := range rec.Projects {
		p := &m.projects[i]
		p.Markets[Funded] = pr.Funded
		p.Markets[NotFunded] = pr.NotFunded
		m.frozenNotFunded[i] = pr.FrozenNotFunded
		m.frozenFundedZero[i] = pr.FrozenFundedZero
	}
	for _, ar := range rec.Accounts {
		acct, ok := m.account(ar.ID)
		if !ok {
			m.log.Warn("restore: dropping unknown account", zap.String("account", ar.ID))
			continue
		}
		acct.Balance = ar.Balance
		if len(ar.Holdings) == len(m.projects) {
			copy(acct.Holdings, ar.Holdings)
		}
		if len(ar.Base) == len(m.projects) {
			copy(acct.Base, ar.Base)
		}
	}
	m.phase.SetPhase(phase)
	m.resolution = res
	if len(rec.History) > 0 {
		m.history = append([]ImpactSnapshot(nil), rec.History...)
	}
	if len(rec.Markers) > 0 {
		m.markers = append([]PhaseMarker(nil), rec.Markers...)
	}
	return m, nil
}
