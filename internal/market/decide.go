package market

import (
	"fmt"
	"math"

	"cfm-engine/internal/lmsr"

	"go.uber.org/zap"
)

// Latest asks Decide to take a fresh snapshot instead of a recorded one.
const Latest = -1

type Decision struct {
	Winner        string    `json:"winner"`
	SnapshotIndex int       `json:"snapshot_index"`
	Impact        []float64 `json:"impact"`
}

// Decide picks the project with the highest impact, taken from the snapshot
// at index or from the current state when index is Latest, and freezes the
// losing scenarios at the price of absolute value 0. Ties go to the project
// configured first.
func (m *Market) Decide(accountID string, index int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.requireAdmin("decide", accountID); err != nil {
		return Decision{}, err
	}
	if !m.phase.Can(EventDecide) {
		return Decision{}, &OpError{Op: "decide", Market: m.id, Account: accountID, Err: ErrInvalidPhaseTransition}
	}
	now := m.now()
	var snap ImpactSnapshot
	switch {
	case index == Latest:
		snap = m.snapshotLocked(now)
		index = m.appendSnapshotLocked(snap)
	case index >= 0 && index < len(m.history):
		snap = m.history[index]
	default:
		return Decision{}, &OpError{Op: "decide", Market: m.id, Account: accountID, Amount: float64(index), Err: ErrSnapshotNotFound}
	}
	if len(snap.Impact) != len(m.projects) {
		return Decision{}, fmt.Errorf("decide: snapshot %d has %d projects, market has %d", index, len(snap.Impact), len(m.projects))
	}

	winner := ProjectID(0)
	best := math.Inf(-1)
	for i, v := range snap.Impact {
		if v > best {
			best = v
			winner = ProjectID(i)
		}
	}

	for i := range m.projects {
		pid := ProjectID(i)
		p := &m.projects[i]
		sc := Funded
		if pid == winner {
			sc = NotFunded
			m.frozenNotFunded[i] = true
		} else {
			m.frozenFundedZero[i] = true
		}
		freezeAtZero(p, sc)
	}
	if _, err := m.phase.Apply(EventDecide); err != nil {
		return Decision{}, err
	}
	m.resolution = &Resolution{Winner: winner, Values: make([]FinalValue, len(m.projects))}
	m.markers = append(m.markers, PhaseMarker{Time: now, Phase: PhaseDecided})
	m.appendSnapshotLocked(m.snapshotLocked(now))

	d := Decision{
		Winner:        m.projects[winner].Key,
		SnapshotIndex: index,
		Impact:        append([]float64(nil), snap.Impact...),
	}
	m.log.Info("market decided",
		zap.String("account", accountID),
		zap.String("winner", d.Winner),
		zap.Int("snapshot", index),
	)
	return d, nil
}

// freezeAtZero moves the UP quantity so the scenario prices absolute value 0.
func freezeAtZero(p *Project, sc Scenario) {
	state := &p.Markets[sc]
	target := lmsr.Normalize(0, p.RangeMin, p.RangeMax)
	state.QUp = lmsr.QUpForTarget(state.QDown, state.B, target)
}

// Resolve fixes the absolute outcomes used by redemption: the winner's
// funded value and every other project's not-funded value. Values not given
// default to the middle of the project range.
func (m *Market) Resolve(accountID string, values map[string]FinalValue) (Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.requireAdmin("resolve", accountID); err != nil {
		return Resolution{}, err
	}
	if !m.phase.Can(EventResolve) || m.resolution == nil {
		return Resolution{}, &OpError{Op: "resolve", Market: m.id, Account: accountID, Err: ErrInvalidPhaseTransition}
	}
	for key := range values {
		if _, ok := m.project(key); !ok {
			return Resolution{}, &OpError{Op: "resolve", Market: m.id, Account: accountID, Project: key, Err: ErrUnknownProject}
		}
	}
	res := Resolution{Winner: m.resolution.Winner, Values: make([]FinalValue, len(m.projects))}
	for i := range m.projects {
		p := &m.projects[i]
		sc := NotFunded
		if ProjectID(i) == res.Winner {
			sc = Funded
		}
		v, ok := values[p.Key].get(sc)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			v = p.Midpoint()
		}
		if sc == Funded {
			res.Values[i].Funded = &v
		} else {
			res.Values[i].NotFunded = &v
		}
	}
	if _, err := m.phase.Apply(EventResolve); err != nil {
		return Resolution{}, err
	}
	m.resolution = &res
	now := m.now()
	m.markers = append(m.markers, PhaseMarker{Time: now, Phase: PhaseResolved})
	m.log.Info("market resolved", zap.String("account", accountID), zap.String("winner", m.projects[res.Winner].Key))
	return res, nil
}

// Resolution returns the decision record, or false before the market is decided.
func (m *Market) Resolution() (Resolution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolution == nil {
		return Resolution{}, false
	}
	return Resolution{
		Winner: m.resolution.Winner,
		Values: append([]FinalValue(nil), m.resolution.Values...),
	}, true
}

// WinnerKey returns the winning project key once decided.
func (m *Market) WinnerKey() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolution == nil {
		return "", false
	}
	return m.projects[m.resolution.Winner].Key, true
}
