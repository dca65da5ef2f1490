package market

import "time"

func (m *Market) snapshotLocked(now time.Time) ImpactSnapshot {
	n := len(m.projects)
	snap := ImpactSnapshot{
		Time:      now,
		Impact:    make([]float64, n),
		Funded:    make([]float64, n),
		NotFunded: make([]float64, n),
	}
	for i := range m.projects {
		p := &m.projects[i]
		snap.Impact[i] = p.Impact()
		snap.Funded[i] = p.ImpliedValue(Funded)
		snap.NotFunded[i] = p.ImpliedValue(NotFunded)
	}
	return snap
}

func (m *Market) appendSnapshotLocked(snap ImpactSnapshot) int {
	m.history = append(m.history, snap)
	idx := len(m.history) - 1
	for _, obs := range m.observers {
		obs.SnapshotRecorded(m.id, idx, snap)
	}
	return idx
}

// RecordSnapshot appends the current impacts to the history and returns the
// new index. Driven by the periodic scheduler.
func (m *Market) RecordSnapshot() (int, ImpactSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshotLocked(m.now())
	return m.appendSnapshotLocked(snap), snap
}

// History returns a copy of the full snapshot sequence.
func (m *Market) History() []ImpactSnapshot {
	return m.HistorySince(0)
}

// HistorySince returns snapshots from index from onwards, so a reader can
// resume where it stopped.
func (m *Market) HistorySince(from int) []ImpactSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from >= len(m.history) {
		return nil
	}
	return append([]ImpactSnapshot(nil), m.history[from:]...)
}

// Snapshot returns the snapshot at index, or false if it does not exist.
func (m *Market) Snapshot(index int) (ImpactSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.history) {
		return ImpactSnapshot{}, false
	}
	return m.history[index], true
}
