package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	TradesExecuted    Counter
	TradesRejected    Counter
	BasePairOps       Counter
	SnapshotsRecorded Counter
	PhaseTransitions  Counter
	Redemptions       Counter
	SimulatedTrades   Counter
	PersistFailed     Counter
	DuplicateCommands Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		TradesExecuted:    n,
		TradesRejected:    n,
		BasePairOps:       n,
		SnapshotsRecorded: n,
		PhaseTransitions:  n,
		Redemptions:       n,
		SimulatedTrades:   n,
		PersistFailed:     n,
		DuplicateCommands: n,
	}
}
