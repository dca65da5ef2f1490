package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "cfm"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry  *prometheus.Registry
	executed  prometheus.Counter
	rejected  prometheus.Counter
	basePairs prometheus.Counter
	snapshots prometheus.Counter
	phases    prometheus.Counter
	redeemed  prometheus.Counter
	simulated prometheus.Counter
	persist   prometheus.Counter
	duplicate prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:  registry,
		executed:  newCounter("trades_executed_total", "Total number of accepted trades."),
		rejected:  newCounter("commands_rejected_total", "Total number of rejected commands."),
		basePairs: newCounter("base_pair_ops_total", "Total number of mint and merge operations."),
		snapshots: newCounter("snapshots_recorded_total", "Total number of impact snapshots recorded."),
		phases:    newCounter("phase_transitions_total", "Total number of decide, resolve and reset transitions."),
		redeemed:  newCounter("redemptions_total", "Total number of redemption runs."),
		simulated: newCounter("simulated_trades_total", "Total number of trades applied by the simulator."),
		persist:   newCounter("persist_failed_total", "Total number of market record persistence failures."),
		duplicate: newCounter("duplicate_commands_total", "Total number of commands answered from a stored receipt."),
	}
	registry.MustRegister(p.executed, p.rejected, p.basePairs, p.snapshots, p.phases, p.redeemed, p.simulated, p.persist, p.duplicate)
	p.Metrics = &Metrics{
		TradesExecuted:    promCounter{p.executed},
		TradesRejected:    promCounter{p.rejected},
		BasePairOps:       promCounter{p.basePairs},
		SnapshotsRecorded: promCounter{p.snapshots},
		PhaseTransitions:  promCounter{p.phases},
		Redemptions:       promCounter{p.redeemed},
		SimulatedTrades:   promCounter{p.simulated},
		PersistFailed:     promCounter{p.persist},
		DuplicateCommands: promCounter{p.duplicate},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
