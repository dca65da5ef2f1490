// Package exec runs market commands on behalf of callers. Commands carrying a
// client id are executed at most once: the first result is stored as a
// receipt and replayed for retries. Every accepted command is followed by a
// write of the market record to the state store.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"cfm-engine/internal/alerts"
	"cfm-engine/internal/market"
	"cfm-engine/internal/metrics"
	"cfm-engine/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier receives phase changes. *alerts.Telegram satisfies it.
type Notifier interface {
	Notify(ctx context.Context, ev alerts.PhaseEvent)
}

type Receipt struct {
	ID       string          `json:"id"`
	ClientID string          `json:"client_id"`
	Market   string          `json:"market"`
	Op       string          `json:"op"`
	Result   json.RawMessage `json:"result"`
	Time     time.Time       `json:"time"`
}

type Executor struct {
	registry *market.Registry
	store    state.Store
	codec    state.Codec
	metrics  *metrics.Metrics
	notifier Notifier
	log      *zap.Logger

	mu        sync.Mutex
	cache     map[string]Receipt
	persistMu map[string]*sync.Mutex
}

func New(registry *market.Registry, store state.Store, codec state.Codec, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if codec == nil {
		codec = state.JSONCodec{}
	}
	return &Executor{
		registry: registry,
		store:    store,
		codec:    codec,
		metrics:  metrics.NewNoop(),
		log:      log,
		cache:     make(map[string]Receipt),
		persistMu: make(map[string]*sync.Mutex),
	}
}

func (e *Executor) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		e.metrics = m
	}
}

func (e *Executor) SetNotifier(n Notifier) {
	e.notifier = n
}

func (e *Executor) Registry() *market.Registry {
	return e.registry
}

func (e *Executor) lookupReceipt(ctx context.Context, key string) (Receipt, bool, error) {
	e.mu.Lock()
	if r, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return r, true, nil
	}
	e.mu.Unlock()
	if e.store == nil {
		return Receipt{}, false, nil
	}
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil || !ok {
		return Receipt{}, false, err
	}
	var r Receipt
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Receipt{}, false, err
	}
	e.mu.Lock()
	e.cache[key] = r
	e.mu.Unlock()
	return r, true, nil
}

func (e *Executor) storeReceipt(ctx context.Context, key string, r Receipt) {
	e.mu.Lock()
	e.cache[key] = r
	e.mu.Unlock()
	if e.store == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		e.log.Warn("failed to encode receipt", zap.Error(err))
		return
	}
	if err := e.store.Set(ctx, key, string(payload)); err != nil {
		e.log.Warn("failed to persist receipt", zap.String("client_id", r.ClientID), zap.Error(err))
	}
}

func (e *Executor) persistLock(marketID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.persistMu[marketID]
	if !ok {
		l = &sync.Mutex{}
		e.persistMu[marketID] = l
	}
	return l
}

// Persist writes the current record of one market. Writes for a market are
// serialised and the record is taken under that lock, so the stored record
// never goes back to an older state.
func (e *Executor) Persist(ctx context.Context, m *market.Market) error {
	l := e.persistLock(m.ID())
	l.Lock()
	defer l.Unlock()
	if err := state.SaveMarketRecord(ctx, e.store, e.codec, m.Record()); err != nil {
		e.metrics.PersistFailed.Inc()
		e.log.Warn("failed to persist market", zap.String("market", m.ID()), zap.Error(err))
		return err
	}
	return nil
}

// run executes fn against one market. With a client id, a stored receipt is
// decoded into the result instead of running fn again.
func run[T any](ctx context.Context, e *Executor, op, marketID, clientID string, fn func(*market.Market) (T, error)) (T, error) {
	var zero T
	m, err := e.registry.Get(marketID)
	if err != nil {
		e.metrics.TradesRejected.Inc()
		return zero, err
	}
	var key string
	if clientID != "" {
		key = state.ReceiptKey(marketID, clientID)
		r, ok, err := e.lookupReceipt(ctx, key)
		if err != nil {
			return zero, err
		}
		if ok {
			if r.Op != op {
				return zero, errors.New("client id already used for a different command")
			}
			e.metrics.DuplicateCommands.Inc()
			var out T
			if err := json.Unmarshal(r.Result, &out); err != nil {
				return zero, err
			}
			return out, nil
		}
	}
	out, err := fn(m)
	if err != nil {
		e.metrics.TradesRejected.Inc()
		e.log.Warn("command rejected",
			zap.String("op", op),
			zap.String("market", marketID),
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return zero, err
	}
	_ = e.Persist(ctx, m)
	if key != "" {
		result, err := json.Marshal(out)
		if err != nil {
			e.log.Warn("failed to encode result", zap.String("op", op), zap.Error(err))
			return out, nil
		}
		e.storeReceipt(ctx, key, Receipt{
			ID:       uuid.NewString(),
			ClientID: clientID,
			Market:   marketID,
			Op:       op,
			Result:   result,
			Time:     time.Now().UTC(),
		})
	}
	return out, nil
}

func (e *Executor) notify(ctx context.Context, ev alerts.PhaseEvent) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, ev)
}

func (e *Executor) Buy(ctx context.Context, clientID, marketID string, o market.Order, shares float64) (market.Fill, error) {
	return run(ctx, e, "buy", marketID, clientID, func(m *market.Market) (market.Fill, error) {
		fill, err := m.Buy(o, shares)
		if err == nil {
			e.metrics.TradesExecuted.Inc()
		}
		return fill, err
	})
}

func (e *Executor) Sell(ctx context.Context, clientID, marketID string, o market.Order, shares float64) (market.Fill, error) {
	return run(ctx, e, "sell", marketID, clientID, func(m *market.Market) (market.Fill, error) {
		fill, err := m.Sell(o, shares)
		if err == nil {
			e.metrics.TradesExecuted.Inc()
		}
		return fill, err
	})
}

func (e *Executor) BuyWithBudget(ctx context.Context, clientID, marketID string, o market.Order, budget float64) (market.Fill, error) {
	return run(ctx, e, "buy_budget", marketID, clientID, func(m *market.Market) (market.Fill, error) {
		fill, err := m.BuyWithBudget(o, budget)
		if err == nil {
			e.metrics.TradesExecuted.Inc()
		}
		return fill, err
	})
}

func (e *Executor) MoveToTargetValue(ctx context.Context, clientID, marketID string, o market.Order, target float64) (market.Fill, error) {
	return run(ctx, e, "target", marketID, clientID, func(m *market.Market) (market.Fill, error) {
		fill, err := m.MoveToTargetValue(o, target)
		if err == nil && !fill.Empty() {
			e.metrics.TradesExecuted.Inc()
		}
		return fill, err
	})
}

type BaseResult struct {
	Project string  `json:"project"`
	Amount  float64 `json:"amount"`
}

func (e *Executor) Mint(ctx context.Context, clientID, marketID, accountID, project string, amount float64) (BaseResult, error) {
	return run(ctx, e, "mint", marketID, clientID, func(m *market.Market) (BaseResult, error) {
		if err := m.Mint(accountID, project, amount); err != nil {
			return BaseResult{}, err
		}
		e.metrics.BasePairOps.Inc()
		return BaseResult{Project: project, Amount: amount}, nil
	})
}

// Merge merges amount pairs, or every matched pair when amount is nil.
func (e *Executor) Merge(ctx context.Context, clientID, marketID, accountID, project string, amount *float64) (BaseResult, error) {
	return run(ctx, e, "merge", marketID, clientID, func(m *market.Market) (BaseResult, error) {
		var (
			n   float64
			err error
		)
		if amount == nil {
			n, err = m.MergeAll(accountID, project)
		} else {
			n, err = m.Merge(accountID, project, *amount)
		}
		if err != nil {
			return BaseResult{}, err
		}
		e.metrics.BasePairOps.Inc()
		return BaseResult{Project: project, Amount: n}, nil
	})
}

func (e *Executor) Decide(ctx context.Context, clientID, marketID, accountID string, index int) (market.Decision, error) {
	return run(ctx, e, "decide", marketID, clientID, func(m *market.Market) (market.Decision, error) {
		d, err := m.Decide(accountID, index)
		if err != nil {
			return d, err
		}
		e.metrics.PhaseTransitions.Inc()
		e.metrics.SnapshotsRecorded.Inc()
		e.notify(ctx, alerts.PhaseEvent{Market: marketID, Phase: string(market.PhaseDecided), Account: accountID, Winner: d.Winner})
		return d, nil
	})
}

type ResolveResult struct {
	Winner string             `json:"winner"`
	Values map[string]float64 `json:"values"`
}

func (e *Executor) Resolve(ctx context.Context, clientID, marketID, accountID string, values map[string]market.FinalValue) (ResolveResult, error) {
	return run(ctx, e, "resolve", marketID, clientID, func(m *market.Market) (ResolveResult, error) {
		if _, err := m.Resolve(accountID, values); err != nil {
			return ResolveResult{}, err
		}
		e.metrics.PhaseTransitions.Inc()
		rec := m.Record()
		out := ResolveResult{Values: make(map[string]float64)}
		if rec.Resolution != nil {
			out.Winner = rec.Resolution.Winner
			for key, v := range rec.Resolution.Values {
				switch {
				case v.Funded != nil:
					out.Values[key] = *v.Funded
				case v.NotFunded != nil:
					out.Values[key] = *v.NotFunded
				}
			}
		}
		e.notify(ctx, alerts.PhaseEvent{Market: marketID, Phase: string(market.PhaseResolved), Account: accountID, Winner: out.Winner, Values: out.Values})
		return out, nil
	})
}

func (e *Executor) RedeemAll(ctx context.Context, clientID, marketID string) ([]market.Payout, error) {
	return run(ctx, e, "redeem", marketID, clientID, func(m *market.Market) ([]market.Payout, error) {
		payouts, err := m.RedeemAll()
		if err == nil {
			e.metrics.Redemptions.Inc()
		}
		return payouts, err
	})
}

func (e *Executor) Reset(ctx context.Context, clientID, marketID, accountID string) (market.Phase, error) {
	return run(ctx, e, "reset", marketID, clientID, func(m *market.Market) (market.Phase, error) {
		if err := m.Reset(accountID); err != nil {
			return "", err
		}
		e.clearRecord(ctx, m)
		e.metrics.PhaseTransitions.Inc()
		e.notify(ctx, alerts.PhaseEvent{Market: marketID, Phase: "reset", Account: accountID})
		return m.Phase(), nil
	})
}

func (e *Executor) Simulate(ctx context.Context, clientID, marketID string, opts market.SimulateOptions) (market.SimulateResult, error) {
	return run(ctx, e, "simulate", marketID, clientID, func(m *market.Market) (market.SimulateResult, error) {
		res, err := m.Simulate(opts)
		if err == nil {
			for i := 0; i < res.Executed; i++ {
				e.metrics.SimulatedTrades.Inc()
			}
		}
		return res, err
	})
}

// clearRecord drops the stored record after a reset; the persist that follows
// the command writes the fresh one.
func (e *Executor) clearRecord(ctx context.Context, m *market.Market) {
	l := e.persistLock(m.ID())
	l.Lock()
	defer l.Unlock()
	if err := state.ClearMarketRecord(ctx, e.store, m.ID()); err != nil {
		e.log.Warn("failed to clear market record", zap.String("market", m.ID()), zap.Error(err))
	}
}

// RecordSnapshots appends a snapshot to every market and persists it.
func (e *Executor) RecordSnapshots(ctx context.Context) {
	for _, m := range e.registry.All() {
		m.RecordSnapshot()
		e.metrics.SnapshotsRecorded.Inc()
		_ = e.Persist(ctx, m)
	}
}
