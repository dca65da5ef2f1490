// Package timescale copies impact snapshots and fills into Postgres (with
// the TimescaleDB extension when available) for offline analysis.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cfm-engine/internal/config"
	"cfm-engine/internal/market"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type snapshotRow struct {
	Market string
	Index  int
	Snap   market.ImpactSnapshot
}

// Writer is a market.Observer. Enqueueing never blocks; rows are dropped
// when the queue is full.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	snapshots chan snapshotRow
	fills     chan market.Fill
	started   atomic.Bool
	dropSnap  atomic.Uint64
	dropFill  atomic.Uint64

	mu       sync.RWMutex
	projects map[string][]string
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	w := newWriter(db, cfg, log)
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(db *sql.DB, cfg config.TimescaleConfig, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		snapshots: make(chan snapshotRow, queueSize),
		fills:     make(chan market.Fill, queueSize),
		projects:  make(map[string][]string),
	}
}

// Track subscribes the writer to a market and remembers its project keys so
// snapshot rows can be labelled.
func (w *Writer) Track(m *market.Market) {
	if w == nil || m == nil {
		return
	}
	views := m.ListProjects()
	keys := make([]string, len(views))
	for i, v := range views {
		keys[i] = v.Key
	}
	w.mu.Lock()
	w.projects[m.ID()] = keys
	w.mu.Unlock()
	m.AddObserver(w)
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) SnapshotRecorded(marketID string, index int, snap market.ImpactSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snapshotRow{Market: marketID, Index: index, Snap: snap}:
	default:
		if w.dropSnap.Add(1) == 1 {
			w.log.Warn("timescale snapshot queue full")
		}
	}
}

func (w *Writer) Filled(fill market.Fill) {
	if w == nil {
		return
	}
	select {
	case w.fills <- fill:
	default:
		if w.dropFill.Add(1) == 1 {
			w.log.Warn("timescale fill queue full")
		}
	}
}

// Dropped reports how many snapshots and fills were discarded.
func (w *Writer) Dropped() (snapshots, fills uint64) {
	return w.dropSnap.Load(), w.dropFill.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.snapshots:
			w.writeSnapshot(ctx, row)
		case fill := <-w.fills:
			w.writeFill(ctx, fill)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market TEXT NOT NULL,
		snapshot_index INTEGER NOT NULL,
		project TEXT NOT NULL,
		impact DOUBLE PRECISION NOT NULL,
		funded_value DOUBLE PRECISION NOT NULL,
		not_funded_value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, market, snapshot_index, project)
	)`, w.table("impact_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		fill_id TEXT NOT NULL,
		market TEXT NOT NULL,
		account TEXT NOT NULL,
		project TEXT NOT NULL,
		scenario TEXT NOT NULL,
		side TEXT NOT NULL,
		action TEXT NOT NULL,
		shares DOUBLE PRECISION NOT NULL,
		cost DOUBLE PRECISION NOT NULL,
		price_before DOUBLE PRECISION NOT NULL,
		price_after DOUBLE PRECISION NOT NULL,
		balance DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, fill_id)
	)`, w.table("fills"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"impact_snapshots", "fills"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) projectKey(marketID string, i int) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if keys := w.projects[marketID]; i < len(keys) {
		return keys[i]
	}
	return fmt.Sprintf("#%d", i)
}

func (w *Writer) writeSnapshot(ctx context.Context, row snapshotRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, market, snapshot_index, project, impact, funded_value, not_funded_value
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT DO NOTHING`, w.table("impact_snapshots"))
	for i := range row.Snap.Impact {
		if _, err := w.db.ExecContext(ctx, query,
			row.Snap.Time,
			row.Market,
			row.Index,
			w.projectKey(row.Market, i),
			row.Snap.Impact[i],
			row.Snap.Funded[i],
			row.Snap.NotFunded[i],
		); err != nil {
			w.log.Warn("timescale snapshot insert failed", zap.String("market", row.Market), zap.Error(err))
			return
		}
	}
}

func (w *Writer) writeFill(ctx context.Context, fill market.Fill) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, fill_id, market, account, project, scenario, side, action,
		shares, cost, price_before, price_after, balance
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT DO NOTHING`, w.table("fills"))
	if _, err := w.db.ExecContext(ctx, query,
		fill.Time,
		fill.ID,
		fill.Market,
		fill.Account,
		fill.Project,
		fill.Scenario,
		fill.Side,
		fill.Action,
		fill.Shares,
		fill.Cost,
		fill.PriceBefore,
		fill.PriceAfter,
		fill.Balance,
	); err != nil {
		w.log.Warn("timescale fill insert failed", zap.String("fill", fill.ID), zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
