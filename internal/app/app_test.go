package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cfm-engine/internal/config"
	"cfm-engine/internal/market"
	"cfm-engine/internal/state"
	"cfm-engine/internal/state/sqlite"
)

func testConfig(t *testing.T, codec string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.State.SQLitePath = filepath.Join(t.TempDir(), "state", "cfm.db")
	cfg.State.Codec = codec
	disabled := false
	cfg.Metrics.Enabled = &disabled
	cfg.History.Interval = 0
	return cfg
}

func TestAppRestoresMarketAcrossRestarts(t *testing.T) {
	for _, codec := range []string{"json", "msgpack"} {
		t.Run(codec, func(t *testing.T) {
			cfg := testConfig(t, codec)
			ctx := context.Background()

			first, err := New(ctx, cfg, nil)
			if err != nil {
				t.Fatalf("new app: %v", err)
			}
			o := market.Order{Account: "user1", Project: "ascoe", Scenario: market.Funded, Side: market.Up}
			if _, err := first.Executor().Buy(ctx, "c1", "default", o, 25); err != nil {
				t.Fatalf("buy: %v", err)
			}
			if _, err := first.Executor().Decide(ctx, "", "default", "admin", market.Latest); err != nil {
				t.Fatalf("decide: %v", err)
			}
			first.close()

			second, err := New(ctx, cfg, nil)
			if err != nil {
				t.Fatalf("reopen app: %v", err)
			}
			defer second.close()
			m, err := second.Registry().Get("default")
			if err != nil {
				t.Fatalf("get market: %v", err)
			}
			if m.Phase() != market.PhaseDecided {
				t.Fatalf("expected decided phase after restart, got %s", m.Phase())
			}
			if winner, ok := m.WinnerKey(); !ok || winner != "ascoe" {
				t.Fatalf("expected ascoe to win, got %q", winner)
			}
			p, err := m.Portfolio("user1")
			if err != nil {
				t.Fatalf("portfolio: %v", err)
			}
			if len(p.Positions) != 1 || p.Positions[0].Shares != 25 {
				t.Fatalf("expected restored position, got %+v", p.Positions)
			}
			fill, err := second.Executor().Buy(ctx, "c1", "default", o, 25)
			if err != nil {
				t.Fatalf("replayed buy: %v", err)
			}
			if fill.Shares != 25 {
				t.Fatalf("expected stored receipt, got %+v", fill)
			}
			if p2, _ := m.Portfolio("user1"); p2.Positions[0].Shares != 25 {
				t.Fatalf("replay executed again: %+v", p2.Positions)
			}
		})
	}
}

func TestLoadMarketIgnoresMismatchedRecord(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "cfm.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer store.Close()

	stale, err := market.New(market.Config{
		ID:       "default",
		Projects: []market.ProjectConfig{{Key: "old", RangeMax: 1}},
		Accounts: []market.AccountConfig{{ID: "admin", Admin: true}},
	}, nil)
	if err != nil {
		t.Fatalf("stale market: %v", err)
	}
	if err := state.SaveMarketRecord(ctx, store, nil, stale.Record()); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg := config.Default().MarketConfigs()[0]
	m, err := loadMarket(ctx, store, cfg, nil)
	if err != nil {
		t.Fatalf("load market: %v", err)
	}
	if got := len(m.ListProjects()); got != len(cfg.Projects) {
		t.Fatalf("expected fresh market with %d projects, got %d", len(cfg.Projects), got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, "json")
	cfg.History.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	m, _ := a.Registry().Get("default")
	deadline := time.Now().Add(2 * time.Second)
	for len(m.History()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
	if n := len(m.History()); n < 3 {
		t.Fatalf("expected periodic snapshots, got %d", n)
	}
}
