package state

import (
	"context"
	"sync"
	"testing"

	"cfm-engine/internal/market"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func testRecord(t *testing.T) market.Record {
	t.Helper()
	m, err := market.New(market.Config{
		ID:       "default",
		Projects: []market.ProjectConfig{{Key: "a", RangeMax: 100}, {Key: "b", RangeMax: 100}},
		Accounts: []market.AccountConfig{{ID: "admin", Balance: 10, Admin: true}, {ID: "u", Balance: 100}},
	}, nil)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	if _, err := m.Buy(market.Order{Account: "u", Project: "b", Scenario: market.Funded, Side: market.Up}, 12); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := m.Mint("u", "a", 5); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.Decide("admin", market.Latest); err != nil {
		t.Fatalf("decide: %v", err)
	}
	return m.Record()
}

func TestMarketRecordRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			store := &memoryStore{}
			ctx := context.Background()
			rec := testRecord(t)
			if err := SaveMarketRecord(ctx, store, codec, rec); err != nil {
				t.Fatalf("save: %v", err)
			}
			loaded, ok, err := LoadMarketRecord(ctx, store, "default")
			if err != nil || !ok {
				t.Fatalf("load: %v (ok=%v)", err, ok)
			}
			if loaded.Phase != market.PhaseDecided || loaded.Resolution == nil || loaded.Resolution.Winner != "b" {
				t.Fatalf("unexpected phase/resolution %+v", loaded)
			}
			if loaded.Projects[1].Funded != rec.Projects[1].Funded || !loaded.Projects[1].FrozenNotFunded {
				t.Fatalf("project mismatch: %+v", loaded.Projects[1])
			}
			if loaded.Accounts[1].Holdings[1][market.Funded][market.Up] != 12 || loaded.Accounts[1].Base[0][market.NotFunded] != 5 {
				t.Fatalf("account mismatch: %+v", loaded.Accounts[1])
			}
			if len(loaded.History) != len(rec.History) || !loaded.History[0].Time.Equal(rec.History[0].Time) {
				t.Fatalf("history mismatch")
			}
			if err := ClearMarketRecord(ctx, store, "default"); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if _, ok, _ := LoadMarketRecord(ctx, store, "default"); ok {
				t.Fatalf("expected record cleared")
			}
		})
	}
}

func TestLoadMarketRecordNilStore(t *testing.T) {
	if _, ok, err := LoadMarketRecord(context.Background(), nil, "x"); ok || err != nil {
		t.Fatalf("nil store should load nothing")
	}
}

func TestCodecByName(t *testing.T) {
	if c, err := CodecByName("MSGPACK"); err != nil || c.Name() != "msgpack" {
		t.Fatalf("expected msgpack codec, got %v %v", c, err)
	}
	if _, err := CodecByName("xml"); err == nil {
		t.Fatalf("expected unknown codec error")
	}
}
