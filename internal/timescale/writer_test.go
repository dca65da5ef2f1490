package timescale

import (
	"context"
	"testing"

	"cfm-engine/internal/config"
	"cfm-engine/internal/market"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer when disabled, got %v %v", w, err)
	}
	// A nil writer is a valid no-op observer.
	w.Filled(market.Fill{})
	w.SnapshotRecorded("m", 0, market.ImpactSnapshot{})
	w.Start(context.Background())
	if err := w.Close(); err != nil {
		t.Fatalf("close nil writer: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, nil); err == nil {
		t.Fatalf("expected dsn error")
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, config.TimescaleConfig{QueueSize: 1}, nil)
	w.Filled(market.Fill{ID: "a"})
	w.Filled(market.Fill{ID: "b"})
	w.SnapshotRecorded("m", 0, market.ImpactSnapshot{})
	w.SnapshotRecorded("m", 1, market.ImpactSnapshot{})
	snaps, fills := w.Dropped()
	if snaps != 1 || fills != 1 {
		t.Fatalf("expected one drop each, got %d/%d", snaps, fills)
	}
}

func TestTrackLabelsProjects(t *testing.T) {
	m, err := market.New(market.Config{
		ID:       "m",
		Projects: []market.ProjectConfig{{Key: "a", RangeMax: 1}, {Key: "b", RangeMax: 1}},
	}, nil)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	w := newWriter(nil, config.TimescaleConfig{QueueSize: 4}, nil)
	w.Track(m)
	if got := w.projectKey("m", 1); got != "b" {
		t.Fatalf("expected b, got %s", got)
	}
	if got := w.projectKey("other", 0); got != "#0" {
		t.Fatalf("expected fallback label, got %s", got)
	}
	m.RecordSnapshot()
	if len(w.snapshots) != 1 {
		t.Fatalf("expected snapshot queued, got %d", len(w.snapshots))
	}
}
