package state

import (
	"context"
	"strings"

	"cfm-engine/internal/market"
)

func MarketRecordKey(marketID string) string {
	return "market:" + marketID + ":record"
}

func LoadMarketRecord(ctx context.Context, store Store, marketID string) (market.Record, bool, error) {
	if store == nil {
		return market.Record{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, MarketRecordKey(marketID))
	if err != nil {
		return market.Record{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return market.Record{}, false, nil
	}
	var rec market.Record
	if err := Decode(raw, &rec); err != nil {
		return market.Record{}, false, err
	}
	return rec, true, nil
}

func SaveMarketRecord(ctx context.Context, store Store, codec Codec, rec market.Record) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	payload, err := codec.Encode(rec)
	if err != nil {
		return err
	}
	return store.Set(ctx, MarketRecordKey(rec.ID), payload)
}

func ClearMarketRecord(ctx context.Context, store Store, marketID string) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return store.Delete(ctx, MarketRecordKey(marketID))
}
