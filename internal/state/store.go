// Package state persists market records and command receipts in a plain
// key-value store. Keys are namespaced per market:
//
//	market:<id>:record            latest market record
//	receipt:<id>:<client id>      result of an idempotent command
package state

import "context"

// Store implementations are not expected to serialise callers. Writes to a
// market record go through exec.Executor.Persist, which orders them per market.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func ReceiptKey(marketID, clientID string) string {
	return "receipt:" + marketID + ":" + clientID
}
