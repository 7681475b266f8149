package dispatch

import "context"

// Log is the durable idempotency ledger for fan-out actions.
// Writes must be durable before they return.
type Log interface {
	WasDispatched(ctx context.Context, sessionIndex int, chatID int64) (bool, error)
	RecordDispatched(ctx context.Context, sessionIndex int, chatID int64, kind Kind) error
	WasJoined(ctx context.Context, link string) (bool, error)
	RecordJoined(ctx context.Context, link string) error
}
