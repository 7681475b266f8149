package dispatch

import (
	"errors"
	"time"
)

// ErrPersistence wraps every failure of the durable action log.
var ErrPersistence = errors.New("action log write failed")

// Kind identifies the broadcast action a Record was written for.
type Kind string

const (
	KindGroupBroadcast Kind = "group-broadcast"
	KindUserBroadcast  Kind = "user-broadcast"
)

// Valid reports whether k is a known broadcast kind.
func (k Kind) Valid() bool {
	return k == KindGroupBroadcast || k == KindUserBroadcast
}

// Record states that (SessionIndex, ChatID) already received a broadcast.
type Record struct {
	SessionIndex int
	ChatID       int64
	Kind         Kind
	CreatedAt    time.Time
}

// JoinRecord states that Link was processed for joining by the whole pool.
type JoinRecord struct {
	Link      string
	CreatedAt time.Time
}
