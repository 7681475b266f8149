package credential

import (
	"errors"
	"time"
)

// ErrPersistence wraps every failure of the durable credential medium.
var ErrPersistence = errors.New("credential store write failed")

// Credential is one account's reusable login session string.
// Identity is never stored with it; it is fetched live after authentication.
type Credential struct {
	ID        int64
	Secret    string
	Active    bool
	Position  int // 0-based ordinal among all stored credentials, active or not
	CreatedAt time.Time
}
