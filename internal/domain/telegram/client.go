package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatKind is the kind of a chat reachable by an account.
type ChatKind string

const (
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatPrivate    ChatKind = "private"
	ChatChannel    ChatKind = "channel"
)

// Dialog is a chat reachable by one account.
type Dialog struct {
	ID    int64 // marked id: users positive, groups -id, channels -100<id>
	Kind  ChatKind
	Title string
}

// Identity is the live profile of an authenticated account.
type Identity struct {
	ID        int64
	FirstName string
	Username  string
}

// Account defines the capabilities used on one authenticated user session.
// This decouples the application logic from the specific MTProto library.
type Account interface {
	Self(ctx context.Context) (Identity, error)
	// Dialogs calls fn for every chat of the account, in listing order.
	// Iteration stops at the first error returned by fn.
	Dialogs(ctx context.Context, fn func(Dialog) error) error
	SendMessage(ctx context.Context, chatID int64, text string) error
	JoinLink(ctx context.Context, link string) error
	LeaveLink(ctx context.Context, link string) error
	Close() error
}

// Authenticator turns an opaque credential string into a live Account.
type Authenticator interface {
	Authenticate(ctx context.Context, secret string) (Account, error)
}

// FloodWaitError is returned by Account calls that were rate limited.
// The caller must not issue the next call before Wait elapses.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.Wait)
}

// AsFloodWait extracts the mandatory wait from a rate-limit error.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}
