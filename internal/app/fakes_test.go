package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"session_broadcaster_bot/internal/domain/credential"
	"session_broadcaster_bot/internal/domain/dispatch"
	"session_broadcaster_bot/internal/domain/telegram"

	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// trace records external calls and sleeps in the order they happened.
type trace struct {
	mu     sync.Mutex
	events []string
}

func (t *trace) add(format string, args ...any) {
	t.mu.Lock()
	t.events = append(t.events, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}

func (t *trace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.events))
	copy(out, t.events)
	return out
}

type fakeAccount struct {
	name  string
	trace *trace

	mu         sync.Mutex
	identity   telegram.Identity
	selfErr    error
	dialogs    []telegram.Dialog
	dialogsErr error
	sendErrs   map[int64]error
	joinErr    error
	leaveErr   error
	sends      int
	joins      int
	leaves     int
	closed     bool
}

func (a *fakeAccount) Self(ctx context.Context) (telegram.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selfErr != nil {
		return telegram.Identity{}, a.selfErr
	}
	return a.identity, nil
}

func (a *fakeAccount) Dialogs(ctx context.Context, fn func(telegram.Dialog) error) error {
	if a.dialogsErr != nil {
		return a.dialogsErr
	}
	for _, d := range a.dialogs {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (a *fakeAccount) SendMessage(ctx context.Context, chatID int64, text string) error {
	a.mu.Lock()
	a.sends++
	err := a.sendErrs[chatID]
	a.mu.Unlock()
	if a.trace != nil {
		a.trace.add("send %s %d", a.name, chatID)
	}
	return err
}

func (a *fakeAccount) JoinLink(ctx context.Context, link string) error {
	a.mu.Lock()
	a.joins++
	a.mu.Unlock()
	if a.trace != nil {
		a.trace.add("join %s", a.name)
	}
	return a.joinErr
}

func (a *fakeAccount) LeaveLink(ctx context.Context, link string) error {
	a.mu.Lock()
	a.leaves++
	a.mu.Unlock()
	if a.trace != nil {
		a.trace.add("leave %s", a.name)
	}
	return a.leaveErr
}

func (a *fakeAccount) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

type fakeAuthenticator struct {
	accounts map[string]*fakeAccount
	hanging  map[string]bool // secrets whose connect never completes
	calls    int
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, secret string) (telegram.Account, error) {
	f.calls++
	if f.hanging[secret] {
		if _, ok := ctx.Deadline(); !ok {
			return nil, errors.New("authenticate called without a deadline")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	acc, ok := f.accounts[secret]
	if !ok {
		return nil, errors.New("AUTH_KEY_UNREGISTERED")
	}
	return acc, nil
}

type memCredentials struct {
	mu        sync.Mutex
	secrets   []string
	appendErr error
}

func (m *memCredentials) ListActive(ctx context.Context) ([]*credential.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*credential.Credential, 0, len(m.secrets))
	for i, s := range m.secrets {
		out = append(out, &credential.Credential{ID: int64(i + 1), Secret: s, Active: true, Position: i})
	}
	return out, nil
}

func (m *memCredentials) Append(ctx context.Context, secret string) (*credential.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return nil, fmt.Errorf("%w: %v", credential.ErrPersistence, m.appendErr)
	}
	for i, s := range m.secrets {
		if s == secret {
			return &credential.Credential{ID: int64(i + 1), Secret: s, Active: true, Position: i}, nil
		}
	}
	m.secrets = append(m.secrets, secret)
	pos := len(m.secrets) - 1
	return &credential.Credential{ID: int64(pos + 1), Secret: secret, Active: true, Position: pos}, nil
}

func (m *memCredentials) CountActive(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.secrets), nil
}

type dispatchKey struct {
	idx    int
	chatID int64
}

type memLog struct {
	mu         sync.Mutex
	dispatched map[dispatchKey]dispatch.Kind
	joined     map[string]bool
	writes     int
	recordErr  error
}

func newMemLog() *memLog {
	return &memLog{dispatched: map[dispatchKey]dispatch.Kind{}, joined: map[string]bool{}}
}

func (m *memLog) WasDispatched(ctx context.Context, idx int, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dispatched[dispatchKey{idx, chatID}]
	return ok, nil
}

func (m *memLog) RecordDispatched(ctx context.Context, idx int, chatID int64, kind dispatch.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.writes++
	m.dispatched[dispatchKey{idx, chatID}] = kind
	return nil
}

func (m *memLog) WasJoined(ctx context.Context, link string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined[link], nil
}

func (m *memLog) RecordJoined(ctx context.Context, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.joined[link] = true
	return nil
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[Action]map[Outcome]int
}

func (o *countingObserver) ObserveOutcome(action Action, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[Action]map[Outcome]int{}
	}
	if o.counts[action] == nil {
		o.counts[action] = map[Outcome]int{}
	}
	o.counts[action][outcome]++
}

// newTestEngine builds a pool from accounts (secret = account name) and an
// engine whose sleeps are recorded into tr instead of blocking.
func newTestEngine(tr *trace, log dispatch.Log, accounts ...*fakeAccount) (*FanoutEngine, *SessionPool) {
	auth := &fakeAuthenticator{accounts: map[string]*fakeAccount{}}
	creds := &memCredentials{}
	for _, a := range accounts {
		a.trace = tr
		auth.accounts[a.name] = a
		creds.secrets = append(creds.secrets, a.name)
	}
	pool := NewSessionPool(auth, creds, discardLogger())
	list, _ := creds.ListActive(context.Background())
	pool.StartAll(context.Background(), list)

	engine := NewFanoutEngine(pool, log, FanoutConfig{}, nil, discardLogger())
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		tr.add("sleep %s", d)
		return ctx.Err()
	}
	return engine, pool
}
