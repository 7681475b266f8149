package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"session_broadcaster_bot/internal/app"
	"session_broadcaster_bot/internal/domain/credential"
	"session_broadcaster_bot/internal/domain/dispatch"
	domain "session_broadcaster_bot/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const adminID = 1001

// fakeContext implements the parts of telebot.Context the handlers use.
type fakeContext struct {
	telebot.Context
	sender *telebot.User
	msg    *telebot.Message
	sent   []string
}

func newContext(from int64, text string) *fakeContext {
	msg := &telebot.Message{Text: text}
	if _, rest, ok := strings.Cut(text, " "); ok {
		msg.Payload = rest
	}
	return &fakeContext{sender: &telebot.User{ID: from}, msg: msg}
}

func (f *fakeContext) Sender() *telebot.User     { return f.sender }
func (f *fakeContext) Message() *telebot.Message { return f.msg }
func (f *fakeContext) Text() string              { return f.msg.Text }

func (f *fakeContext) Send(what interface{}, opts ...interface{}) error {
	f.sent = append(f.sent, fmt.Sprint(what))
	return nil
}

func (f *fakeContext) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeAccount struct {
	mu       sync.Mutex
	identity domain.Identity
	selfErr  error
	dialogs  []domain.Dialog
	messages []string
	joins    int
}

func (a *fakeAccount) Self(ctx context.Context) (domain.Identity, error) {
	return a.identity, a.selfErr
}

func (a *fakeAccount) Dialogs(ctx context.Context, fn func(domain.Dialog) error) error {
	for _, d := range a.dialogs {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (a *fakeAccount) SendMessage(ctx context.Context, chatID int64, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, text)
	return nil
}

func (a *fakeAccount) JoinLink(ctx context.Context, link string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joins++
	return nil
}

func (a *fakeAccount) LeaveLink(ctx context.Context, link string) error { return nil }
func (a *fakeAccount) Close() error                                     { return nil }

type fakeAuth map[string]*fakeAccount

func (f fakeAuth) Authenticate(ctx context.Context, secret string) (domain.Account, error) {
	if acc, ok := f[secret]; ok {
		return acc, nil
	}
	return nil, errors.New("AUTH_KEY_UNREGISTERED")
}

type memCreds struct{ secrets []string }

func (m *memCreds) ListActive(ctx context.Context) ([]*credential.Credential, error) {
	out := make([]*credential.Credential, 0, len(m.secrets))
	for i, s := range m.secrets {
		out = append(out, &credential.Credential{Secret: s, Active: true, Position: i})
	}
	return out, nil
}

func (m *memCreds) Append(ctx context.Context, secret string) (*credential.Credential, error) {
	for i, s := range m.secrets {
		if s == secret {
			return &credential.Credential{Secret: s, Active: true, Position: i}, nil
		}
	}
	m.secrets = append(m.secrets, secret)
	return &credential.Credential{Secret: secret, Active: true, Position: len(m.secrets) - 1}, nil
}

func (m *memCreds) CountActive(ctx context.Context) (int, error) { return len(m.secrets), nil }

type memLog struct {
	dispatched map[string]bool
	joined     map[string]bool
}

func (m *memLog) WasDispatched(ctx context.Context, idx int, chatID int64) (bool, error) {
	return m.dispatched[fmt.Sprint(idx, ":", chatID)], nil
}

func (m *memLog) RecordDispatched(ctx context.Context, idx int, chatID int64, kind dispatch.Kind) error {
	m.dispatched[fmt.Sprint(idx, ":", chatID)] = true
	return nil
}

func (m *memLog) WasJoined(ctx context.Context, link string) (bool, error) { return m.joined[link], nil }

func (m *memLog) RecordJoined(ctx context.Context, link string) error {
	m.joined[link] = true
	return nil
}

type recordingObserver struct{ seen []string }

func (o *recordingObserver) ObserveCommand(command string, authorized bool) {
	o.seen = append(o.seen, fmt.Sprintf("%s:%t", command, authorized))
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fixture struct {
	service  *app.AdminService
	handlers *AdminHandlers
	auth     fakeAuth
	creds    *memCreds
}

// newFixture starts one session per account, keyed by secret.
func newFixture(t *testing.T, accounts map[string]*fakeAccount, secrets ...string) *fixture {
	t.Helper()
	if accounts == nil {
		accounts = map[string]*fakeAccount{}
	}
	auth := fakeAuth(accounts)
	creds := &memCreds{secrets: secrets}
	pool := app.NewSessionPool(auth, creds, discardLogger())
	list, _ := creds.ListActive(context.Background())
	pool.StartAll(context.Background(), list)

	log := &memLog{dispatched: map[string]bool{}, joined: map[string]bool{}}
	engine := app.NewFanoutEngine(pool, log, app.FanoutConfig{SendDelay: time.Nanosecond, JoinDelay: time.Nanosecond}, nil, discardLogger())
	service := app.NewAdminService(pool, engine, creds, adminID)
	return &fixture{
		service:  service,
		handlers: NewAdminHandlers(context.Background(), service, discardLogger()),
		auth:     auth,
		creds:    creds,
	}
}

func TestAdminOnlyRejectsOtherSenders(t *testing.T) {
	acc := &fakeAccount{dialogs: []domain.Dialog{{ID: -5, Kind: domain.ChatGroup}}}
	f := newFixture(t, map[string]*fakeAccount{"A": acc}, "A")
	obs := &recordingObserver{}
	guard := AdminOnly(f.service, obs, discardLogger())

	commands := map[string]telebot.HandlerFunc{
		"/group hi":            f.handlers.Group,
		"/user hi":             f.handlers.User,
		"/join t.me/x":         f.handlers.Join,
		"/leave t.me/x":        f.handlers.Leave,
		"/status":              f.handlers.Status,
		"/add_session A":       f.handlers.AddSession,
		"/list_sessions@mybot": f.handlers.ListSessions,
	}
	for text, h := range commands {
		c := newContext(7, text)
		if err := guard(h)(c); err != nil {
			t.Fatalf("%s: %v", text, err)
		}
		if len(c.sent) != 1 || c.sent[0] != UnauthorizedReply {
			t.Fatalf("%s: expected only the rejection reply, got %q", text, c.sent)
		}
	}
	if len(acc.messages) != 0 || acc.joins != 0 {
		t.Fatal("rejected commands must not reach any account")
	}
	if len(obs.seen) != len(commands) {
		t.Fatalf("expected %d observations, got %v", len(commands), obs.seen)
	}
	for _, s := range obs.seen {
		if !strings.HasSuffix(s, ":false") {
			t.Fatalf("unexpected observation %q", s)
		}
	}
}

func TestAdminOnlyPassesAdmin(t *testing.T) {
	f := newFixture(t, nil)
	obs := &recordingObserver{}
	called := false
	h := AdminOnly(f.service, obs, discardLogger())(func(c telebot.Context) error {
		called = true
		return nil
	})

	if err := h(newContext(adminID, "/status@mybot")); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("admin command must reach the handler")
	}
	if len(obs.seen) != 1 || obs.seen[0] != "/status:true" {
		t.Fatalf("unexpected observations %v", obs.seen)
	}
}

func TestMissingArgumentsGetUsage(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		text  string
		h     telebot.HandlerFunc
		usage string
	}{
		{"/group", f.handlers.Group, usageGroup},
		{"/user    ", f.handlers.User, usageUser},
		{"/join", f.handlers.Join, usageJoin},
		{"/leave", f.handlers.Leave, usageLeave},
		{"/add_session", f.handlers.AddSession, usageAddSession},
	}
	for _, tt := range tests {
		c := newContext(adminID, tt.text)
		if err := tt.h(c); err != nil {
			t.Fatalf("%s: %v", tt.text, err)
		}
		if len(c.sent) != 1 || c.sent[0] != tt.usage {
			t.Fatalf("%s: expected usage reply, got %q", tt.text, c.sent)
		}
	}
	if n, _ := f.creds.CountActive(context.Background()); n != 0 {
		t.Fatal("usage replies must not touch the store")
	}
}

func TestGroupBroadcastPreservesMessageAndReportsCounts(t *testing.T) {
	acc := &fakeAccount{dialogs: []domain.Dialog{
		{ID: -5, Kind: domain.ChatGroup},
		{ID: -1000000000009, Kind: domain.ChatSupergroup},
		{ID: 77, Kind: domain.ChatPrivate},
	}}
	f := newFixture(t, map[string]*fakeAccount{"A": acc}, "A")

	c := newContext(adminID, "/group hello   world")
	if err := f.handlers.Group(c); err != nil {
		t.Fatal(err)
	}
	if c.sent[0] != progressGroup {
		t.Fatalf("expected progress reply first, got %q", c.sent[0])
	}
	if !strings.Contains(c.last(), "Sent: 2 | Failed: 0") {
		t.Fatalf("unexpected result reply %q", c.last())
	}
	if len(acc.messages) != 2 || acc.messages[0] != "hello   world" {
		t.Fatalf("unexpected messages %q", acc.messages)
	}

	again := newContext(adminID, "/group hello   world")
	if err := f.handlers.Group(again); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(again.last(), "Already sent: 2") {
		t.Fatalf("expected skipped count, got %q", again.last())
	}
	if len(acc.messages) != 2 {
		t.Fatal("second broadcast must not resend")
	}
}

func TestJoinReportsAlreadyProcessed(t *testing.T) {
	acc := &fakeAccount{}
	f := newFixture(t, map[string]*fakeAccount{"A": acc}, "A")

	first := newContext(adminID, "/join https://t.me/+abc extra")
	if err := f.handlers.Join(first); err != nil {
		t.Fatal(err)
	}
	if first.sent[0] != progressJoin("https://t.me/+abc") {
		t.Fatalf("unexpected progress reply %q", first.sent[0])
	}
	if !strings.Contains(first.last(), "Joined: 1") {
		t.Fatalf("unexpected join reply %q", first.last())
	}

	second := newContext(adminID, "/join https://t.me/+abc")
	if err := f.handlers.Join(second); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(second.last(), "already processed") {
		t.Fatalf("expected already processed reply, got %q", second.last())
	}
	if acc.joins != 1 {
		t.Fatalf("expected a single join call, got %d", acc.joins)
	}
}

func TestStatusAndListSessions(t *testing.T) {
	good := &fakeAccount{identity: domain.Identity{ID: 11, FirstName: "Ann"}}
	bad := &fakeAccount{identity: domain.Identity{ID: 12, FirstName: "Bob", Username: "bob"}}
	f := newFixture(t, map[string]*fakeAccount{"A": good, "B": bad}, "A", "B")
	bad.selfErr = errors.New("timeout")

	status := newContext(adminID, "/status")
	if err := f.handlers.Status(status); err != nil {
		t.Fatal(err)
	}
	want := "📊 Total Sessions: 2\n\n1. Ann (@no_username)\n2. ❌ Error fetching"
	if status.last() != want {
		t.Fatalf("status = %q, want %q", status.last(), want)
	}

	list := newContext(adminID, "/list_sessions")
	if err := f.handlers.ListSessions(list); err != nil {
		t.Fatal(err)
	}
	want = "🔎 Connected: 2 | Saved: 2\n\n1. Ann (@no_username) — 11\n2. ❌ Failed to fetch info"
	if list.last() != want {
		t.Fatalf("list = %q, want %q", list.last(), want)
	}
}

func TestAddSession(t *testing.T) {
	f := newFixture(t, nil)
	f.auth["NEW"] = &fakeAccount{identity: domain.Identity{ID: 5, FirstName: "Neo"}}

	bad := newContext(adminID, "/add_session WRONG")
	if err := f.handlers.AddSession(bad); err != nil {
		t.Fatal(err)
	}
	if bad.sent[0] != progressAddSession || !strings.HasPrefix(bad.last(), "❌ Error adding session") {
		t.Fatalf("unexpected replies %q", bad.sent)
	}
	if n, _ := f.creds.CountActive(context.Background()); n != 0 {
		t.Fatal("failed add must not persist")
	}

	good := newContext(adminID, "/add_session   NEW  ")
	if err := f.handlers.AddSession(good); err != nil {
		t.Fatal(err)
	}
	if good.last() != "✅ Added new session:\n• Neo (@no_username)" {
		t.Fatalf("unexpected reply %q", good.last())
	}

	dup := newContext(adminID, "/add_session NEW")
	if err := f.handlers.AddSession(dup); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(dup.last(), "already connected") {
		t.Fatalf("unexpected reply %q", dup.last())
	}
}

func TestStartIsOpenToEveryone(t *testing.T) {
	c := newContext(7, "/start")
	if err := StartHandler(discardLogger())(c); err != nil {
		t.Fatal(err)
	}
	if len(c.sent) != 1 || !strings.Contains(c.sent[0], "/list_sessions") {
		t.Fatalf("unexpected start reply %q", c.sent)
	}
}

type fakeSender struct {
	to   []telebot.Recipient
	sent []string
}

func (f *fakeSender) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.to = append(f.to, to)
	f.sent = append(f.sent, fmt.Sprint(what))
	return &telebot.Message{}, nil
}

func TestNotifyStartup(t *testing.T) {
	s := &fakeSender{}
	n := NewAdminNotifier(s, adminID)

	err := n.NotifyStartup(2, []app.StartFailure{{Position: 1, Err: errors.New("AUTH_KEY_UNREGISTERED")}})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.sent) != 1 || s.to[0].Recipient() != fmt.Sprint(adminID) {
		t.Fatalf("unexpected notification: %v %q", s.to, s.sent)
	}
	want := "🤖 Bot is running. Started 2 session(s).\n❌ Session 2 failed: AUTH_KEY_UNREGISTERED"
	if s.sent[0] != want {
		t.Fatalf("report = %q, want %q", s.sent[0], want)
	}
}
