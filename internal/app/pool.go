package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"session_broadcaster_bot/internal/domain/credential"
	"session_broadcaster_bot/internal/domain/telegram"

	"github.com/sirupsen/logrus"
)

// Application-level errors for the session pool.
var (
	ErrAuthentication = errors.New("session authentication failed")
	ErrFetch          = errors.New("identity fetch failed")
	ErrSessionExists  = errors.New("session is already connected")
)

// Session is a live authenticated account with a stable pool index.
type Session struct {
	Index   int
	Account telegram.Account

	secret   string
	mu       sync.RWMutex
	identity telegram.Identity
	known    bool
}

// Identity returns the cached identity and whether it was ever fetched.
func (s *Session) Identity() (telegram.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.known
}

func (s *Session) setIdentity(id telegram.Identity) {
	s.mu.Lock()
	s.identity = id
	s.known = true
	s.mu.Unlock()
}

// StartFailure describes a persisted credential that could not be started.
type StartFailure struct {
	Position int
	Err      error
}

// SessionPool owns every live Session. Sessions are ordered by Index.
type SessionPool struct {
	auth        telegram.Authenticator
	creds       credential.Repository
	logger      *logrus.Entry
	callTimeout time.Duration

	mu       sync.RWMutex
	sessions []*Session
}

func NewSessionPool(auth telegram.Authenticator, creds credential.Repository, logger *logrus.Entry) *SessionPool {
	return &SessionPool{
		auth:        auth,
		creds:       creds,
		logger:      logger.WithField("component", "session_pool"),
		callTimeout: DefaultCallTimeout,
	}
}

// SetCallTimeout bounds every authentication and identity fetch.
// Non-positive values keep the default.
func (p *SessionPool) SetCallTimeout(d time.Duration) {
	if d > 0 {
		p.callTimeout = d
	}
}

// StartAll authenticates every credential in order. A failing credential is
// reported in failures and skipped; indices keep the credential position, so
// a skipped credential leaves a gap.
func (p *SessionPool) StartAll(ctx context.Context, creds []*credential.Credential) ([]*Session, []StartFailure) {
	var (
		started  []*Session
		failures []StartFailure
	)
	for _, c := range creds {
		logCtx := p.logger.WithField("session_idx", c.Position)
		if p.holds(c.Secret) {
			logCtx.Warn("Credential already connected, skipping")
			continue
		}
		s, err := p.authenticate(ctx, c.Position, c.Secret)
		if err != nil {
			logCtx.WithError(err).Error("Failed to start session")
			failures = append(failures, StartFailure{Position: c.Position, Err: err})
			continue
		}
		p.register(s)
		started = append(started, s)
		id, _ := s.Identity()
		logCtx.WithFields(logrus.Fields{
			"account_id": id.ID,
			"username":   id.Username,
		}).Info("Session started")
	}
	return started, failures
}

// Add authenticates secret, persists it, and only then registers it.
// A credential that fails authentication never reaches the store.
func (p *SessionPool) Add(ctx context.Context, secret string) (*Session, error) {
	if p.holds(secret) {
		return nil, ErrSessionExists
	}

	s, err := p.authenticate(ctx, -1, secret)
	if err != nil {
		return nil, err
	}

	c, err := p.creds.Append(ctx, secret)
	if err != nil {
		if closeErr := s.Account.Close(); closeErr != nil {
			p.logger.WithError(closeErr).Warn("Failed to close unpersisted session")
		}
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}
	s.Index = c.Position

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.sessions {
		if existing.secret == secret {
			// Lost a race with a concurrent Add of the same secret.
			_ = s.Account.Close()
			return nil, ErrSessionExists
		}
	}
	p.insertLocked(s)
	p.logger.WithField("session_idx", s.Index).Info("Session added")
	return s, nil
}

// Describe fetches the live identity of s and refreshes its cache.
func (p *SessionPool) Describe(ctx context.Context, s *Session) (telegram.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	id, err := s.Account.Self(ctx)
	if err != nil {
		return telegram.Identity{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	s.setIdentity(id)
	return id, nil
}

// RefreshIdentities re-fetches every cached identity. It returns the number
// of sessions whose refresh failed.
func (p *SessionPool) RefreshIdentities(ctx context.Context) int {
	failed := 0
	for _, s := range p.Sessions() {
		if _, err := p.Describe(ctx, s); err != nil {
			failed++
			p.logger.WithField("session_idx", s.Index).WithError(err).Warn("Identity refresh failed")
		}
	}
	return failed
}

// Sessions returns an ordered snapshot of the pool.
func (p *SessionPool) Sessions() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

func (p *SessionPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Close disconnects every session.
func (p *SessionPool) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = nil
	p.mu.Unlock()

	for _, s := range sessions {
		if err := s.Account.Close(); err != nil {
			p.logger.WithField("session_idx", s.Index).WithError(err).Warn("Failed to close session")
		}
	}
}

func (p *SessionPool) authenticate(ctx context.Context, index int, secret string) (*Session, error) {
	authCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	acc, err := p.auth.Authenticate(authCtx, secret)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	selfCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	id, err := acc.Self(selfCtx)
	cancel()
	if err != nil {
		_ = acc.Close()
		return nil, fmt.Errorf("%w: get self: %v", ErrAuthentication, err)
	}
	s := &Session{Index: index, Account: acc, secret: secret}
	s.setIdentity(id)
	return s, nil
}

func (p *SessionPool) holds(secret string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.sessions {
		if s.secret == secret {
			return true
		}
	}
	return false
}

func (p *SessionPool) register(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(s)
}

func (p *SessionPool) insertLocked(s *Session) {
	p.sessions = append(p.sessions, s)
	sort.SliceStable(p.sessions, func(i, j int) bool {
		return p.sessions[i].Index < p.sessions[j].Index
	})
}
