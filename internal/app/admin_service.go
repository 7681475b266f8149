package app

import (
	"context"
	"errors"
	"fmt"

	"session_broadcaster_bot/internal/domain/credential"
	"session_broadcaster_bot/internal/domain/dispatch"
	"session_broadcaster_bot/internal/domain/telegram"
)

// ErrUnauthorized is returned for commands sent by anyone but the administrator.
var ErrUnauthorized = errors.New("performing user is not authorized as an admin")

// AdminService is the single entry point of the command surface.
type AdminService struct {
	pool            *SessionPool
	engine          *FanoutEngine
	creds           credential.Repository
	adminTelegramID int64
}

func NewAdminService(pool *SessionPool, engine *FanoutEngine, creds credential.Repository, adminID int64) *AdminService {
	return &AdminService{
		pool:            pool,
		engine:          engine,
		creds:           creds,
		adminTelegramID: adminID,
	}
}

// Authorize is the only authorization check; it guards every command but /start.
func (s *AdminService) Authorize(performingUserID int64) error {
	if performingUserID != s.adminTelegramID {
		return ErrUnauthorized
	}
	return nil
}

func (s *AdminService) BroadcastGroups(ctx context.Context, message string) (Result, error) {
	return s.engine.Broadcast(ctx, dispatch.KindGroupBroadcast, message)
}

func (s *AdminService) BroadcastUsers(ctx context.Context, message string) (Result, error) {
	return s.engine.Broadcast(ctx, dispatch.KindUserBroadcast, message)
}

func (s *AdminService) Join(ctx context.Context, link string) (Result, error) {
	return s.engine.Join(ctx, link)
}

func (s *AdminService) Leave(ctx context.Context, link string) (Result, error) {
	return s.engine.Leave(ctx, link)
}

func (s *AdminService) Status(ctx context.Context) []StatusLine {
	return s.engine.Status(ctx)
}

// AddSession authenticates and persists a new credential and returns the
// identity of the new session.
func (s *AdminService) AddSession(ctx context.Context, secret string) (int, telegram.Identity, error) {
	sess, err := s.pool.Add(ctx, secret)
	if err != nil {
		return 0, telegram.Identity{}, err
	}
	id, _ := sess.Identity()
	return sess.Index, id, nil
}

// SessionListing is the /list_sessions view: live identities plus the
// persisted credential count.
type SessionListing struct {
	Lines []StatusLine
	Saved int
}

// ListSessions never fails because of a single identity fetch; only a
// failure to count persisted credentials is returned.
func (s *AdminService) ListSessions(ctx context.Context) (SessionListing, error) {
	listing := SessionListing{Lines: s.engine.Status(ctx)}
	saved, err := s.creds.CountActive(ctx)
	if err != nil {
		return listing, fmt.Errorf("failed to count saved sessions: %w", err)
	}
	listing.Saved = saved
	return listing, nil
}
