// Package redisstore keeps credentials and the action log in Redis.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"session_broadcaster_bot/internal/domain/credential"
	"session_broadcaster_bot/internal/domain/dispatch"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "broadcaster:"

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// appendScript adds ARGV[1] to the list once and returns its position.
var appendScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
	return redis.call('RPUSH', KEYS[1], ARGV[1]) - 1
end
return redis.call('LPOS', KEYS[1], ARGV[1])
`)

// Credentials stores secrets in a list (order) guarded by a set (uniqueness).
type Credentials struct {
	rdb     redis.UniversalClient
	listKey string
	setKey  string
}

func NewCredentials(rdb redis.UniversalClient, prefix string) *Credentials {
	return &Credentials{
		rdb:     rdb,
		listKey: prefix + "sessions",
		setKey:  prefix + "sessions:set",
	}
}

func (c *Credentials) ListActive(ctx context.Context) ([]*credential.Credential, error) {
	secrets, err := c.rdb.LRange(ctx, c.listKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("error listing sessions: %w", err)
	}
	creds := make([]*credential.Credential, 0, len(secrets))
	for i, s := range secrets {
		creds = append(creds, &credential.Credential{ID: int64(i + 1), Secret: s, Active: true, Position: i})
	}
	return creds, nil
}

func (c *Credentials) Append(ctx context.Context, secret string) (*credential.Credential, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: empty session string", credential.ErrPersistence)
	}
	pos, err := appendScript.Run(ctx, c.rdb, []string{c.listKey, c.setKey}, secret).Int()
	if err != nil {
		return nil, fmt.Errorf("%w: error appending session: %w", credential.ErrPersistence, err)
	}
	return &credential.Credential{ID: int64(pos + 1), Secret: secret, Active: true, Position: pos}, nil
}

func (c *Credentials) CountActive(ctx context.Context) (int, error) {
	n, err := c.rdb.LLen(ctx, c.listKey).Result()
	if err != nil {
		return 0, fmt.Errorf("error counting sessions: %w", err)
	}
	return int(n), nil
}

// ActionLog keeps dispatch and join records as set members.
type ActionLog struct {
	rdb           redis.UniversalClient
	dispatchesKey string
	joinsKey      string
}

func NewActionLog(rdb redis.UniversalClient, prefix string) *ActionLog {
	return &ActionLog{
		rdb:           rdb,
		dispatchesKey: prefix + "dispatches",
		joinsKey:      prefix + "joins",
	}
}

func dispatchMember(sessionIndex int, chatID int64) string {
	return strconv.Itoa(sessionIndex) + ":" + strconv.FormatInt(chatID, 10)
}

func (l *ActionLog) WasDispatched(ctx context.Context, sessionIndex int, chatID int64) (bool, error) {
	ok, err := l.rdb.SIsMember(ctx, l.dispatchesKey, dispatchMember(sessionIndex, chatID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: error checking dispatch record: %w", dispatch.ErrPersistence, err)
	}
	return ok, nil
}

// RecordDispatched stores the record. The kind is not kept; dedup is by
// (session index, chat id) only.
func (l *ActionLog) RecordDispatched(ctx context.Context, sessionIndex int, chatID int64, kind dispatch.Kind) error {
	if err := l.rdb.SAdd(ctx, l.dispatchesKey, dispatchMember(sessionIndex, chatID)).Err(); err != nil {
		return fmt.Errorf("%w: error inserting dispatch record (S:%d, C:%d): %w", dispatch.ErrPersistence, sessionIndex, chatID, err)
	}
	return nil
}

func (l *ActionLog) WasJoined(ctx context.Context, link string) (bool, error) {
	ok, err := l.rdb.SIsMember(ctx, l.joinsKey, link).Result()
	if err != nil {
		return false, fmt.Errorf("%w: error checking join record: %w", dispatch.ErrPersistence, err)
	}
	return ok, nil
}

func (l *ActionLog) RecordJoined(ctx context.Context, link string) error {
	if err := l.rdb.SAdd(ctx, l.joinsKey, link).Err(); err != nil {
		return fmt.Errorf("%w: error inserting join record: %w", dispatch.ErrPersistence, err)
	}
	return nil
}
