package database

import (
	"context"
	"database/sql"
	"fmt"

	"session_broadcaster_bot/internal/domain/dispatch"
)

// SQLActionLog keeps dispatch and join records in the dispatches and joins
// tables. Every write is a committed single-statement insert.
type SQLActionLog struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLActionLog(db *sql.DB, dialect Dialect) *SQLActionLog {
	return &SQLActionLog{db: db, dialect: dialect}
}

func (l *SQLActionLog) WasDispatched(ctx context.Context, sessionIndex int, chatID int64) (bool, error) {
	query := l.dialect.bind(`SELECT EXISTS (SELECT 1 FROM dispatches WHERE session_idx = $1 AND chat_id = $2)`)
	var found bool
	if err := l.db.QueryRowContext(ctx, query, sessionIndex, chatID).Scan(&found); err != nil {
		return false, fmt.Errorf("%w: error checking dispatch record: %w", dispatch.ErrPersistence, err)
	}
	return found, nil
}

func (l *SQLActionLog) RecordDispatched(ctx context.Context, sessionIndex int, chatID int64, kind dispatch.Kind) error {
	query := l.dialect.bind(`INSERT INTO dispatches (session_idx, chat_id, type)
               VALUES ($1, $2, $3)
               ON CONFLICT (session_idx, chat_id) DO NOTHING`)
	if _, err := l.db.ExecContext(ctx, query, sessionIndex, chatID, string(kind)); err != nil {
		return fmt.Errorf("%w: error inserting dispatch record (S:%d, C:%d): %w", dispatch.ErrPersistence, sessionIndex, chatID, err)
	}
	return nil
}

func (l *SQLActionLog) WasJoined(ctx context.Context, link string) (bool, error) {
	query := l.dialect.bind(`SELECT EXISTS (SELECT 1 FROM joins WHERE link = $1)`)
	var found bool
	if err := l.db.QueryRowContext(ctx, query, link).Scan(&found); err != nil {
		return false, fmt.Errorf("%w: error checking join record: %w", dispatch.ErrPersistence, err)
	}
	return found, nil
}

func (l *SQLActionLog) RecordJoined(ctx context.Context, link string) error {
	query := l.dialect.bind(`INSERT INTO joins (link) VALUES ($1) ON CONFLICT (link) DO NOTHING`)
	if _, err := l.db.ExecContext(ctx, query, link); err != nil {
		return fmt.Errorf("%w: error inserting join record: %w", dispatch.ErrPersistence, err)
	}
	return nil
}
