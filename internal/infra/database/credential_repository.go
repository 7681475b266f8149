package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"session_broadcaster_bot/internal/domain/credential"
)

// SQLCredentialRepository stores credentials in the sessions table.
type SQLCredentialRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLCredentialRepository(db *sql.DB, dialect Dialect) *SQLCredentialRepository {
	return &SQLCredentialRepository{db: db, dialect: dialect}
}

func (r *SQLCredentialRepository) ListActive(ctx context.Context) ([]*credential.Credential, error) {
	query := `SELECT s.id, s.session, s.active,
	                 (SELECT COUNT(*) FROM sessions p WHERE p.id < s.id)
	          FROM sessions s
	          WHERE s.active = TRUE
	          ORDER BY s.id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing active sessions: %w", err)
	}
	defer rows.Close()

	creds := make([]*credential.Credential, 0)
	for rows.Next() {
		c := &credential.Credential{}
		if err := rows.Scan(&c.ID, &c.Secret, &c.Active, &c.Position); err != nil {
			return nil, fmt.Errorf("error scanning session row: %w", err)
		}
		creds = append(creds, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return creds, nil
}

// Append upserts secret as active and returns it with its position among
// all stored rows, so a reactivated secret gets its old position back.
func (r *SQLCredentialRepository) Append(ctx context.Context, secret string) (*credential.Credential, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: empty session string", credential.ErrPersistence)
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", credential.ErrPersistence, err)
	}
	defer txn.Rollback() // Rollback if not committed

	c := &credential.Credential{Secret: secret, Active: true}
	upsert := r.dialect.bind(`INSERT INTO sessions (session, active)
               VALUES ($1, TRUE)
               ON CONFLICT (session) DO UPDATE SET active = TRUE
               RETURNING id`)
	if err := txn.QueryRowContext(ctx, upsert, secret).Scan(&c.ID); err != nil {
		return nil, fmt.Errorf("%w: error upserting session: %w", credential.ErrPersistence, err)
	}

	position := r.dialect.bind(`SELECT COUNT(*) FROM sessions WHERE id < $1`)
	if err := txn.QueryRowContext(ctx, position, c.ID).Scan(&c.Position); err != nil {
		return nil, fmt.Errorf("%w: error computing session position: %w", credential.ErrPersistence, err)
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit session: %w", credential.ErrPersistence, err)
	}
	return c, nil
}

func (r *SQLCredentialRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE active = TRUE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting active sessions: %w", err)
	}
	return n, nil
}
