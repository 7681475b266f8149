// Package storage opens the credential store and action log for the
// configured driver.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"session_broadcaster_bot/internal/domain/credential"
	"session_broadcaster_bot/internal/domain/dispatch"
	"session_broadcaster_bot/internal/infra/config"
	"session_broadcaster_bot/internal/infra/database"
	"session_broadcaster_bot/internal/infra/filestore"
	"session_broadcaster_bot/internal/infra/redisstore"
)

// Backend is an opened pair of stores sharing one connection.
type Backend struct {
	Driver      string
	Credentials credential.Repository
	ActionLog   dispatch.Log

	closers []func() error
}

// Open connects to the backend selected by cfg.StorageDriver. SQL schemas
// are applied before returning.
func Open(ctx context.Context, cfg *config.AppConfig) (*Backend, error) {
	b := &Backend{Driver: cfg.StorageDriver}

	switch cfg.StorageDriver {
	case config.DriverFile:
		journal, err := filestore.OpenActionJournal(cfg.ActionLogFile)
		if err != nil {
			return nil, err
		}
		b.Credentials = filestore.NewCredentialFile(cfg.StringsFile)
		b.ActionLog = journal
		b.closers = append(b.closers, journal.Close)

	case config.DriverPostgres, config.DriverSQLite:
		dialect := database.Postgres
		open := func() (*sql.DB, error) { return database.NewPostgresConnection(cfg.DatabaseURL) }
		if cfg.StorageDriver == config.DriverSQLite {
			dialect = database.SQLite
			open = func() (*sql.DB, error) { return database.NewSQLiteConnection(cfg.SQLitePath) }
		}
		db, err := open()
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db, dialect); err != nil {
			db.Close()
			return nil, err
		}
		b.Credentials = database.NewSQLCredentialRepository(db, dialect)
		b.ActionLog = database.NewSQLActionLog(db, dialect)
		b.closers = append(b.closers, db.Close)

	case config.DriverRedis:
		rdb, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		b.Credentials = redisstore.NewCredentials(rdb, redisstore.DefaultPrefix)
		b.ActionLog = redisstore.NewActionLog(rdb, redisstore.DefaultPrefix)
		b.closers = append(b.closers, rdb.Close)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	return b, nil
}

func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
