package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"RealmLedger/internal/config"
	"RealmLedger/internal/model"
)

var (
	// ErrNotFound is returned by Load when no record exists for the id.
	ErrNotFound = errors.New("account not found")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Backend persists accounts. Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	Initialize(ctx context.Context) error
	Load(ctx context.Context, id uuid.UUID) (*model.Account, error)
	Save(ctx context.Context, acct *model.Account) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	IDs(ctx context.Context) ([]uuid.UUID, error)
	Close() error
}

// Backupper is implemented by backends that can copy their own data natively.
// Backup returns the path (or location) of the copy it made.
type Backupper interface {
	Backup(ctx context.Context, dir string) (string, error)
}

// Open builds the backend named by driver. Initialize must still be called.
func Open(driver string, cfg config.StorageConfig) (Backend, error) {
	switch driver {
	case "flatfile":
		return NewFlatFile(cfg.FlatFileDir), nil
	case "sqlite":
		return NewSQLite(cfg.SQLitePath), nil
	case "postgres":
		p := cfg.Postgres
		return NewPostgres(PostgresOptions{
			DSN:             p.DSN,
			MaxConns:        p.MaxConns,
			MinConns:        p.MinConns,
			MaxConnLifetime: time.Duration(p.MaxConnLifetime) * time.Second,
			MaxConnIdleTime: time.Duration(p.MaxConnIdleTime) * time.Second,
		}), nil
	case "mongo":
		return NewMongo(cfg.Mongo.URI, cfg.Mongo.Database), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// millis stores a timestamp as unix milliseconds; the zero time is 0.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
