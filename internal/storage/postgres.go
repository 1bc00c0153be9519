package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"RealmLedger/internal/model"
)

// PostgresOptions configures the connection pool.
type PostgresOptions struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Postgres stores accounts in PostgreSQL through a pgx pool.
type Postgres struct {
	opts PostgresOptions
	pool *pgxpool.Pool
}

func NewPostgres(opts PostgresOptions) *Postgres {
	return &Postgres{opts: opts}
}

func (p *Postgres) Name() string { return "postgres" }

// Initialize connects the pool, pings the server and creates the schema.
func (p *Postgres) Initialize(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(p.opts.DSN)
	if err != nil {
		return fmt.Errorf("unable to parse database URL: %w", err)
	}
	if p.opts.MaxConns > 0 {
		cfg.MaxConns = p.opts.MaxConns
	}
	if p.opts.MinConns > 0 {
		cfg.MinConns = p.opts.MinConns
	}
	if p.opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = p.opts.MaxConnLifetime
	}
	if p.opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = p.opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	p.pool = pool

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id         UUID PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			first_seen BIGINT NOT NULL DEFAULT 0,
			last_seen  BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			account_id     UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			currency       TEXT NOT NULL,
			balance        NUMERIC(24,2) NOT NULL DEFAULT 0,
			sent           NUMERIC(24,2) NOT NULL DEFAULT 0,
			received       NUMERIC(24,2) NOT NULL DEFAULT 0,
			sent_today     INTEGER NOT NULL DEFAULT 0,
			requests_today INTEGER NOT NULL DEFAULT 0,
			last_transfer  BIGINT NOT NULL DEFAULT 0,
			last_request   BIGINT NOT NULL DEFAULT 0,
			reset_date     TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account_id, currency)
		)`,
	}
	for _, st := range stmts {
		if _, err := pool.Exec(ctx, st); err != nil {
			pool.Close()
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Println("[INFO] postgres storage connected")
	return nil
}

func (p *Postgres) Load(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	acct := &model.Account{ID: id, Wallets: make(map[model.Currency]*model.Wallet)}
	var first, last int64
	err := p.pool.QueryRow(ctx,
		`SELECT name, first_seen, last_seen FROM accounts WHERE id = $1`, id,
	).Scan(&acct.Name, &first, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	acct.FirstSeen, acct.LastSeen = fromMillis(first), fromMillis(last)

	rows, err := p.pool.Query(ctx, `SELECT currency, balance::text, sent::text, received::text,
		sent_today, requests_today, last_transfer, last_request, reset_date
		FROM wallets WHERE account_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("load wallets %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cur, bal, sent, recv, reset string
			w                           model.Wallet
			sentToday, reqToday         int32
			lt, lr                      int64
		)
		if err := rows.Scan(&cur, &bal, &sent, &recv, &sentToday, &reqToday, &lt, &lr, &reset); err != nil {
			return nil, fmt.Errorf("scan wallet %s: %w", id, err)
		}
		if err := parseAmounts(&w, bal, sent, recv); err != nil {
			return nil, fmt.Errorf("wallet %s/%s: %w", id, cur, err)
		}
		w.SentToday, w.RequestsToday = int(sentToday), int(reqToday)
		w.LastTransfer, w.LastRequest, w.ResetDate = fromMillis(lt), fromMillis(lr), reset
		acct.Wallets[model.Currency(cur)] = &w
	}
	return acct, rows.Err()
}

func (p *Postgres) Save(ctx context.Context, acct *model.Account) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO accounts (id, name, first_seen, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
			first_seen = EXCLUDED.first_seen, last_seen = EXCLUDED.last_seen`,
		acct.ID, acct.Name, millis(acct.FirstSeen), millis(acct.LastSeen),
	); err != nil {
		return fmt.Errorf("save account %s: %w", acct.ID, err)
	}

	batch := &pgx.Batch{}
	for cur, w := range acct.Wallets {
		batch.Queue(`INSERT INTO wallets
			(account_id, currency, balance, sent, received, sent_today, requests_today,
			 last_transfer, last_request, reset_date)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8, $9, $10)
			ON CONFLICT (account_id, currency) DO UPDATE SET
				balance = EXCLUDED.balance, sent = EXCLUDED.sent, received = EXCLUDED.received,
				sent_today = EXCLUDED.sent_today, requests_today = EXCLUDED.requests_today,
				last_transfer = EXCLUDED.last_transfer, last_request = EXCLUDED.last_request,
				reset_date = EXCLUDED.reset_date`,
			acct.ID, string(cur), w.Balance.String(), w.Sent.String(), w.Received.String(),
			int32(w.SentToday), int32(w.RequestsToday), millis(w.LastTransfer), millis(w.LastRequest), w.ResetDate,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save wallets %s: %w", acct.ID, err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	if err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return ok, nil
}

func (p *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) IDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return ids, nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
