package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"RealmLedger/internal/model"
)

// SQLite stores accounts in a local SQLite database.
type SQLite struct {
	Path string
	db   *sql.DB
	mu   sync.Mutex
}

func NewSQLite(path string) *SQLite {
	return &SQLite{Path: path}
}

func (s *SQLite) Name() string { return "sqlite" }

// Initialize opens (or creates) the database and runs migrations.
func (s *SQLite) Initialize(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}
	s.db = db
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	log.Printf("[INFO] sqlite storage opened: %s", s.Path)
	return nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			first_seen INTEGER NOT NULL DEFAULT 0,
			last_seen  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			account_id     TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			currency       TEXT NOT NULL,
			balance        TEXT NOT NULL DEFAULT '0',
			sent           TEXT NOT NULL DEFAULT '0',
			received       TEXT NOT NULL DEFAULT '0',
			sent_today     INTEGER NOT NULL DEFAULT 0,
			requests_today INTEGER NOT NULL DEFAULT 0,
			last_transfer  INTEGER NOT NULL DEFAULT 0,
			last_request   INTEGER NOT NULL DEFAULT 0,
			reset_date     TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account_id, currency)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_name ON accounts(name)`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	acct := &model.Account{ID: id, Wallets: make(map[model.Currency]*model.Wallet)}
	var first, last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, first_seen, last_seen FROM accounts WHERE id = ?`, id.String(),
	).Scan(&acct.Name, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	acct.FirstSeen, acct.LastSeen = fromMillis(first), fromMillis(last)

	rows, err := s.db.QueryContext(ctx, `SELECT currency, balance, sent, received,
		sent_today, requests_today, last_transfer, last_request, reset_date
		FROM wallets WHERE account_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load wallets %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cur, bal, sent, recv, reset string
			w                           model.Wallet
			lt, lr                      int64
		)
		if err := rows.Scan(&cur, &bal, &sent, &recv, &w.SentToday, &w.RequestsToday, &lt, &lr, &reset); err != nil {
			return nil, fmt.Errorf("scan wallet %s: %w", id, err)
		}
		if err := parseAmounts(&w, bal, sent, recv); err != nil {
			return nil, fmt.Errorf("wallet %s/%s: %w", id, cur, err)
		}
		w.LastTransfer, w.LastRequest, w.ResetDate = fromMillis(lt), fromMillis(lr), reset
		acct.Wallets[model.Currency(cur)] = &w
	}
	return acct, rows.Err()
}

// Save upserts the account and all of its wallets in one transaction.
func (s *SQLite) Save(ctx context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO accounts (id, name, first_seen, last_seen)
		VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			first_seen = excluded.first_seen, last_seen = excluded.last_seen`,
		acct.ID.String(), acct.Name, millis(acct.FirstSeen), millis(acct.LastSeen),
	); err != nil {
		return fmt.Errorf("save account %s: %w", acct.ID, err)
	}

	for cur, w := range acct.Wallets {
		if _, err := tx.ExecContext(ctx, `INSERT INTO wallets
			(account_id, currency, balance, sent, received, sent_today, requests_today,
			 last_transfer, last_request, reset_date)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(account_id, currency) DO UPDATE SET
				balance = excluded.balance, sent = excluded.sent, received = excluded.received,
				sent_today = excluded.sent_today, requests_today = excluded.requests_today,
				last_transfer = excluded.last_transfer, last_request = excluded.last_request,
				reset_date = excluded.reset_date`,
			acct.ID.String(), string(cur), w.Balance.String(), w.Sent.String(), w.Received.String(),
			w.SentToday, w.RequestsToday, millis(w.LastTransfer), millis(w.LastRequest), w.ResetDate,
		); err != nil {
			return fmt.Errorf("save wallet %s/%s: %w", acct.ID, cur, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM accounts WHERE id = ?`, id.String()).Scan(&n); err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLite) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wallets WHERE account_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete wallets %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) IDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Printf("[WARN] sqlite: skipping malformed account id %q", raw)
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Backup writes a consistent copy of the database with VACUUM INTO.
func (s *SQLite) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	dest := filepath.Join(dir, "economy-"+time.Now().Format("20060102-150405")+".db")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return dest, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	log.Println("[INFO] closing sqlite storage")
	return s.db.Close()
}

func parseAmounts(w *model.Wallet, bal, sent, recv string) error {
	var err error
	if w.Balance, err = decimal.NewFromString(bal); err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	if w.Sent, err = decimal.NewFromString(sent); err != nil {
		return fmt.Errorf("sent: %w", err)
	}
	if w.Received, err = decimal.NewFromString(recv); err != nil {
		return fmt.Errorf("received: %w", err)
	}
	return nil
}
