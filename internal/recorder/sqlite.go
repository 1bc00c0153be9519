package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists economy history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while the ledger writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS economy_snapshots (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			accounts  INTEGER NOT NULL,
			currency  TEXT NOT NULL,
			supply    TEXT NOT NULL,
			tax_sunk  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON economy_snapshots(timestamp)`,

		`CREATE TABLE IF NOT EXISTS migrations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			started     INTEGER NOT NULL,
			finished    INTEGER NOT NULL,
			source      TEXT NOT NULL,
			destination TEXT NOT NULL,
			total       INTEGER NOT NULL,
			migrated    INTEGER NOT NULL,
			skipped     INTEGER NOT NULL,
			backup_path TEXT,
			error       TEXT
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordSnapshot writes one row per currency in a single transaction.
func (r *SQLiteRecorder) RecordSnapshot(snap *EconomySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ts := snap.Taken.Unix()
	for _, c := range snap.Currencies {
		if _, err := tx.Exec(`INSERT INTO economy_snapshots
			(timestamp, accounts, currency, supply, tax_sunk)
			VALUES (?,?,?,?,?)`,
			ts, snap.Accounts, c.Currency, c.Supply.StringFixed(2), c.TaxSunk.StringFixed(2),
		); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", c.Currency, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecordMigration(run *MigrationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO migrations
		(started, finished, source, destination, total, migrated, skipped, backup_path, error)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		run.Started.Unix(), run.Finished.Unix(), run.Source, run.Destination,
		run.Total, run.Migrated, run.Skipped, run.BackupPath, run.Error,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
