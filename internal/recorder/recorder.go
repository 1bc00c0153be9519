package recorder

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencySnapshot is the economy state of one currency at snapshot time.
type CurrencySnapshot struct {
	Currency string
	Supply   decimal.Decimal // sum of loaded balances
	TaxSunk  decimal.Decimal // tax removed since the previous snapshot
}

// EconomySnapshot holds one periodic snapshot.
type EconomySnapshot struct {
	Taken      time.Time
	Accounts   int
	Currencies []CurrencySnapshot
}

// MigrationRun records a backend migration.
type MigrationRun struct {
	Source      string
	Destination string
	Total       int
	Migrated    int
	Skipped     int
	BackupPath  string
	Error       string
	Started     time.Time
	Finished    time.Time
}

// Recorder persists aggregate history for analysis.
type Recorder interface {
	RecordSnapshot(snap *EconomySnapshot) error
	RecordMigration(run *MigrationRun) error
	Close() error
}
