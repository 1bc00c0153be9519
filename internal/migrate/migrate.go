package migrate

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"RealmLedger/internal/storage"
)

// Report summarizes a migration run.
type Report struct {
	Source      string
	Destination string
	Total       int
	Migrated    int
	Skipped     int
	BackupPath  string
	Started     time.Time
	Finished    time.Time
}

// Options configures a run. Progress, when set, replaces the default log line.
type Options struct {
	BackupDir string
	Progress  func(done, total int)
}

// Migrate copies every account from src to dst. The source is backed up first.
// Accounts are copied one at a time and each is checked in dst afterwards.
// The first read or write error stops the run; the report then holds what was
// copied so far. Saves overwrite, so a rerun does not duplicate accounts.
func Migrate(ctx context.Context, src, dst storage.Backend, opts Options) (*Report, error) {
	rep := &Report{Source: src.Name(), Destination: dst.Name(), Started: time.Now()}
	defer func() { rep.Finished = time.Now() }()

	if opts.BackupDir == "" {
		opts.BackupDir = "backups"
	}
	if opts.Progress == nil {
		opts.Progress = func(done, total int) {
			log.Printf("[INFO] migration progress: %d/%d (%d%%)", done, total, done*100/total)
		}
	}

	path, err := Backup(ctx, src, opts.BackupDir)
	if err != nil {
		return rep, fmt.Errorf("backup %s: %w", src.Name(), err)
	}
	rep.BackupPath = path
	log.Printf("[INFO] backed up %s to %s", src.Name(), path)

	ids, err := src.IDs(ctx)
	if err != nil {
		return rep, fmt.Errorf("list %s accounts: %w", src.Name(), err)
	}
	rep.Total = len(ids)
	log.Printf("[INFO] migrating %d accounts: %s -> %s", rep.Total, src.Name(), dst.Name())

	step := rep.Total / 10
	if step == 0 {
		step = 1
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		acct, err := src.Load(ctx, id)
		if err != nil {
			return rep, fmt.Errorf("load %s: %w", id, err)
		}
		if err := dst.Save(ctx, acct); err != nil {
			return rep, fmt.Errorf("save %s: %w", id, err)
		}
		ok, err := dst.Exists(ctx, id)
		if err != nil {
			return rep, fmt.Errorf("verify %s: %w", id, err)
		}
		if ok {
			rep.Migrated++
		} else {
			rep.Skipped++
			log.Printf("[WARN] account %s missing from %s after save", id, dst.Name())
		}
		if done := i + 1; done%step == 0 || done == rep.Total {
			opts.Progress(done, rep.Total)
		}
	}

	log.Printf("[INFO] migration finished: %d/%d migrated, %d skipped", rep.Migrated, rep.Total, rep.Skipped)
	return rep, nil
}

// Backup copies src into dir. Backends that can copy themselves do so;
// everything else is exported as one YAML file per account.
func Backup(ctx context.Context, src storage.Backend, dir string) (string, error) {
	if b, ok := src.(storage.Backupper); ok {
		return b.Backup(ctx, dir)
	}

	dest := filepath.Join(dir, src.Name()+"-export-"+time.Now().Format("20060102-150405"))
	export := storage.NewFlatFile(dest)
	if err := export.Initialize(ctx); err != nil {
		return "", err
	}
	ids, err := src.IDs(ctx)
	if err != nil {
		return "", fmt.Errorf("list accounts: %w", err)
	}
	for _, id := range ids {
		acct, err := src.Load(ctx, id)
		if err != nil {
			return "", fmt.Errorf("export %s: %w", id, err)
		}
		if err := export.Save(ctx, acct); err != nil {
			return "", fmt.Errorf("export %s: %w", id, err)
		}
	}
	return dest, nil
}
