package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RealmLedger/internal/config"
	"RealmLedger/internal/model"
)

func localBackends(t *testing.T) []Backend {
	t.Helper()
	dir := t.TempDir()
	return []Backend{
		NewMemory(),
		NewFlatFile(filepath.Join(dir, "players")),
		NewSQLite(filepath.Join(dir, "economy.db")),
	}
}

func sampleAccount() *model.Account {
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.Local)
	a := model.NewAccount(uuid.New(), "notch", model.DefaultCurrencies(), now)
	w := a.Wallet(model.Money)
	w.Balance = decimal.RequireFromString("12345.67")
	w.Sent = decimal.RequireFromString("100.50")
	w.SentToday = 3
	w.LastTransfer = now.Add(-time.Minute)
	return a
}

func TestBackends_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, b := range localBackends(t) {
		t.Run(b.Name(), func(t *testing.T) {
			if err := b.Initialize(ctx); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			defer b.Close()

			a := sampleAccount()
			if _, err := b.Load(ctx, a.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound before save, got %v", err)
			}
			if err := b.Save(ctx, a); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := b.Load(ctx, a.ID)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.Name != "notch" {
				t.Errorf("name: got %q", got.Name)
			}
			w := got.Wallet(model.Money)
			if !w.Balance.Equal(decimal.RequireFromString("12345.67")) {
				t.Errorf("balance: got %s", w.Balance)
			}
			if !w.Sent.Equal(decimal.RequireFromString("100.5")) {
				t.Errorf("sent: got %s", w.Sent)
			}
			if w.SentToday != 3 || w.ResetDate != "2026-05-01" {
				t.Errorf("counters: got %+v", w)
			}
			if !w.LastTransfer.Equal(a.Wallet(model.Money).LastTransfer) {
				t.Errorf("last transfer: got %v", w.LastTransfer)
			}
			if !got.Balance(model.Gem).Equal(decimal.NewFromInt(5)) {
				t.Errorf("gem: got %s", got.Balance(model.Gem))
			}

			// Overwrite keeps a single record.
			a.Wallet(model.Money).Balance = decimal.NewFromInt(1)
			if err := b.Save(ctx, a); err != nil {
				t.Fatalf("second save: %v", err)
			}
			ids, err := b.IDs(ctx)
			if err != nil || len(ids) != 1 || ids[0] != a.ID {
				t.Fatalf("ids: %v %v", ids, err)
			}

			ok, err := b.Exists(ctx, a.ID)
			if err != nil || !ok {
				t.Fatalf("exists: %v %v", ok, err)
			}
			if err := b.Delete(ctx, a.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if ok, _ := b.Exists(ctx, a.ID); ok {
				t.Error("account still exists after delete")
			}
		})
	}
}

func TestFlatFile_IgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := NewFlatFile(dir)
	if err := f.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "not-a-uuid.yml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ids, err := f.IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no ids, got %v", ids)
	}
}

func TestFlatFile_Backup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := NewFlatFile(filepath.Join(dir, "players"))
	if err := f.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	a := sampleAccount()
	if err := f.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	dest, err := f.Backup(ctx, filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, a.ID.String()+".yml")); err != nil {
		t.Errorf("backup missing player file: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open("redis", config.StorageConfig{}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestMemory_FailSaves(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("disk full")
	m.FailSaves(boom)
	if err := m.Save(ctx, sampleAccount()); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	m.FailSaves(nil)
	if err := m.Save(ctx, sampleAccount()); err != nil {
		t.Fatal(err)
	}
	if m.Saves() != 1 {
		t.Errorf("saves: got %d", m.Saves())
	}
}

func TestMongo_FailedInitializeKeepsNoClient(t *testing.T) {
	m := NewMongo("mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=100&connectTimeoutMS=100", "ledger_test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Initialize(ctx); err == nil {
		t.Skip("a mongo server answered on port 1")
	}
	if m.client != nil || m.col != nil {
		t.Error("failed initialize left a client attached")
	}
	if err := m.Close(); err != nil {
		t.Errorf("close after failed initialize: %v", err)
	}
}
