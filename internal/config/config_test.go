package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"RealmLedger/internal/model"
)

const sampleYAML = `
storage:
  driver: SQLite
  sqlite_path: /tmp/eco.db
currencies:
  gem:
    enabled: false
    starting_balance: 2
ranks:
  VIP:
    display_name: "VIP"
    priority: 10
    currencies:
      money:
        transfer_tax: 1.5
        transfer_cooldown: 60
        max_transfer: 100000
      mobcoin:
        boss_kill_bonus: 25
    conversion:
      tax: 1
fallback_rank: vip
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAMLAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("driver: got %q", cfg.Storage.Driver)
	}
	if cfg.RequestTimeout() != 120*time.Second {
		t.Errorf("timeout: got %v", cfg.RequestTimeout())
	}
	if cfg.Conversion.Rates.GemToMoney != 10000 {
		t.Errorf("gem->money: got %v", cfg.Conversion.Rates.GemToMoney)
	}
	if cfg.Schedule.DailyResetCron != "@every 1m" {
		t.Errorf("daily reset cron: got %q", cfg.Schedule.DailyResetCron)
	}
	if cfg.IdleTimeout() != 15*time.Minute || cfg.Schedule.EvictCron != "@every 1m" {
		t.Errorf("idle eviction: got %v %q", cfg.IdleTimeout(), cfg.Schedule.EvictCron)
	}

	table := cfg.CurrencyTable()
	if table.Enabled(model.Gem) {
		t.Error("gem should be disabled")
	}
	if !table.Info(model.Gem).StartingBalance.Equal(decimal.NewFromInt(2)) {
		t.Errorf("gem start: got %s", table.Info(model.Gem).StartingBalance)
	}
	if table.Info(model.Money).Symbol != "$" {
		t.Error("money descriptor lost its defaults")
	}
}

func TestRankTable(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	ranks := cfg.RankTable()
	vip, ok := ranks["vip"]
	if !ok {
		t.Fatalf("rank ids should be lower-cased: %v", ranks)
	}
	money := vip.For(model.Money)
	if !money.TransferTax.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("tax: got %s", money.TransferTax)
	}
	if money.TransferCooldown != time.Minute {
		t.Errorf("cooldown: got %v", money.TransferCooldown)
	}
	if money.DailyTransferLimit != 5 {
		t.Errorf("omitted limit should default to 5, got %d", money.DailyTransferLimit)
	}
	if !vip.For(model.MobCoin).BossKillBonus.Equal(decimal.NewFromInt(25)) {
		t.Errorf("boss bonus: got %s", vip.For(model.MobCoin).BossKillBonus)
	}
	if !vip.For(model.Gem).TransferTax.Equal(decimal.NewFromInt(5)) {
		t.Error("omitted currency should use the default policy")
	}
	if !vip.ConversionTax.Equal(decimal.NewFromInt(1)) || !vip.ConversionEnabled {
		t.Errorf("conversion: %v %s", vip.ConversionEnabled, vip.ConversionTax)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger")
	t.Setenv("LEDGER_REQUEST_TIMEOUT", "30")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.Postgres.DSN == "" {
		t.Errorf("storage: %+v", cfg.Storage)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("timeout: got %v", cfg.RequestTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "flatfile" || cfg.FallbackRank != "default" {
		t.Errorf("unexpected defaults: %+v", cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "storage:\n  driver: redis\n"},
		{"postgres without dsn", "storage:\n  driver: postgres\n"},
		{"mongo without uri", "storage:\n  driver: mongo\n"},
		{"unknown currency", "currencies:\n  gold:\n    enabled: true\n"},
		{"tax over 100", "ranks:\n  x:\n    currencies:\n      money:\n        transfer_tax: 101\n"},
		{"max below min", "ranks:\n  x:\n    currencies:\n      money:\n        min_transfer: 10\n        max_transfer: 5\n"},
		{"negative rate", "conversion:\n  rates:\n    gem_to_money: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
