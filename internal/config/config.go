package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"RealmLedger/internal/model"
	"RealmLedger/internal/money"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // flatfile, sqlite, postgres, mongo, memory
	FlatFileDir string `yaml:"flatfile_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	Postgres    struct {
		DSN             string `yaml:"dsn"`
		MaxConns        int32  `yaml:"max_conns"`
		MinConns        int32  `yaml:"min_conns"`
		MaxConnLifetime int    `yaml:"max_conn_lifetime_seconds"`
		MaxConnIdleTime int    `yaml:"max_conn_idle_seconds"`
	} `yaml:"postgres"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
}

// CurrencyConfig overrides a currency's built-in descriptor.
type CurrencyConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	Name            string   `yaml:"name"`
	Symbol          string   `yaml:"symbol"`
	StartingBalance *float64 `yaml:"starting_balance"`
}

// RankCurrencyConfig is one currency section of a rank. Omitted keys take the
// built-in default.
type RankCurrencyConfig struct {
	Enabled            *bool    `yaml:"enabled"`
	TransferTax        *float64 `yaml:"transfer_tax"`
	TransferCooldown   *int     `yaml:"transfer_cooldown"`
	DailyTransferLimit *int     `yaml:"daily_transfer_limit"`
	DailyRequestLimit  *int     `yaml:"daily_request_limit"`
	RequestCooldown    *int     `yaml:"request_cooldown"`
	MinTransfer        *float64 `yaml:"min_transfer"`
	MaxTransfer        *float64 `yaml:"max_transfer"`
	BossKillBonus      *float64 `yaml:"boss_kill_bonus"`
}

// RankConfig is a rank entry keyed by its permission-group id.
type RankConfig struct {
	DisplayName string                        `yaml:"display_name"`
	Priority    int                           `yaml:"priority"`
	Currencies  map[string]RankCurrencyConfig `yaml:"currencies"`
	Conversion  struct {
		Enabled *bool    `yaml:"enabled"`
		Tax     *float64 `yaml:"tax"`
	} `yaml:"conversion"`
}

// Config holds all application configuration.
type Config struct {
	Storage    StorageConfig             `yaml:"storage"`
	BackupDir  string                    `yaml:"backup_dir"`
	Currencies map[string]CurrencyConfig `yaml:"currencies"`
	Conversion struct {
		Rates struct {
			GemToMobCoin   float64 `yaml:"gem_to_mobcoin"`
			GemToMoney     float64 `yaml:"gem_to_money"`
			MobCoinToMoney float64 `yaml:"mobcoin_to_money"`
		} `yaml:"rates"`
	} `yaml:"conversion"`
	Ranks        map[string]RankConfig `yaml:"ranks"`
	FallbackRank string                `yaml:"fallback_rank"`
	Requests     struct {
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		SweepCron      string `yaml:"sweep_cron"`
	} `yaml:"requests"`
	Schedule struct {
		DailyResetCron string `yaml:"daily_reset_cron"`
		AutosaveCron   string `yaml:"autosave_cron"`
		SnapshotCron   string `yaml:"snapshot_cron"`
		EvictCron      string `yaml:"evict_cron"`
	} `yaml:"schedule"`
	Cache struct {
		Workers        int `yaml:"workers"`
		QueueSize      int `yaml:"queue_size"`
		RankTTLSeconds int `yaml:"rank_ttl_seconds"`
		IdleSeconds    int `yaml:"idle_seconds"`
	} `yaml:"cache"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Notifier struct {
		WebhookURL    string `yaml:"webhook_url"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"notifier"`
	Recorder struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"recorder"`
}

// envOverrides lists the settings that may come from the environment.
type envOverrides struct {
	StorageDriver  string `env:"LEDGER_STORAGE_DRIVER"`
	FlatFileDir    string `env:"LEDGER_FLATFILE_DIR"`
	SQLitePath     string `env:"LEDGER_SQLITE_PATH"`
	PostgresDSN    string `env:"DATABASE_URL"`
	MongoURI       string `env:"MONGO_URI"`
	MongoDatabase  string `env:"MONGO_DATABASE"`
	BackupDir      string `env:"LEDGER_BACKUP_DIR"`
	FallbackRank   string `env:"LEDGER_FALLBACK_RANK"`
	RequestTimeout int    `env:"LEDGER_REQUEST_TIMEOUT"`
	MetricsAddr    string `env:"METRICS_ADDR"`
	WebhookURL     string `env:"WEBHOOK_URL"`
	WebhookSecret  string `env:"WEBHOOK_SECRET"`
	RecorderPath   string `env:"LEDGER_STATS_PATH"`
}

// Load reads config from a YAML file, then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyEnv(ov)
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyEnv(ov envOverrides) {
	if ov.StorageDriver != "" {
		c.Storage.Driver = ov.StorageDriver
	}
	if ov.FlatFileDir != "" {
		c.Storage.FlatFileDir = ov.FlatFileDir
	}
	if ov.SQLitePath != "" {
		c.Storage.SQLitePath = ov.SQLitePath
	}
	if ov.PostgresDSN != "" {
		c.Storage.Postgres.DSN = ov.PostgresDSN
	}
	if ov.MongoURI != "" {
		c.Storage.Mongo.URI = ov.MongoURI
	}
	if ov.MongoDatabase != "" {
		c.Storage.Mongo.Database = ov.MongoDatabase
	}
	if ov.BackupDir != "" {
		c.BackupDir = ov.BackupDir
	}
	if ov.FallbackRank != "" {
		c.FallbackRank = ov.FallbackRank
	}
	if ov.RequestTimeout > 0 {
		c.Requests.TimeoutSeconds = ov.RequestTimeout
	}
	if ov.MetricsAddr != "" {
		c.Metrics.Addr = ov.MetricsAddr
	}
	if ov.WebhookURL != "" {
		c.Notifier.WebhookURL = ov.WebhookURL
	}
	if ov.WebhookSecret != "" {
		c.Notifier.WebhookSecret = ov.WebhookSecret
	}
	if ov.RecorderPath != "" {
		c.Recorder.SQLitePath = ov.RecorderPath
	}
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "flatfile"
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.FlatFileDir == "" {
		c.Storage.FlatFileDir = "data/players"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/economy.db"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.Storage.Postgres.MinConns == 0 {
		c.Storage.Postgres.MinConns = 2
	}
	if c.Storage.Postgres.MaxConnLifetime == 0 {
		c.Storage.Postgres.MaxConnLifetime = 1800
	}
	if c.Storage.Postgres.MaxConnIdleTime == 0 {
		c.Storage.Postgres.MaxConnIdleTime = 600
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "realmledger"
	}
	if c.BackupDir == "" {
		c.BackupDir = "data/backups"
	}
	if c.Conversion.Rates.GemToMobCoin == 0 {
		c.Conversion.Rates.GemToMobCoin = 100
	}
	if c.Conversion.Rates.GemToMoney == 0 {
		c.Conversion.Rates.GemToMoney = 10000
	}
	if c.Conversion.Rates.MobCoinToMoney == 0 {
		c.Conversion.Rates.MobCoinToMoney = 100
	}
	if c.FallbackRank == "" {
		c.FallbackRank = "default"
	}
	if c.Requests.TimeoutSeconds == 0 {
		c.Requests.TimeoutSeconds = 120
	}
	if c.Requests.SweepCron == "" {
		c.Requests.SweepCron = "@every 5s"
	}
	if c.Schedule.DailyResetCron == "" {
		c.Schedule.DailyResetCron = "@every 1m"
	}
	if c.Schedule.AutosaveCron == "" {
		c.Schedule.AutosaveCron = "@every 5m"
	}
	if c.Schedule.SnapshotCron == "" {
		c.Schedule.SnapshotCron = "0 55 23 * * *"
	}
	if c.Schedule.EvictCron == "" {
		c.Schedule.EvictCron = "@every 1m"
	}
	if c.Cache.Workers == 0 {
		c.Cache.Workers = 4
	}
	if c.Cache.QueueSize == 0 {
		c.Cache.QueueSize = 1024
	}
	if c.Cache.IdleSeconds == 0 {
		c.Cache.IdleSeconds = 900
	}
	if c.Cache.RankTTLSeconds == 0 {
		c.Cache.RankTTLSeconds = 30
	}
	if c.Recorder.SQLitePath == "" {
		c.Recorder.SQLitePath = "data/stats.db"
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "flatfile", "sqlite", "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of flatfile, sqlite, postgres, mongo, memory", c.Storage.Driver)
	}
	for id := range c.Currencies {
		if _, err := model.ParseCurrency(id); err != nil {
			return fmt.Errorf("currencies: %w", err)
		}
	}
	r := c.Conversion.Rates
	if r.GemToMobCoin <= 0 || r.GemToMoney <= 0 || r.MobCoinToMoney <= 0 {
		return fmt.Errorf("conversion.rates must be positive")
	}
	for id, rank := range c.Ranks {
		for cur, rc := range rank.Currencies {
			if _, err := model.ParseCurrency(cur); err != nil {
				return fmt.Errorf("ranks.%s: %w", id, err)
			}
			if rc.TransferTax != nil && (*rc.TransferTax < 0 || *rc.TransferTax > 100) {
				return fmt.Errorf("ranks.%s.%s.transfer_tax must be within 0-100", id, cur)
			}
			if rc.MinTransfer != nil && rc.MaxTransfer != nil && *rc.MaxTransfer > 0 && *rc.MaxTransfer < *rc.MinTransfer {
				return fmt.Errorf("ranks.%s.%s.max_transfer is below min_transfer", id, cur)
			}
		}
		if t := rank.Conversion.Tax; t != nil && (*t < 0 || *t > 100) {
			return fmt.Errorf("ranks.%s.conversion.tax must be within 0-100", id)
		}
	}
	if c.Requests.TimeoutSeconds <= 0 {
		return fmt.Errorf("requests.timeout_seconds must be positive")
	}
	return nil
}

// RequestTimeout is how long a payment request stays acceptable.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Requests.TimeoutSeconds) * time.Second
}

// IdleTimeout is how long an unused account stays in memory.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Cache.IdleSeconds) * time.Second
}

// RankTTL is how long a resolved player rank is cached.
func (c *Config) RankTTL() time.Duration {
	return time.Duration(c.Cache.RankTTLSeconds) * time.Second
}

// CurrencyTable merges configured overrides onto the built-in descriptors.
func (c *Config) CurrencyTable() model.CurrencyTable {
	table := model.DefaultCurrencies()
	for id, cc := range c.Currencies {
		cur, err := model.ParseCurrency(id)
		if err != nil {
			continue
		}
		info := table[cur]
		if cc.Enabled != nil {
			info.Enabled = *cc.Enabled
		}
		if cc.Name != "" {
			info.Name = cc.Name
		}
		if cc.Symbol != "" {
			info.Symbol = cc.Symbol
		}
		if cc.StartingBalance != nil {
			info.StartingBalance = money.FromFloat(*cc.StartingBalance)
		}
		table[cur] = info
	}
	return table
}

// RankTable builds the configured ranks keyed by lower-case id.
func (c *Config) RankTable() map[string]model.Rank {
	ranks := make(map[string]model.Rank, len(c.Ranks))
	for id, rc := range c.Ranks {
		key := strings.ToLower(id)
		base := model.DefaultRank()
		rank := model.Rank{
			ID:                key,
			DisplayName:       rc.DisplayName,
			Priority:          rc.Priority,
			Currencies:        make(map[model.Currency]model.CurrencyPolicy, len(model.Currencies)),
			ConversionEnabled: base.ConversionEnabled,
			ConversionTax:     base.ConversionTax,
		}
		if rank.DisplayName == "" {
			rank.DisplayName = id
		}
		if rc.Conversion.Enabled != nil {
			rank.ConversionEnabled = *rc.Conversion.Enabled
		}
		if rc.Conversion.Tax != nil {
			rank.ConversionTax = money.FromFloat(*rc.Conversion.Tax)
		}
		for _, cur := range model.Currencies {
			rank.Currencies[cur] = currencyPolicy(rc.Currencies[string(cur)])
		}
		ranks[key] = rank
	}
	return ranks
}

func currencyPolicy(rc RankCurrencyConfig) model.CurrencyPolicy {
	p := model.DefaultCurrencyPolicy()
	if rc.Enabled != nil {
		p.Enabled = *rc.Enabled
	}
	if rc.TransferTax != nil {
		p.TransferTax = money.FromFloat(*rc.TransferTax)
	}
	if rc.TransferCooldown != nil {
		p.TransferCooldown = time.Duration(*rc.TransferCooldown) * time.Second
	}
	if rc.DailyTransferLimit != nil {
		p.DailyTransferLimit = *rc.DailyTransferLimit
	}
	if rc.DailyRequestLimit != nil {
		p.DailyRequestLimit = *rc.DailyRequestLimit
	}
	if rc.RequestCooldown != nil {
		p.RequestCooldown = time.Duration(*rc.RequestCooldown) * time.Second
	}
	if rc.MinTransfer != nil {
		p.MinTransfer = money.FromFloat(*rc.MinTransfer)
	}
	if rc.MaxTransfer != nil {
		p.MaxTransfer = money.FromFloat(*rc.MaxTransfer)
	}
	if rc.BossKillBonus != nil {
		p.BossKillBonus = money.FromFloat(*rc.BossKillBonus)
	}
	return p
}
