package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"RealmLedger/internal/cache"
	"RealmLedger/internal/config"
	"RealmLedger/internal/ledger"
	"RealmLedger/internal/metrics"
	"RealmLedger/internal/migrate"
	"RealmLedger/internal/model"
	"RealmLedger/internal/notifier"
	"RealmLedger/internal/policy"
	"RealmLedger/internal/recorder"
	"RealmLedger/internal/request"
	"RealmLedger/internal/scheduler"
	"RealmLedger/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] RealmLedger starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init recorder
	var rec recorder.Recorder
	if cfg.Recorder.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// One-shot migration: MIGRATE_TO=<driver> copies the configured backend and exits.
	if target := os.Getenv("MIGRATE_TO"); target != "" {
		if err := runMigration(ctx, cfg, target, rec); err != nil {
			log.Fatalf("[FATAL] migration: %v", err)
		}
		return
	}

	// Init storage
	backend, err := storage.Open(cfg.Storage.Driver, cfg.Storage)
	if err != nil {
		log.Fatalf("[FATAL] open storage: %v", err)
	}
	if err := backend.Initialize(ctx); err != nil {
		log.Fatalf("[FATAL] init %s storage: %v", backend.Name(), err)
	}
	defer backend.Close()
	log.Printf("[INFO] storage backend: %s", backend.Name())

	m := metrics.New()
	currencies := cfg.CurrencyTable()

	accounts := cache.New(backend, cache.Options{
		Workers:    cfg.Cache.Workers,
		QueueSize:  cfg.Cache.QueueSize,
		Currencies: func() model.CurrencyTable { return currencies },
		Metrics:    m,
	})

	ranks := policy.NewAssignments()
	resolver := policy.NewResolver(ranks, cfg.RankTable(), cfg.FallbackRank, cfg.RankTTL())

	r := cfg.Conversion.Rates
	proc := ledger.NewProcessor(accounts, resolver, ledger.Rules{
		Currencies: currencies,
		Rates: ledger.Rates{
			GemToMobCoin:   decimal.NewFromFloat(r.GemToMobCoin),
			GemToMoney:     decimal.NewFromFloat(r.GemToMoney),
			MobCoinToMoney: decimal.NewFromFloat(r.MobCoinToMoney),
		},
	}, ledger.Options{Metrics: m})

	// Init notifiers
	notifiers := notifier.Multi{notifier.LogNotifier{}}
	if cfg.Notifier.WebhookURL != "" {
		wh := notifier.NewWebhookNotifier(cfg.Notifier.WebhookURL, cfg.Notifier.WebhookSecret)
		go wh.Run(ctx)
		notifiers = append(notifiers, wh)
		log.Println("[INFO] webhook notifier enabled")
	}

	// Without a game host, a player is online while their account is loaded;
	// the evict-idle job unloads them after cache.idle_seconds without use.
	// Embedding hosts should supply their own Presence and call
	// Negotiator.Disconnect and Cache.Evict when a player quits.
	negotiator := request.NewNegotiator(proc, request.Options{
		Timeout:  cfg.RequestTimeout(),
		Presence: request.PresenceFunc(accounts.IsLoaded),
		Notifier: notifiers,
		Metrics:  m,
	})

	// Init scheduler
	sched := scheduler.NewScheduler()
	tasks := &scheduler.Tasks{
		Ctx:      ctx,
		Ledger:   proc,
		Requests: negotiator,
		Cache:    accounts,
		Recorder: rec,
		Idle:     cfg.IdleTimeout(),
	}
	if err := sched.RegisterAll(tasks, scheduler.Specs{
		DailyReset:   cfg.Schedule.DailyResetCron,
		RequestSweep: cfg.Requests.SweepCron,
		Autosave:     cfg.Schedule.AutosaveCron,
		Snapshot:     cfg.Schedule.SnapshotCron,
		EvictIdle:    cfg.Schedule.EvictCron,
	}); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()

	// Metrics server
	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Printf("[INFO] metrics server listening on %s/metrics", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[ERROR] metrics server: %v", err)
			}
		}()
	}

	log.Println("[INFO] RealmLedger is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()

	sched.Stop(shutCtx)
	if metricsServer != nil {
		metricsServer.Shutdown(shutCtx)
	}
	if failed := accounts.Close(shutCtx); failed > 0 {
		log.Printf("[ERROR] %d accounts could not be saved on shutdown", failed)
	}
	cancel()
	log.Println("[INFO] RealmLedger stopped")
}

func runMigration(ctx context.Context, cfg *config.Config, target string, rec recorder.Recorder) error {
	if target == cfg.Storage.Driver {
		return fmt.Errorf("source and destination are both %s", target)
	}
	src, err := storage.Open(cfg.Storage.Driver, cfg.Storage)
	if err != nil {
		return err
	}
	dst, err := storage.Open(target, cfg.Storage)
	if err != nil {
		return err
	}
	for _, b := range []storage.Backend{src, dst} {
		if err := b.Initialize(ctx); err != nil {
			return fmt.Errorf("init %s: %w", b.Name(), err)
		}
		defer b.Close()
	}

	rep, err := migrate.Migrate(ctx, src, dst, migrate.Options{BackupDir: cfg.BackupDir})
	run := &recorder.MigrationRun{
		Source:      rep.Source,
		Destination: rep.Destination,
		Total:       rep.Total,
		Migrated:    rep.Migrated,
		Skipped:     rep.Skipped,
		BackupPath:  rep.BackupPath,
		Started:     rep.Started,
		Finished:    time.Now(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	if recErr := rec.RecordMigration(run); recErr != nil {
		log.Printf("[ERROR] record migration: %v", recErr)
	}
	return err
}
