package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"listing_store/config"
	"listing_store/logging"
	"listing_store/scheduler"
	"listing_store/services"
	"listing_store/storage"
	"listing_store/workers"
)

var (
	ingestFile = flag.String("ingest", "", "Ingest one snapshot file and exit")
	source     = flag.String("source", "zillow", "Data source for -ingest")
	sweepNow   = flag.Bool("sweep", false, "Run the match sweep once and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("listing_store.log", 0)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting listing_store...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.SetLevel(cfg.LogLevel)

	logging.Infof("Loaded %d provider configs", len(cfg.Providers))
	for id, provider := range cfg.Providers {
		logging.Infof("  - %s (%s)", provider.Name, id)
	}

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	logging.Infof("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))

	var store services.Store = pgStore
	if cfg.RedisAddr != "" {
		cached := storage.NewCachedStore(pgStore, cfg.RedisAddr, cfg.CacheTTL)
		defer cached.CloseCache()
		store = cached
		logging.Infof("Redis cache enabled: %s", cfg.RedisAddr)
	}

	opsStore, err := storage.NewSQLiteStore(cfg.OpsDBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer opsStore.Close()
	logging.Infof("Ops database: %s", cfg.OpsDBPath)

	var archiver *storage.SnapshotArchiver
	if cfg.Archive.Enabled() {
		archiver, err = storage.NewSnapshotArchiver(ctx, cfg.Archive)
		if err != nil {
			log.Fatalf("Failed to set up snapshot archiver: %v", err)
		}
		logging.Infof("Snapshot archival to s3://%s", cfg.Archive.Bucket)
	}

	upsertService := services.NewUpsertService(store, cfg.Dedup.MinSimilarity, cfg.Dedup.CandidateLimit)
	matchService := services.NewMatchService(pgStore, cfg.Dedup.MinSimilarity, cfg.Dedup.CandidateLimit)
	ingestService := services.NewIngestService(upsertService, opsStore, archiver)

	logging.Infof("Services initialized")

	sweepWorker := workers.NewSweepWorker(matchService, cfg.Sweep.Window, cfg.Sweep.Batch)

	// One-shot commands
	if *ingestFile != "" {
		run, err := ingestService.IngestFile(ctx, *ingestFile, *source)
		if err != nil {
			log.Fatalf("Ingest failed: %v", err)
		}
		logging.Infof("Ingest complete: %d created, %d updated, %d merged, %d quarantined",
			run.Created, run.Updated, run.Merged, run.Quarantined)
		return
	}
	if *sweepNow {
		sweepWorker.RunOnce(ctx)
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ingestWorker := workers.NewIngestWorker(ingestService, cfg.Ingest.SnapshotDir)
	go ingestWorker.Run(ctx, cfg.Ingest.PollInterval)
	logging.Infof("Ingest worker watching %s", cfg.Ingest.SnapshotDir)

	go sweepWorker.Run(ctx, cfg.Sweep.Window)
	logging.Infof("Sweep worker started")

	sched := scheduler.New()
	if cfg.Sweep.Cron != "" {
		if err := sched.Add(cfg.Sweep.Cron, "sweep", sweepWorker); err != nil {
			log.Fatalf("Failed to schedule sweep: %v", err)
		}
	}
	sched.Start()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
