package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ingestor/internal/api"
	"ingestor/internal/config"
	"ingestor/internal/jobs"
	"ingestor/internal/metrics"
	"ingestor/internal/metrics/datadog"
	"ingestor/internal/oracle"
	"ingestor/internal/storage"

	// register destination backends with the storage factory.
	_ "ingestor/internal/storage/postgres"
)

// main is the entry point for the ingestion service. It loads the config,
// optionally initializes the Datadog metrics backend, and runs the HTTP API,
// the worker pool, and the retention janitor until interrupted.
func main() {
	var (
		cfgPath  string
		validate bool
	)
	flag.StringVar(&cfgPath, "config", "configs/ingestd.json", "service config JSON path")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss)
	}
	if config.HasErrors(issues) {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			Service:    cfg.Metrics.Service,
			Tags:       datadog.ParseTagsCSV(cfg.Metrics.Tags),
			FlushEvery: time.Duration(cfg.Metrics.FlushSeconds) * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=datadog service=%v", cfg.Metrics.Service)
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}
	}

	repo, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		fatalf("storage: %v", err)
	}
	defer repo.Close()

	store, err := jobs.OpenStore(cfg.Queue.Path)
	if err != nil {
		fatalf("queue: %v", err)
	}
	defer store.Close()

	runner := &jobs.Runner{
		Store: store,
		Repo:  repo,
		Oracle: &oracle.Oracle{
			Client: oracle.NewChatClient(oracle.ChatConfig{
				BaseURL:     cfg.Oracle.BaseURL,
				APIKey:      cfg.APIKey(),
				Model:       cfg.Oracle.Model,
				Timeout:     time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
				MaxAttempts: cfg.Oracle.MaxAttempts,
			}),
			BatchSize: cfg.Oracle.BatchSize,
			Log:       log.Default(),
		},
		BatchSize:      cfg.Workers.BatchSize,
		MaxCorrections: cfg.Workers.MaxCorrections,
		Location:       cfg.Location(),
		Log:            log.Default(),
	}

	janitor := &jobs.Janitor{
		Store:        store,
		Repo:         repo,
		CompletedTTL: time.Duration(cfg.Retention.CompletedHours) * time.Hour,
		FailedTTL:    time.Duration(cfg.Retention.FailedHours) * time.Hour,
		StaleAfter:   time.Duration(cfg.Retention.StaleHours) * time.Hour,
		Log:          log.Default(),
	}
	if err := janitor.Start(ctx); err != nil {
		fatalf("janitor: %v", err)
	}
	defer janitor.Stop()

	pool := &jobs.Pool{
		Store:     store,
		Runner:    runner,
		Workers:   cfg.Workers.Count,
		PollEvery: time.Duration(cfg.Workers.PollMillis) * time.Millisecond,
		Log:       log.Default(),
	}
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		_ = pool.Run(ctx)
	}()

	e := api.NewServer(&api.Handler{
		Store:          store,
		UploadDir:      cfg.Uploads.Dir,
		MaxUploadBytes: int64(cfg.Uploads.MaxSizeMB) << 20,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Printf("http: shutdown: %v", err)
		}
	}()

	log.Printf("ingestd: listening on %s (workers=%d, storage=%s)",
		cfg.Server.Addr, pool.Workers, cfg.Storage.Kind)
	if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("http: %v", err)
	}

	// Let in-flight jobs finish their current step before exiting.
	stop()
	<-poolDone
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
