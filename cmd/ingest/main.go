package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ingestor/internal/config"
	"ingestor/internal/jobs"
	"ingestor/internal/oracle"
	"ingestor/internal/storage"

	_ "ingestor/internal/storage/postgres"
)

// main runs one file through the full pipeline without the HTTP service:
// sample, infer, provision, load, then print the job outcome as JSON.
func main() {
	var (
		cfgPath   string
		filePath  string
		tableName string
	)
	flag.StringVar(&cfgPath, "config", "configs/ingestd.json", "service config JSON path")
	flag.StringVar(&filePath, "file", "", "tabular file to ingest (csv, json, or xlsx)")
	flag.StringVar(&tableName, "table", "", "destination table name (default: t_<random>)")
	flag.Parse()

	if filePath == "" {
		fatalf("missing -file")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss)
	}
	if config.HasErrors(issues) {
		os.Exit(1)
	}

	ctx := context.Background()

	repo, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		fatalf("storage: %v", err)
	}
	defer repo.Close()

	// One-shot runs use an ephemeral queue; there is nothing to resume.
	store, err := jobs.OpenStore(":memory:")
	if err != nil {
		fatalf("queue: %v", err)
	}
	defer store.Close()

	id := uuid.New().String()
	if tableName == "" {
		tableName = "t_" + strings.ReplaceAll(id, "-", "")
	}

	// The runner owns (and may delete) the file it loads, so work on a copy
	// and leave the caller's file alone.
	workPath, err := stageCopy(filePath, id)
	if err != nil {
		fatalf("stage file: %v", err)
	}
	defer os.Remove(workPath)

	job := &jobs.Job{
		ID:        id,
		FileName:  filepath.Base(filePath),
		FilePath:  workPath,
		TableName: tableName,
	}
	if err := store.Enqueue(ctx, job); err != nil {
		fatalf("enqueue: %v", err)
	}
	claimed, err := store.Claim(ctx)
	if err != nil {
		fatalf("claim: %v", err)
	}

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
	runErr := runner.Run(ctx, claimed)

	final, err := store.Get(ctx, id)
	if err != nil {
		fatalf("load result: %v", err)
	}
	out := struct {
		*jobs.Job
		Corrections json.RawMessage `json:"corrections"`
	}{Job: final, Corrections: json.RawMessage(final.Corrections)}
	if len(out.Corrections) == 0 {
		out.Corrections = json.RawMessage("[]")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	if runErr != nil {
		os.Exit(1)
	}
}

func stageCopy(path, id string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	workPath := filepath.Join(os.TempDir(), "ingest-"+id+strings.ToLower(filepath.Ext(path)))
	dst, err := os.Create(workPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(workPath)
		return "", err
	}
	return workPath, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
