package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/insurly/policyrag/internal/chunker"
	"github.com/insurly/policyrag/internal/config"
	"github.com/insurly/policyrag/internal/dump"
	"github.com/insurly/policyrag/internal/extract"
	"github.com/insurly/policyrag/internal/gemini"
	"github.com/insurly/policyrag/internal/ingest"
	"github.com/insurly/policyrag/internal/storage"
	"github.com/insurly/policyrag/internal/vecstore"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [policy-id]",
	Short: "Ingest policy documents into the vector collection",
	Long: `Ingest policy documents into the vector collection.

Without arguments, every policy past the last ingested id is
processed and the cursor advances. With a policy id, only that
policy is re-ingested and the cursor is left untouched.

Examples:
  policyrag ingest
  policyrag ingest 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var policyID int64
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("policy id must be a positive integer, got %q", args[0])
			}
			policyID = id
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		initLogging(cfg.Log.Level)

		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := gemini.New(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.EmbedModel, cfg.Gemini.Timeout)
		if err != nil {
			return fmt.Errorf("creating Gemini client: %w", err)
		}
		defer client.Close()

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		ch, err := chunker.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
		if err != nil {
			return err
		}

		collection := vecstore.NewSQLiteCollection(store.DB(), client, cfg.Storage.Collection)
		pipeline := ingest.NewPipeline(
			store,
			collection,
			extract.New(),
			ch,
			ingest.NewCursor(cfg.Storage.DataDir),
			cfg.Storage.BackendRoot,
		)

		if err := pipeline.Run(ctx, policyID); err != nil {
			return err
		}

		count, err := collection.Count(ctx)
		if err != nil {
			return err
		}
		printSuccess("Ingestion complete (%d records in collection)", count)
		return nil
	},
}

// --- dump ---

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export the vector collection to a timestamped file",
	Long: `Export the vector collection to a timestamped file.

Embeddings are not exported, only ids, documents, and metadata.

Examples:
  policyrag dump
  policyrag dump --format csv --out ./exports`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		outDir, _ := cmd.Flags().GetString("out")

		if format != "json" && format != "csv" {
			return fmt.Errorf("unknown format %q, want json or csv", format)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		initLogging(cfg.Log.Level)

		if outDir == "" {
			outDir = filepath.Join(cfg.Storage.DataDir, "dumps")
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		// Reads never embed, so no Gemini client is needed here.
		collection := vecstore.NewSQLiteCollection(store.DB(), nil, cfg.Storage.Collection)
		dumper := dump.New(collection, outDir)

		ctx := cmd.Context()
		var path string
		if format == "csv" {
			path, err = dumper.CSV(ctx)
		} else {
			path, err = dumper.JSON(ctx)
		}
		if err != nil {
			return err
		}

		count, err := collection.Count(ctx)
		if err != nil {
			return err
		}
		printSuccess("Dumped %d records to %s", count, path)
		return nil
	},
}

func init() {
	dumpCmd.Flags().String("format", "json", "output format: json or csv")
	dumpCmd.Flags().String("out", "", "output directory (default: <data-dir>/dumps)")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show policyrag system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		printStatus("Generation model", "%s", cfg.Gemini.Model)
		printStatus("Embedding model", "%s", cfg.Gemini.EmbedModel)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			printWarning("storage unavailable: %v", err)
			return nil
		}
		defer store.Close()

		collection := vecstore.NewSQLiteCollection(store.DB(), nil, cfg.Storage.Collection)
		if count, err := collection.Count(cmd.Context()); err == nil {
			printStatus("Collection", "%s (%d records)", cfg.Storage.Collection, count)
		}

		if lastID, err := ingest.NewCursor(cfg.Storage.DataDir).Load(); err == nil {
			if lastID == 0 {
				printStatus("Ingest cursor", "no policies ingested yet")
			} else {
				printStatus("Ingest cursor", "last ingested policy %d", lastID)
			}
		}
		return nil
	},
}
