// Package main provides the retrievectl CLI entry point: a thin
// operational wrapper around pkg/engine for building an index from a
// document corpus, querying it, applying incremental mutations, and
// inspecting its health and metrics — all against a single snapshot
// file on disk, since the engine itself is an in-process library with
// no server loop of its own.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/retrievekit/pkg/config"
	"github.com/orneryd/retrievekit/pkg/docfilter"
	"github.com/orneryd/retrievekit/pkg/docstore"
	"github.com/orneryd/retrievekit/pkg/embed"
	"github.com/orneryd/retrievekit/pkg/engine"
	"github.com/orneryd/retrievekit/pkg/logging"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	logger := logging.New(os.Stderr, logging.LevelInfo)

	rootCmd := &cobra.Command{
		Use:   "retrievectl",
		Short: "retrievectl - hybrid LSH/HNSW/BM25 retrieval engine operator CLI",
		Long: `retrievectl drives pkg/engine's hybrid retrieval engine from the
command line: build an index from a document corpus, run fused
similarity/lexical/Jaccard queries against it, apply incremental
add/update/delete mutations, and inspect its health and metrics.

Every subcommand operates against a single snapshot file named by
--index; mutating subcommands re-save that file on success. The
document/metadata table itself follows --config's index_path: an empty
path keeps it in memory, a directory path opens a persistent
BadgerDB-backed store there.`,
	}
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (optional)")
	rootCmd.PersistentFlags().String("index", "", "path to the index snapshot file")
	_ = rootCmd.MarkPersistentFlagRequired("index")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("retrievectl v%s (%s)\n", version, commit)
		},
	})

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "build a fresh index from a JSON document corpus and snapshot it to --index",
		RunE:  runBuild,
	}
	buildCmd.Flags().String("docs", "", "path to a JSON file containing an array of documents")
	_ = buildCmd.MarkFlagRequired("docs")
	rootCmd.AddCommand(buildCmd)

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "run a fused similarity/lexical/Jaccard query against --index",
		RunE:  runSearch,
	}
	searchCmd.Flags().String("query", "", "query text")
	searchCmd.Flags().Int("k", 10, "number of results to return")
	searchCmd.Flags().String("filter", "", "JSON-encoded filter bag, e.g. {\"required_skills\":[\"aws\"]}")
	searchCmd.Flags().Int("ef-search", 0, "override HNSW ef_search for this query (0 = config default)")
	_ = searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "add a single JSON-encoded document to --index and re-snapshot",
		RunE:  runAdd,
	}
	addCmd.Flags().String("doc", "", "path to a JSON file containing one document")
	_ = addCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(addCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "delete a document id from --index and re-snapshot",
		RunE:  runDelete,
	}
	deleteCmd.Flags().String("id", "", "document id to delete")
	_ = deleteCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(deleteCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "load --index and re-materialize it to --out (backup/rotation)",
		RunE:  runSnapshot,
	}
	snapshotCmd.Flags().String("out", "", "destination snapshot path")
	_ = snapshotCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(snapshotCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "load",
		Short: "load --index and report whether it decodes cleanly",
		RunE:  runLoad,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "load --index and print its health report",
		RunE:  runHealth,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "load --index and print its metrics snapshot",
		RunE:  runMetrics,
	})

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", logging.F("error", err))
		os.Exit(1)
	}
}

// loadConfig builds a validated Config from the --config flag, applying
// environment overrides on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newEmbedder(cfg *config.Config) (embed.Embedder, error) {
	return embed.NewEmbedder(&embed.Config{
		Provider:   cfg.Embed.Provider,
		APIURL:     cfg.Embed.APIURL,
		APIKey:     cfg.Embed.APIKey,
		Model:      cfg.Embed.Model,
		Dimensions: cfg.EmbeddingDim,
		Timeout:    time.Duration(cfg.Embed.TimeoutSec) * time.Second,
	})
}

// openEngine constructs a fresh Engine and loads the snapshot at --index
// into it.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	e := engine.New(*cfg, embedder)

	indexPath, _ := cmd.Flags().GetString("index")
	if _, err := e.Load(indexPath); err != nil {
		return nil, fmt.Errorf("load %q: %w", indexPath, err)
	}
	return e, nil
}

func readDocuments(path string) ([]*docstore.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []*docstore.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	return docs, nil
}

func readDocument(path string) (*docstore.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	return &doc, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	docsPath, _ := cmd.Flags().GetString("docs")
	docs, err := readDocuments(docsPath)
	if err != nil {
		return fmt.Errorf("reading documents: %w", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	e := engine.New(*cfg, embedder)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := e.BuildIndexes(ctx, docs)
	if err != nil {
		return fmt.Errorf("building indexes: %w", err)
	}

	indexPath, _ := cmd.Flags().GetString("index")
	if _, err := e.Snapshot(indexPath); err != nil {
		return fmt.Errorf("snapshotting to %q: %w", indexPath, err)
	}

	return printJSON(report)
}

func runSearch(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}

	query, _ := cmd.Flags().GetString("query")
	k, _ := cmd.Flags().GetInt("k")
	efSearch, _ := cmd.Flags().GetInt("ef-search")
	filterJSON, _ := cmd.Flags().GetString("filter")

	var bag *docfilter.Bag
	if filterJSON != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(filterJSON), &raw); err != nil {
			return fmt.Errorf("decoding --filter: %w", err)
		}
		bag, err = docfilter.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing --filter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := e.Search(ctx, query, k, bag, efSearch)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	return printJSON(results)
}

func runAdd(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	docPath, _ := cmd.Flags().GetString("doc")
	doc, err := readDocument(docPath)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	ack, err := e.AddDocument(context.Background(), doc)
	if err != nil {
		return fmt.Errorf("adding document: %w", err)
	}

	indexPath, _ := cmd.Flags().GetString("index")
	if _, err := e.Snapshot(indexPath); err != nil {
		return fmt.Errorf("snapshotting to %q: %w", indexPath, err)
	}
	return printJSON(ack)
}

func runDelete(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("id")

	ack, err := e.DeleteDocument(context.Background(), id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	indexPath, _ := cmd.Flags().GetString("index")
	if _, err := e.Snapshot(indexPath); err != nil {
		return fmt.Errorf("snapshotting to %q: %w", indexPath, err)
	}
	return printJSON(ack)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")
	ack, err := e.Snapshot(out)
	if err != nil {
		return fmt.Errorf("snapshotting to %q: %w", out, err)
	}
	return printJSON(ack)
}

func runLoad(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	return printJSON(e.HealthReport())
}

func runHealth(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	return printJSON(e.HealthReport())
}

func runMetrics(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	return printJSON(e.MetricsSnapshot())
}
