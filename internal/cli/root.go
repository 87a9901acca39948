// Package cli wires the cobra command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ragserve/config"
	"ragserve/internal/adapter/embedding"
	"ragserve/internal/adapter/extractor"
	"ragserve/internal/adapter/store"
	"ragserve/internal/logx"
	"ragserve/internal/usecase"
)

var (
	flagConfig string
	flagData   string
)

var rootCmd = &cobra.Command{
	Use:   "ragserve",
	Short: "Retrieval-augmented chat server over a local document index",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env next to the binary may carry RAGSERVE_* overrides.
		_ = godotenv.Load()
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to ragserve.yaml")
	rootCmd.PersistentFlags().StringVar(&flagData, "data", "", "data directory (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(queryCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, err
	}
	if flagData != "" {
		cfg.Ingest.DataDir = flagData
		cfg.Store.DBPath = filepath.Join(flagData, "rag.db")
		cfg.Ingest.UploadsDir = filepath.Join(flagData, "uploads")
		cfg.Ingest.SeedStatePath = filepath.Join(flagData, "seed.db")
		cfg.Ingest.PDFTextDir = filepath.Join(flagData, "pdf_txt")
	}
	logx.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

// openStore builds the embedder and opens the database configured in cfg.
func openStore(cfg *config.Config) (*store.SQLiteStore, *embedding.HashedEmbedder, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	emb := embedding.NewHashedEmbedder(cfg.Store.EmbedDim)
	st, err := store.Open(cfg.Store.DBPath, emb)
	if err != nil {
		return nil, nil, err
	}
	return st, emb, nil
}

func newIngester(cfg *config.Config, st *store.SQLiteStore) *usecase.Ingester {
	g := &usecase.Ingester{
		Store:      st,
		Extractor:  extractor.NewPDFToText(),
		ChunkChars: cfg.Store.ChunkChars,
	}
	if cfg.Ingest.ExportPDFText {
		g.PDFTextDir = cfg.Ingest.PDFTextDir
	}
	return g
}
