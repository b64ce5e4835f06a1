// Package cmd provides the CLI commands for wrag.
//
// Commands:
//   - serve: HTTP API server (upload, index, search)
//   - index: one-shot registration and reconciliation of stored files
//   - version: build information
//
// Signal handling and graceful shutdown are implemented for serve via
// context cancellation.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wrag",
	Short: "Document ingestion and retrieval-augmented search service",
	Long: `wrag keeps a corpus of uploaded documents searchable: files are split
into chunks, embedded, and stored in PostgreSQL (metadata and embeddings)
and Qdrant (similarity search). Queries retrieve the best matching chunks
and answer with a generation model, citing sources.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute is the main entry point for the wrag CLI.
func Execute() error {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	return rootCmd.Execute()
}
