package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wragapp/wrag/internal/config"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Register and index every file in the storage directory",
	Long: `Walks the configured storage directory, registers every file, and
reconciles all documents whose content changed since the last run.
Unchanged documents are skipped.`,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.indexStoredFiles(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d document(s)\n", n)
	return nil
}
