package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/snapquiz/internal/control"
	"github.com/vietddude/snapquiz/internal/core/worker"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete persisted dispatch history older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "override retention.period")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	retention := cfg.Retention
	if pruneOlderThan > 0 {
		retention.Period = pruneOlderThan
	}
	if retention.Period <= 0 {
		return fmt.Errorf("retention period must be positive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, _, err := control.OpenRepository(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	n := worker.NewPruner(retention, repo).Prune(ctx)
	fmt.Printf("Deleted %d dispatches older than %s\n", n, retention.Period)
	return nil
}
