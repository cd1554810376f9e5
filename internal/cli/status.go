package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/snapquiz/internal/control"
	"github.com/vietddude/snapquiz/internal/quiz/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of the request lane from the persisted history",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, _, err := control.OpenRepository(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	now := time.Now()
	rec, err := repo.Load(ctx, now.Add(-cfg.Health.Window))
	if err != nil {
		slog.Error("Failed to load request record", "error", err)
		return err
	}

	st := health.Evaluate(rec, now, cfg.Health)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATE\tLABEL\tREQUESTS\tWINDOW\tCOOLDOWN")
	cooldown := "-"
	if st.RemainingSeconds > 0 {
		cooldown = fmt.Sprintf("%ds", st.RemainingSeconds)
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", st.State, st.Label, st.RequestsInWindow, cfg.Health.Window, cooldown)
	return w.Flush()
}
