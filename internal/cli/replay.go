package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ordersight/ordersight"
	"github.com/ordersight/ordersight/internal/config"
	"github.com/ordersight/ordersight/internal/storage"
)

var replayCmd = &cobra.Command{
	Use:   "replay [run_id]",
	Short: "Re-derive run state from the persisted event log",
	Long: `Read a run's raw events back from the Postgres event log, fold them
through the same canonicalization the server applies on ingest, and
print the resulting stage records as JSON.

Because reconciliation is order-insensitive and idempotent, the output
matches what the live server held when the events arrived. With no
run_id, lists the run ids present in the log.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("replay requires DATABASE_URL")
		}

		limit, _ := cmd.Flags().GetInt("limit")
		return runReplay(cmd, cfg, args, limit)
	},
}

func init() {
	replayCmd.Flags().Int("limit", 0, "Maximum events to read (0 = storage default)")
}

func runReplay(cmd *cobra.Command, cfg config.Config, args []string, limit int) error {
	ctx := cmd.Context()
	logger := newLogger(cfg.LogLevel)

	db, err := openEventLog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")

	if len(args) == 0 {
		ids, err := db.RunIDs(ctx)
		if err != nil {
			return err
		}
		return out.Encode(map[string]any{"run_ids": ids})
	}

	runID := args[0]
	stored, err := db.EventsByRun(ctx, runID, limit)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return fmt.Errorf("no events for run %s", runID)
	}

	inputs := make([]ordersight.EventInput, len(stored))
	for i, s := range stored {
		inputs[i] = s.Event
	}

	engine := ordersight.New(ordersight.WithLogger(logger))
	records := engine.Deduplicate(inputs)

	return out.Encode(map[string]any{
		"run_id": runID,
		"events": len(stored),
		"stages": records,
	})
}

// openEventLog connects to Postgres without a notify connection;
// replay only reads.
func openEventLog(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return db, nil
}
