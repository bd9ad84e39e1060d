package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var enrichUserID string

var enrichCmd = &cobra.Command{
	Use:   "enrich <person-id>",
	Short: "Run one enrichment synchronously, bypassing the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		personID := args[0]
		jobID := uuid.NewString()

		outcome, err := env.Agent.Enrich(ctx, personID, jobID, enrichUserID)
		if err != nil {
			return err
		}

		zap.L().Info("enrichment finished",
			zap.String("person_id", personID),
			zap.Int("iterations", outcome.Iterations),
			zap.Float64("confidence", outcome.Confidence))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome.Data)
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichUserID, "user", "cli", "user id recorded on the job")
	rootCmd.AddCommand(enrichCmd)
}
