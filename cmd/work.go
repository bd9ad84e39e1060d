package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/enrichment-service/internal/queue"
)

var workConcurrency int

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Start the enrichment worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := workConcurrency
		if concurrency == 0 {
			concurrency = cfg.Queue.Concurrency
		}

		worker := queue.NewWorker(queue.WorkerConfig{
			Concurrency:     concurrency,
			TotalIterations: cfg.Agent.MaxIterations,
		}, env.Queue, env.Agent, env.Bus)

		return worker.Run(ctx)
	},
}

func init() {
	workCmd.Flags().IntVar(&workConcurrency, "concurrency", 0, "parallel jobs (default from config)")
	rootCmd.AddCommand(workCmd)
}
