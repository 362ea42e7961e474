package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/estate-erp-api/internal/service"
	"github.com/noah-isme/estate-erp-api/pkg/cache"
	"github.com/noah-isme/estate-erp-api/pkg/config"
	"github.com/noah-isme/estate-erp-api/pkg/jobs"
)

func newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the asynq export worker",
		Long:  `Consume export tasks from Redis. Jobs left running by a previous worker are failed on start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Jobs.Backend != config.JobsBackendAsynq {
				return fmt.Errorf("worker requires JOBS_BACKEND=%s, got %s", config.JobsBackendAsynq, cfg.Jobs.Backend)
			}
			comps, err := connect()
			if err != nil {
				return err
			}
			defer comps.Close()

			interrupted, err := comps.Worker.FailInterrupted(cmd.Context())
			if err != nil {
				return fmt.Errorf("fail interrupted export jobs: %w", err)
			}
			if interrupted > 0 {
				logr.Warn("failed interrupted export jobs", zap.Int64("count", interrupted))
			}

			if concurrency <= 0 {
				concurrency = cfg.Jobs.Workers
			}
			srv := jobs.NewAsynqServer(cache.AsynqOpt(cfg.Redis), jobs.AsynqConfig{
				Queue:       cfg.Jobs.AsynqQueue,
				MaxRetries:  cfg.Jobs.Retries,
				Timeout:     cfg.Jobs.Timeout,
				Concurrency: concurrency,
				Logger:      logr.Named("asynq"),
			})
			mux := jobs.NewAsynqMux(service.ExportTaskType, comps.Worker.Handle)
			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("start asynq server: %w", err)
			}
			logr.Sugar().Infow("export worker started", "queue", cfg.Jobs.AsynqQueue, "concurrency", concurrency)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logr.Info("shutting down export worker")
			srv.Shutdown()
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker concurrency (defaults to JOBS_WORKERS)")
	return cmd
}
