package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/estate-erp-api/internal/bootstrap"
	"github.com/noah-isme/estate-erp-api/internal/models"
	"github.com/noah-isme/estate-erp-api/pkg/config"
	"github.com/noah-isme/estate-erp-api/pkg/logger"
)

var (
	cfg  *config.Config
	logr *zap.Logger

	colorOK   = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorErr  = color.New(color.FgRed, color.Bold).SprintFunc()
	colorWarn = color.New(color.FgYellow).SprintFunc()
	colorInfo = color.New(color.FgBlue).SprintFunc()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "exportctl",
		Short:         "Estate ERP export engine operations",
		Long:          `Operate the Estate ERP query and export engine: migrations, workers, filter inspection and job history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			logr, err = logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
	}

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(newEntitiesCmd())
	root.AddCommand(newJobsCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorErr("error:"), err)
		os.Exit(1)
	}
}

// connect builds the full component graph for commands that touch storage.
func connect() (*bootstrap.Components, error) {
	return bootstrap.Build(cfg, logr)
}

func statusColor(status models.ExportJobStatus) string {
	switch status {
	case models.ExportJobCompleted:
		return colorOK(string(status))
	case models.ExportJobFailed:
		return colorErr(string(status))
	case models.ExportJobRunning:
		return colorInfo(string(status))
	default:
		return colorWarn(string(status))
	}
}
