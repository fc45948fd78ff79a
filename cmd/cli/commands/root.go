package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/docker/image-sorter/pkg/config"
	"github.com/docker/image-sorter/pkg/download"
	"github.com/docker/image-sorter/pkg/metrics"
)

// NewRootCmd builds the command tree for app.
func NewRootCmd(app *App) *cobra.Command {
	var (
		debug       bool
		lowVRAM     bool
		metricsAddr string
		colorMode   string
	)
	rootCmd := &cobra.Command{
		Use:           "image-sorter",
		Short:         "Sort and search images with a local vision model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				app.Log.SetLevel(logrus.DebugLevel)
			}
			if lowVRAM {
				app.Engine.LowVRAM = true
			}
			switch colorMode {
			case "yes":
				color.NoColor = false
			case "no":
				color.NoColor = true
			case "auto":
			default:
				return fmt.Errorf("invalid --color value %q (want auto, yes or no)", colorMode)
			}
			// The worker runs alongside a host that owns the scratch directory.
			if cmd.Name() == download.WorkerCommand {
				return nil
			}
			if err := app.Paths.EnsureDirs(); err != nil {
				return err
			}
			if err := config.ClearDir(app.Paths.ScratchDir); err != nil {
				app.Log.Warnf("Unable to clear scratch directory: %v", err)
			}
			if metricsAddr != "" {
				startMetrics(cmd, app, metricsAddr)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&lowVRAM, "low-vram", false, "Keep the projector on the CPU and enable flash attention")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "Use colored output (auto|yes|no)")
	rootCmd.AddCommand(
		newSortCmd(app),
		newSearchCmd(app),
		newModelsCmd(app),
		newConfigCmd(app),
		newWorkerCmd(app),
	)
	return rootCmd
}

func startMetrics(cmd *cobra.Command, app *App, addr string) {
	app.Metrics = metrics.New()
	app.Engine.Transport = app.Metrics.InstrumentTransport(app.Engine.Transport)
	log := app.Log.WithField("component", "metrics")
	go func() {
		if err := app.Metrics.Serve(cmd.Context(), log, addr); err != nil {
			log.Warnf("Metrics server stopped: %v", err)
		}
	}()
}
