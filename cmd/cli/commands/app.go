package commands

import (
	"github.com/sirupsen/logrus"

	"github.com/docker/image-sorter/pkg/config"
	"github.com/docker/image-sorter/pkg/download"
	"github.com/docker/image-sorter/pkg/engine"
	"github.com/docker/image-sorter/pkg/metrics"
)

// App carries the process-wide state the commands share. main fills it in
// from the environment before the root command runs.
type App struct {
	// Log is the root logger.
	Log *logrus.Logger
	// Paths is the installation layout.
	Paths config.Paths
	// Store holds the active model pair.
	Store *config.Store
	// Engine configures the inference engine. Flags may adjust it.
	Engine *engine.Config
	// Metrics is set when --metrics-addr is given.
	Metrics *metrics.Metrics
	// WorkerCommand overrides the command line used to start download
	// workers. Empty re-executes the current binary.
	WorkerCommand []string
}

// NewApp creates an App for the installation rooted at paths.
func NewApp(log *logrus.Logger, paths config.Paths, engineConfig *engine.Config) *App {
	return &App{
		Log:    log,
		Paths:  paths,
		Store:  config.NewStore(paths),
		Engine: engineConfig,
	}
}

func (a *App) newSupervisor() *engine.Supervisor {
	return engine.NewSupervisor(
		a.Log.WithField("component", "supervisor"),
		a.Log.WithField("component", "engine"),
		a.Engine,
		a.Metrics,
	)
}

func (a *App) newHost() *download.Host {
	return download.NewHost(
		a.Log.WithField("component", "download"),
		a.Paths.ModelsDir,
		a.Store,
		a.Metrics,
		a.WorkerCommand...,
	)
}
