package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/docker/image-sorter/cmd/cli/commands"
	"github.com/docker/image-sorter/pkg/config"
	"github.com/docker/image-sorter/pkg/engine"
)

var log = logrus.New()

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	home := os.Getenv("IMAGE_SORTER_HOME")
	if home == "" {
		home = executableDir()
	}
	paths := config.NewPaths(home)

	if serverPath := os.Getenv("LLAMA_SERVER_PATH"); serverPath != "" {
		paths.EngineBinary = serverPath
	}
	log.Debugf("LLAMA_SERVER_PATH: %s", paths.EngineBinary)

	// Create the engine configuration from environment variables
	engineConfig := createEngineConfigFromEnv(paths.EngineBinary)

	app := commands.NewApp(log, paths, engineConfig)
	if err := commands.NewRootCmd(app).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}

// executableDir is the default installation root.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// createEngineConfigFromEnv creates an engine configuration from environment
// variables
func createEngineConfigFromEnv(serverPath string) *engine.Config {
	conf := engine.NewDefaultConfig(serverPath)

	if portStr := os.Getenv("IMAGE_SORTER_ENGINE_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			log.Fatalf("IMAGE_SORTER_ENGINE_PORT must be a TCP port number, got %q", portStr)
			return conf
		}
		conf.Port = port
	}

	argsStr := os.Getenv("LLAMA_ARGS")
	if argsStr == "" {
		return conf
	}

	// Split the string respecting quoting and reject supervisor-owned flags
	args, err := engine.ParseArgs(argsStr)
	if err != nil {
		log.Fatalf("LLAMA_ARGS cannot be used: %v", err)
		return conf
	}

	log.Infof("Using custom arguments: %v", args)
	conf.Args = args
	return conf
}
