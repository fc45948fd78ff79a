package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/docker/image-sorter/pkg/download"
)

// newWorkerCmd is the entry point of the isolated download process started
// by 'models download'. Its stdout carries only the message stream.
func newWorkerCmd(_ *App) *cobra.Command {
	c := &cobra.Command{
		Use:    download.WorkerCommand + " MODELS_DIR VARIANT",
		Short:  "Download a variant, reporting progress as NDJSON on stdout",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return download.RunWorker(cmd.Context(), os.Stdout, os.Stderr, args[0], args[1])
		},
	}
	return c
}
