package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docker/image-sorter/pkg/pipeline"
)

func newSearchCmd(app *App) *cobra.Command {
	c := &cobra.Command{
		Use:     "search DIRECTORY QUERY...",
		Short:   "List the images in DIRECTORY that match QUERY",
		Example: `  image-sorter search ~/Pictures "a red car parked at night"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args[1:], " ")
			last, err := runBatch(cmd, app, func(ctx context.Context, p *pipeline.Pipeline, session *pipeline.Session) (<-chan pipeline.Snapshot, error) {
				return p.Search(ctx, session, args[0], query)
			})
			if len(last.Matches) > 0 {
				cmd.Println("\nMatches:")
				for _, m := range last.Matches {
					cmd.Println(m)
				}
			}
			return err
		},
	}
	return c
}
