package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/docker/image-sorter/pkg/pipeline"
)

func newSortCmd(app *App) *cobra.Command {
	var (
		ruleFlags []string
		rulesFile string
	)
	c := &cobra.Command{
		Use:     "sort DIRECTORY",
		Short:   "Move every image in DIRECTORY into the folder of the rule it matches",
		Example: `  image-sorter sort ~/Pictures --rule "cats=Photos of cats" --rule "receipts=Scanned receipts or invoices"
  image-sorter sort ~/Pictures --rules-file rules.toml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []ruleEntry
			if rulesFile != "" {
				fromFile, err := loadRulesFile(rulesFile)
				if err != nil {
					return err
				}
				entries = append(entries, fromFile...)
			}
			for _, f := range ruleFlags {
				e, err := parseRuleFlag(f)
				if err != nil {
					return err
				}
				entries = append(entries, e)
			}
			rules, err := buildRules(entries)
			if err != nil {
				return err
			}
			if err := pipeline.ValidateRules(rules); err != nil {
				return err
			}

			_, err = runBatch(cmd, app, func(ctx context.Context, p *pipeline.Pipeline, session *pipeline.Session) (<-chan pipeline.Snapshot, error) {
				return p.Sort(ctx, session, args[0], rules)
			})
			return err
		},
	}
	c.Flags().StringArrayVar(&ruleFlags, "rule", nil, "Sorting rule as folder=prompt (repeatable)")
	c.Flags().StringVar(&rulesFile, "rules-file", "", "TOML file with [[rule]] tables of folder and prompt")
	return c
}
