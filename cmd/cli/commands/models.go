package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/docker/image-sorter/cmd/cli/commands/completion"
	"github.com/docker/image-sorter/cmd/cli/commands/formatter"
	"github.com/docker/image-sorter/pkg/catalog"
	"github.com/docker/image-sorter/pkg/config"
)

// variantStatus is one row of the models listing.
type variantStatus struct {
	Key         catalog.Key `json:"key"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Installed   bool        `json:"installed"`
	Active      bool        `json:"active"`
	// Size is the on-disk size of the variant's files.
	Size int64 `json:"size"`
}

func newModelsCmd(app *App) *cobra.Command {
	c := &cobra.Command{
		Use:   "models",
		Short: "Manage the vision model variants",
	}
	c.AddCommand(
		newModelsListCmd(app),
		newModelsDownloadCmd(app),
		newModelsUseCmd(app),
		newModelsDeleteCmd(app),
	)
	return c
}

func newModelsListCmd(app *App) *cobra.Command {
	var jsonFormat bool
	c := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the model variants and which one is active",
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := app.Store.Load()
			if err != nil {
				app.Log.Warnf("Settings unreadable, showing defaults: %v", err)
			}
			statuses := variantStatuses(app.Paths.ModelsDir, active)
			if jsonFormat {
				out, err := formatter.ToStandardJSON(statuses)
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			}
			cmd.Print(variantTable(statuses))
			return nil
		},
		ValidArgsFunction: completion.NoComplete,
	}
	c.Flags().BoolVar(&jsonFormat, "json", false, "List variants in a JSON format")
	return c
}

func newModelsDownloadCmd(app *App) *cobra.Command {
	c := &cobra.Command{
		Use:   "download VARIANT",
		Short: "Download a variant and make it the active model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newProgressPrinter(cmd.OutOrStdout())
			result, err := app.newHost().Run(cmd.Context(), catalog.Key(args[0]), p.handle)
			p.finish()
			if err != nil {
				return err
			}
			if result.Activated {
				cmd.Println(config.StartupMessage(result.Models))
			}
			return nil
		},
		ValidArgsFunction: completion.VariantKeys(app.Paths.ModelsDir, false, 1),
	}
	return c
}

func newModelsUseCmd(app *App) *cobra.Command {
	c := &cobra.Command{
		Use:   "use VARIANT",
		Short: "Make an installed variant the active model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := catalog.Lookup(catalog.Key(args[0]))
			if err != nil {
				return err
			}
			if !catalog.Installed(app.Paths.ModelsDir, v.Key) {
				return fmt.Errorf("variant %s is not installed, run 'image-sorter models download %s' first", v.Key, v.Key)
			}
			models, err := app.Store.Save(v.Paths(app.Paths.ModelsDir))
			if err != nil {
				return err
			}
			cmd.Println(config.StartupMessage(models))
			return nil
		},
		ValidArgsFunction: completion.VariantKeys(app.Paths.ModelsDir, true, 1),
	}
	return c
}

func newModelsDeleteCmd(app *App) *cobra.Command {
	c := &cobra.Command{
		Use:     "delete VARIANT",
		Aliases: []string{"rm"},
		Short:   "Delete a variant's files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := catalog.Delete(app.Paths.ModelsDir, catalog.Key(args[0]))
			if err != nil {
				return err
			}
			cmd.Println(summary)
			return nil
		},
		ValidArgsFunction: completion.VariantKeys(app.Paths.ModelsDir, true, 1),
	}
	return c
}

func variantStatuses(modelsDir string, active config.Models) []variantStatus {
	var statuses []variantStatus
	for _, v := range catalog.All() {
		mainPath, projPath := v.Paths(modelsDir)
		statuses = append(statuses, variantStatus{
			Key:         v.Key,
			Label:       v.Label,
			Description: v.Description,
			Installed:   catalog.Installed(modelsDir, v.Key),
			Active:      samePath(mainPath, active.Main) && samePath(projPath, active.Projector),
			Size:        fileSize(mainPath) + fileSize(projPath),
		})
	}
	return statuses
}

func variantTable(statuses []variantStatus) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)

	table.SetHeader([]string{"VARIANT", "LABEL", "SIZE", "STATUS"})

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetAutoWrapText(false)

	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, // VARIANT
		tablewriter.ALIGN_LEFT, // LABEL
		tablewriter.ALIGN_LEFT, // SIZE
		tablewriter.ALIGN_LEFT, // STATUS
	})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, s := range statuses {
		size, status := "-", "not installed"
		if s.Size > 0 {
			size = units.HumanSize(float64(s.Size))
		}
		switch {
		case s.Active && s.Installed:
			status = "active"
		case s.Installed:
			status = "installed"
		case s.Active:
			status = "active, missing files"
		}
		table.Append([]string{string(s.Key), s.Label, size, status})
	}

	table.Render()
	return buf.String()
}

func samePath(a, b string) bool {
	return a != "" && b != "" && filepath.Clean(a) == filepath.Clean(b)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	return info.Size()
}
