package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docker/image-sorter/cmd/cli/commands/formatter"
	"github.com/docker/image-sorter/pkg/config"
)

// configView is what 'config show' reports.
type configView struct {
	Home       string        `json:"home"`
	ModelsDir  string        `json:"models_dir"`
	ScratchDir string        `json:"scratch_dir"`
	Settings   string        `json:"settings_file"`
	Engine     string        `json:"engine"`
	EngineArgs []string      `json:"engine_args,omitempty"`
	LowVRAM    bool          `json:"low_vram"`
	Models     config.Models `json:"models"`
	Ready      bool          `json:"ready"`
}

func newConfigCmd(app *App) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Show or change the active configuration",
	}
	c.AddCommand(newConfigShowCmd(app), newConfigSetCmd(app))
	return c
}

func newConfigShowCmd(app *App) *cobra.Command {
	var jsonFormat bool
	c := &cobra.Command{
		Use:   "show",
		Short: "Show the installation paths and the active model pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := app.Store.Load()
			if err != nil {
				app.Log.Warnf("Settings unreadable, showing defaults: %v", err)
			}
			view := configView{
				Home:       app.Paths.Home,
				ModelsDir:  app.Paths.ModelsDir,
				ScratchDir: app.Paths.ScratchDir,
				Settings:   app.Paths.SettingsFile,
				Engine:     app.Engine.ServerPath,
				EngineArgs: app.Engine.Args,
				LowVRAM:    app.Engine.LowVRAM,
				Models:     models,
				Ready:      models.Exist(),
			}
			if jsonFormat {
				out, err := formatter.ToStandardJSON(view)
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			}
			cmd.Printf("Home:      %s\n", view.Home)
			cmd.Printf("Models:    %s\n", view.ModelsDir)
			cmd.Printf("Settings:  %s\n", view.Settings)
			cmd.Printf("Engine:    %s\n", view.Engine)
			cmd.Printf("Main:      %s\n", models.Main)
			cmd.Printf("Projector: %s\n", models.Projector)
			cmd.Println()
			cmd.Println(config.StartupMessage(models))
			return nil
		},
	}
	c.Flags().BoolVar(&jsonFormat, "json", false, "Show the configuration in a JSON format")
	return c
}

func newConfigSetCmd(app *App) *cobra.Command {
	c := &cobra.Command{
		Use:   "set MAIN_GGUF MMPROJ_GGUF",
		Short: "Use a custom main weights and projector file pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := app.Store.Save(args[0], args[1])
			if err != nil {
				return err
			}
			if !models.Exist() {
				return fmt.Errorf("saved, but one of the files does not exist:\n  %s\n  %s", models.Main, models.Projector)
			}
			cmd.Println(config.StartupMessage(models))
			return nil
		},
	}
	return c
}
