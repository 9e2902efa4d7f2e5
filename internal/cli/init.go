package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init <project-id>",
	Short: "Create (or migrate) a project database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if _, err := app.store.Project(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Project %s initialized at %s\n", args[0], app.store.ProjectPath(args[0]))
		return nil
	},
}
