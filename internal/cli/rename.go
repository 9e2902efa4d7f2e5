package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename <project-id> <instance-id> <new-instance-id>",
	Short: "Rename an instance (the internal state id never changes)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.lifecycle.RenameInstance(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", args[1], args[2])
		return nil
	},
}
