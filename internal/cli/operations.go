package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var operationsLimit int

var operationsCmd = &cobra.Command{
	Use:   "operations <project-id>",
	Short: "List recent operations of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ops, err := app.operations.List(cmd.Context(), args[0], operationsLimit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			finished := "running"
			if op.FinishedAt != nil {
				finished = op.FinishedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-12s started=%s finished=%s\n",
				op.ID, op.Type, op.StartedAt.Format("2006-01-02 15:04:05"), finished)
		}
		return nil
	},
}

func init() {
	operationsCmd.Flags().IntVar(&operationsLimit, "limit", 20, "maximum operations to list")
}
