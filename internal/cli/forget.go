package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corral-io/corral/internal/lifecycle"
)

var (
	forgetDeleteSecrets     bool
	forgetClearTerminalData bool
)

var forgetCmd = &cobra.Command{
	Use:   "forget <project-id> <instance-id>...",
	Short: "Undeploy instances and their deployed descendants",
	Long: `Forget transitions the named instances (and, for composites, every
deployed descendant) to undeployed in one transaction, then runs
best-effort cleanup of workers, artifacts and backing resources.

Locked instances are refused; release their locks first.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		projectID, instanceIDs := args[0], args[1:]
		err = app.lifecycle.ForgetInstanceStates(cmd.Context(), projectID, instanceIDs, lifecycle.ForgetOptions{
			DeleteSecrets:     forgetDeleteSecrets,
			ClearTerminalData: forgetClearTerminalData,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Forgot %d instance(s).\n", len(instanceIDs))
		return nil
	},
}

func init() {
	forgetCmd.Flags().BoolVar(&forgetDeleteSecrets, "delete-secrets", false, "also delete instance secrets")
	forgetCmd.Flags().BoolVar(&forgetClearTerminalData, "clear-terminal-data", false, "delete terminals instead of marking them unavailable")
}
