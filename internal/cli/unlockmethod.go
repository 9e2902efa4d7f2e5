package cli

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

var unlockMethodCmd = &cobra.Command{
	Use:   "unlock-method",
	Short: "Manage a project's unlock methods",
}

var (
	unlockMethodKind string
	unlockMethodKey  string
)

var unlockMethodAddCmd = &cobra.Command{
	Use:   "add <project-id> <name>",
	Short: "Register a recipient for the project's master key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		wrapped, err := base64.StdEncoding.DecodeString(unlockMethodKey)
		if err != nil {
			return fmt.Errorf("decode --wrapped-key: %w", err)
		}
		m, err := app.unlockers.AddMethod(cmd.Context(), args[0], args[1], unlockMethodKind, wrapped)
		if err != nil {
			return err
		}
		fmt.Printf("Added unlock method %s (%s)\n", m.ID, m.Name)
		return nil
	},
}

var unlockMethodRemoveCmd = &cobra.Command{
	Use:   "remove <project-id> <method-id>",
	Short: "Remove a recipient (the last remaining method cannot be removed)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		return app.unlockers.RemoveMethod(cmd.Context(), args[0], args[1])
	},
}

var unlockMethodListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List the project's unlock methods",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		methods, err := app.unlockers.Methods(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(methods) == 0 {
			fmt.Println("No unlock methods registered.")
			return nil
		}
		for _, m := range methods {
			fmt.Printf("%s  %-20s kind=%s created=%s\n",
				m.ID, m.Name, m.Kind, m.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	unlockMethodAddCmd.Flags().StringVar(&unlockMethodKind, "kind", "passphrase", "method kind (passphrase, keyfile, recovery)")
	unlockMethodAddCmd.Flags().StringVar(&unlockMethodKey, "wrapped-key", "", "base64-encoded wrapped master key")

	unlockMethodCmd.AddCommand(unlockMethodAddCmd)
	unlockMethodCmd.AddCommand(unlockMethodRemoveCmd)
	unlockMethodCmd.AddCommand(unlockMethodListCmd)
}
