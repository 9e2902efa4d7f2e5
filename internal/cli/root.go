package cli

import (
	"github.com/spf13/cobra"

	"github.com/corral-io/corral/internal/config"
	"github.com/corral-io/corral/internal/logging"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "State coordination for declarative infrastructure projects",
	Long: `Corral is the state-coordination core of a multi-tenant infrastructure
orchestration platform. Per project it:

  • arbitrates concurrent mutations through cooperative instance locks
  • reconciles evaluated virtual instances against persisted state,
    tracking orphaned (ghost) instances
  • performs cascading, transactional lifecycle transitions

Every state change is published to subscribers.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logging.Init(cfg.LogLevel)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "corral.toml", "path to the configuration file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(operationsCmd)
	rootCmd.AddCommand(unlockMethodCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}
