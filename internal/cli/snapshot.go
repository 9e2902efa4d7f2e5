package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corral-io/corral/internal/snapshot"
	"github.com/corral-io/corral/internal/store"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Push and pull project database snapshots",
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push <project-id>",
	Short: "Upload the project database to the configured bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]

		// The push reads the database file directly, so make sure no
		// open connection of ours is mid-write.
		st, err := store.NewStore(cfg.Store)
		if err != nil {
			return err
		}
		dbPath := st.ProjectPath(projectID)
		if err := st.Close(); err != nil {
			return err
		}

		snap, err := snapshot.New(cmd.Context(), cfg.Snapshot)
		if err != nil {
			return err
		}
		if err := snap.Push(cmd.Context(), projectID, dbPath); err != nil {
			return err
		}
		fmt.Printf("Pushed snapshot of project %s\n", projectID)
		return nil
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull <project-id>",
	Short: "Download the project database from the configured bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]

		st, err := store.NewStore(cfg.Store)
		if err != nil {
			return err
		}
		dbPath := st.ProjectPath(projectID)
		if err := st.Close(); err != nil {
			return err
		}

		snap, err := snapshot.New(cmd.Context(), cfg.Snapshot)
		if err != nil {
			return err
		}
		if err := snap.Pull(cmd.Context(), projectID, dbPath); err != nil {
			return err
		}
		fmt.Printf("Pulled snapshot of project %s\n", projectID)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotPushCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
}
