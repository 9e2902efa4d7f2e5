package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corral-io/corral/internal/lock"
	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/store"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and manage instance locks",
}

var locksListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List the instance locks held in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		db, err := app.store.Project(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var locks []model.InstanceLock
		err = db.WithTx(cmd.Context(), func(tx *store.Tx) error {
			locks, err = tx.ListLocks(cmd.Context())
			return err
		})
		if err != nil {
			return err
		}

		if len(locks) == 0 {
			fmt.Println("No locks held.")
			return nil
		}
		for _, l := range locks {
			fmt.Printf("%-40s token=%s age=%s meta=%q\n",
				l.StateID, l.Token, time.Since(l.AcquiredAt).Round(time.Second), l.Meta)
		}
		return nil
	},
}

var (
	acquireMeta string
	acquireWait time.Duration
)

var locksAcquireCmd = &cobra.Command{
	Use:   "acquire <project-id> <state-id>...",
	Short: "Acquire locks, blocking until every instance is free",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		token, locked, err := app.locks.Lock(cmd.Context(), args[0], lock.LockRequest{
			StateIDs:      args[1:],
			Meta:          acquireMeta,
			EventWaitTime: acquireWait,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Locked %d instance(s), token %s\n", len(locked), token)
		return nil
	},
}

var releaseToken string

var locksReleaseCmd = &cobra.Command{
	Use:   "release <project-id> <state-id>...",
	Short: "Release locks held under a token",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if releaseToken == "" {
			return fmt.Errorf("--token is required")
		}
		return app.locks.Unlock(cmd.Context(), args[0], args[1:], releaseToken, nil)
	},
}

var locksForceReleaseCmd = &cobra.Command{
	Use:   "force-release <project-id> <state-id>...",
	Short: "Release locks regardless of token (forced cleanup)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		return app.locks.UnlockUnconditionally(cmd.Context(), args[0], args[1:])
	},
}

func init() {
	locksAcquireCmd.Flags().StringVar(&acquireMeta, "meta", "manual lock", "human-readable lock description")
	locksAcquireCmd.Flags().DurationVar(&acquireWait, "event-wait", time.Minute, "wait per retry before re-reading lock state")
	locksReleaseCmd.Flags().StringVar(&releaseToken, "token", "", "token the locks were acquired under")

	locksCmd.AddCommand(locksListCmd)
	locksCmd.AddCommand(locksAcquireCmd)
	locksCmd.AddCommand(locksReleaseCmd)
	locksCmd.AddCommand(locksForceReleaseCmd)
}
