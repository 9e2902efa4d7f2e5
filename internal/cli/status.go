package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show instance states, locks and ghosts of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		return showStatus(cmd.Context(), app, args[0])
	},
}

func showStatus(ctx context.Context, app *app, projectID string) error {
	db, err := app.store.Project(ctx, projectID)
	if err != nil {
		return err
	}

	var states []*model.InstanceState
	var locks []model.InstanceLock
	var virtual []store.VirtualStateRow
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		if states, err = tx.ListInstanceStates(ctx); err != nil {
			return err
		}
		if locks, err = tx.ListLocks(ctx); err != nil {
			return err
		}
		virtual, err = tx.ListVirtualStates(ctx)
		return err
	})
	if err != nil {
		return err
	}

	lockedBy := make(map[string]string, len(locks))
	for _, l := range locks {
		lockedBy[l.StateID] = l.Meta
	}
	ghosts := make(map[string]bool)
	for _, row := range virtual {
		if row.IsGhost() {
			ghosts[row.State.ID] = true
		}
	}

	fmt.Printf("Project: %s\n\n", projectID)
	if len(states) == 0 {
		fmt.Println("No instance states.")
		return nil
	}
	for _, st := range states {
		marker := " "
		switch {
		case ghosts[st.ID]:
			marker = "!"
		case lockedBy[st.ID] != "":
			marker = "*"
		}
		fmt.Printf("%s %-40s %-10s %-9s %s", marker, st.InstanceID, st.Kind, st.Source, st.Status)
		if meta := lockedBy[st.ID]; meta != "" {
			fmt.Printf("  [locked: %s]", meta)
		}
		if ghosts[st.ID] {
			fmt.Printf("  [ghost]")
		}
		fmt.Println()
	}
	return nil
}
