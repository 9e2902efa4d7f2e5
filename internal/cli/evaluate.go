package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corral-io/corral/internal/logging"
	"github.com/corral-io/corral/internal/watch"
)

var (
	evaluateWatch    bool
	evaluateInterval time.Duration
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <project-id>",
	Short: "Re-evaluate a project's composites and reconcile the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		projectID := args[0]
		if !evaluateWatch {
			if err := app.reconciler.EvaluateProject(cmd.Context(), projectID); err != nil {
				return err
			}
			fmt.Printf("Project %s evaluated.\n", projectID)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		registry := watch.NewRegistry()
		registry.Track(projectID, func(watchCtx context.Context) {
			ticker := time.NewTicker(evaluateInterval)
			defer ticker.Stop()
			for {
				if err := app.reconciler.EvaluateProject(watchCtx, projectID); err != nil {
					logging.Warn("evaluation failed", "project", projectID, "err", err)
				}
				select {
				case <-ticker.C:
				case <-watchCtx.Done():
					return
				case <-ctx.Done():
					return
				}
			}
		})

		fmt.Printf("Watching project %s (interval %s). Ctrl-C to stop.\n", projectID, evaluateInterval)
		<-ctx.Done()
		registry.StopAll()
		return nil
	},
}

func init() {
	evaluateCmd.Flags().BoolVarP(&evaluateWatch, "watch", "w", false, "re-evaluate continuously")
	evaluateCmd.Flags().DurationVar(&evaluateInterval, "interval", 30*time.Second, "re-evaluation interval with --watch")
}
