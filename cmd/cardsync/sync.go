package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/engine"
	"github.com/perrindel/cardsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync [id]",
	Short: "Push approved queue items to the remote API",
	Long: `Drain the queue: claim each approved item, execute its operation
against the remote API, and mark it synced or failed. Transient remote
errors are retried with exponential backoff up to the configured limit;
permanent errors fail the item immediately, and each item's remote work
runs under a wall-clock budget.

Only one sync runs at a time. With --resume, failed items are first
re-approved and included in the drain. With an id, only that approved
item is synced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		client, err := buildRemote()
		if err != nil {
			return err
		}
		cfg, err := cfgMgr.Load(ctx)
		if err != nil {
			return err
		}

		eng := engine.New(store, queueSvc, client, engine.Options{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  time.Duration(cfg.RetryDelayMs) * time.Millisecond,
			MaxDelay:   time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond,
			Logger:     logger,
		})

		if len(args) == 1 {
			return syncOneItem(ctx, eng, args[0])
		}

		progress := func(p engine.Progress) {
			if jsonOutput || p.CurrentItem == nil {
				return
			}
			fmt.Printf("\r%s [%d/%d] %s %s %s",
				ui.RenderMuted("sync"), p.Current, p.Total,
				p.CurrentItem.Operation, p.CurrentItem.ContactID,
				ui.RenderMuted(p.StepText))
			if p.StepText == "finalize" {
				fmt.Println()
			}
		}

		var summary *engine.Summary
		if resume, _ := cmd.Flags().GetBool("resume"); resume {
			summary, err = eng.ResumeFailed(ctx, progress)
		} else {
			summary, err = eng.SyncApproved(ctx, progress)
		}
		if errors.Is(err, engine.ErrSyncInProgress) {
			return fmt.Errorf("another sync is already running")
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(summary)
		}
		line := fmt.Sprintf("synced %d/%d item(s) in %s", summary.Success, summary.Total, summary.Duration.Round(time.Millisecond))
		if summary.Failure > 0 {
			fmt.Println(ui.RenderWarn(fmt.Sprintf("⚠ %s, %d failed", line, summary.Failure)))
			fmt.Println(ui.RenderMuted("inspect with: cardsync queue list --status failed"))
			return nil
		}
		fmt.Println(ui.RenderPass("✓ " + line))
		return nil
	},
}

func syncOneItem(ctx context.Context, eng *engine.Engine, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item id %q", arg)
	}
	res, err := eng.SyncItem(ctx, id)
	if errors.Is(err, engine.ErrSyncInProgress) {
		return fmt.Errorf("another sync is already running")
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(res)
	}
	switch {
	case res.Success:
		fmt.Println(ui.RenderPass(fmt.Sprintf("✓ item %d synced", id)))
	case res.Skipped:
		fmt.Println(ui.RenderMuted(fmt.Sprintf("item %d was claimed elsewhere", id)))
	default:
		fmt.Println(ui.RenderFail(fmt.Sprintf("✗ item %d failed: %s", id, res.Error)))
	}
	return nil
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Survey approved updates for remote conflicts",
	Long: `Compare each approved update's captured baseline against the current
remote contact without mutating anything. A hash mismatch means the
remote changed after the update was queued.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		client, err := buildRemote()
		if err != nil {
			return err
		}
		eng := engine.New(store, queueSvc, client, engine.Options{Logger: logger})
		conflicts, err := eng.DetectConflicts(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(conflicts)
		}
		if len(conflicts) == 0 {
			fmt.Println(ui.RenderPass("✓ no conflicts detected"))
			return nil
		}
		t := ui.NewTable("ITEM", "CONTACT", "KIND", "DETAIL")
		for _, c := range conflicts {
			t.Row(fmt.Sprint(c.ItemID), c.ContactID, string(c.Kind), c.Detail)
		}
		fmt.Println(t)
		fmt.Println(ui.RenderWarn(fmt.Sprintf("⚠ %d conflict(s)", len(conflicts))))
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("resume", false, "re-approve failed items before draining")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(conflictsCmd)
}
