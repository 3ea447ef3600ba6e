package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/types"
	"github.com/perrindel/cardsync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and review the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	Long: `List queue items, newest last. By default only pending items are
shown; use --status to select another state or --all for everything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := types.QueueFilter{Limit: limit}
		if !all {
			if status == "" {
				status = string(types.StatusPending)
			}
			filter.Statuses = []types.SyncStatus{types.SyncStatus(status)}
		}
		items, err := queueSvc.ByFilter(ctx, filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(items)
		}
		if len(items) == 0 {
			fmt.Println(ui.RenderMuted("queue is empty"))
			return nil
		}
		t := ui.NewTable("ID", "CONTACT", "OP", "STATUS", "RETRIES", "ERROR")
		for _, it := range items {
			t.Row(strconv.FormatInt(it.ID, 10), it.ContactID, string(it.Operation),
				ui.StatusStyle(string(it.SyncStatus)).Render(string(it.SyncStatus)),
				strconv.Itoa(it.RetryCount), it.ErrorMessage)
		}
		fmt.Println(t)
		return nil
	},
}

var queueApproveCmd = &cobra.Command{
	Use:   "approve <id>... | --all",
	Short: "Approve pending items for sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewItems(cmd, args, true)
	},
}

var queueRejectCmd = &cobra.Command{
	Use:   "reject <id>... | --all",
	Short: "Reject pending items",
	Long: `Mark pending items reviewed without approving them. Rejected items
stay pending and are never picked up by the sync engine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewItems(cmd, args, false)
	},
}

func reviewItems(cmd *cobra.Command, args []string, approve bool) error {
	ctx := cmd.Context()
	if err := ensureStore(ctx); err != nil {
		return err
	}

	var ids []int64
	if all, _ := cmd.Flags().GetBool("all"); all {
		pending, err := queueSvc.Pending(ctx)
		if err != nil {
			return err
		}
		for _, it := range pending {
			if it.Approved == nil { // unreviewed only
				ids = append(ids, it.ID)
			}
		}
	} else {
		if len(args) == 0 {
			return fmt.Errorf("provide item ids or --all")
		}
		for _, a := range args {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", a)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		fmt.Println(ui.RenderMuted("nothing to review"))
		return nil
	}

	var err error
	if len(ids) == 1 {
		if approve {
			err = queueSvc.Approve(ctx, ids[0])
		} else {
			err = queueSvc.Reject(ctx, ids[0])
		}
	} else {
		if approve {
			err = queueSvc.ApproveMany(ctx, ids)
		} else {
			err = queueSvc.RejectMany(ctx, ids)
		}
	}
	if err != nil {
		return err
	}

	verb := "rejected"
	if approve {
		verb = "approved"
	}
	fmt.Println(ui.RenderPass(fmt.Sprintf("✓ %s %d item(s)", verb, len(ids))))
	return nil
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Re-approve failed items",
	Long: `Move failed items back to approved so the next sync attempt picks
them up. With an id, retries that one item; without, retries all failed
items. Retry counts are preserved.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			if err := queueSvc.Retry(ctx, id); err != nil {
				return err
			}
			fmt.Println(ui.RenderPass("✓ item re-approved"))
			return nil
		}
		n, err := queueSvc.RetryFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderPass(fmt.Sprintf("✓ re-approved %d failed item(s)", n)))
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-status queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		stats, err := queueSvc.Stats(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}
		t := ui.NewTable("STATUS", "COUNT")
		t.Row("pending", strconv.Itoa(stats.Pending))
		t.Row("approved", strconv.Itoa(stats.Approved))
		t.Row("syncing", strconv.Itoa(stats.Syncing))
		t.Row("synced", strconv.Itoa(stats.Synced))
		t.Row("failed", strconv.Itoa(stats.Failed))
		fmt.Println(t)
		return nil
	},
}

func init() {
	queueListCmd.Flags().Bool("all", false, "list every status")
	queueListCmd.Flags().String("status", "", "filter by status (pending, approved, syncing, synced, failed)")
	queueListCmd.Flags().Int("limit", 50, "maximum items to list")
	queueApproveCmd.Flags().Bool("all", false, "approve every unreviewed item")
	queueRejectCmd.Flags().Bool("all", false, "reject every unreviewed item")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueApproveCmd)
	queueCmd.AddCommand(queueRejectCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueStatsCmd)
	rootCmd.AddCommand(queueCmd)
}
