package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/types"
	"github.com/perrindel/cardsync/internal/ui"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show usage counters from the activity ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		var (
			totals *types.ActivityTotals
			err    error
		)
		if sessionID, _ := cmd.Flags().GetString("session"); sessionID != "" {
			totals, err = ledger.SessionTotals(ctx, sessionID)
		} else {
			totals, err = ledger.Totals(ctx)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(totals)
		}
		t := ui.NewTable("COUNTER", "VALUE")
		t.Row("api calls", strconv.Itoa(totals.APICalls))
		t.Row("api failures", strconv.Itoa(totals.APIFailures))
		t.Row("contact views", strconv.Itoa(totals.ContactViews))
		t.Row("tool executions", strconv.Itoa(totals.ToolExecutions))
		fmt.Println(t)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete synced queue items older than a cutoff",
	Long: `Remove synced queue items older than --older-than days. Only the
terminal synced state is swept; pending, approved, and failed items are
never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("older-than")
		if days < 0 {
			return fmt.Errorf("--older-than must not be negative")
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := store.DeleteSyncedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderPass(fmt.Sprintf("✓ deleted %d synced item(s)", n)))
		return nil
	},
}

func init() {
	activityCmd.Flags().String("session", "", "scope counters to one import session")
	cleanupCmd.Flags().Int("older-than", 30, "age threshold in days")
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(cleanupCmd)
}
