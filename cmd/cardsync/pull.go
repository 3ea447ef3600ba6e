package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/engine"
	"github.com/perrindel/cardsync/internal/ui"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Ingest all remote contacts into the local store",
	Long: `Walk the remote contact list with cursor pagination and upsert every
contact locally with source=api. Pulled rows bypass the queue: they were
just read from the remote, so they are already in sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		client, err := buildRemote()
		if err != nil {
			return err
		}
		pageSize, _ := cmd.Flags().GetInt("page-size")

		eng := engine.New(store, queueSvc, client, engine.Options{Logger: logger})
		total, err := eng.Pull(ctx, client, pageSize)
		ledger.APICall(ctx, "contacts.scroll", err == nil)
		if err != nil {
			return fmt.Errorf("pull stopped after %d contacts: %w", total, err)
		}
		fmt.Println(ui.RenderPass(fmt.Sprintf("✓ pulled %d contacts", total)))
		return nil
	},
}

func init() {
	pullCmd.Flags().Int("page-size", 100, "contacts per page")
	rootCmd.AddCommand(pullCmd)
}
