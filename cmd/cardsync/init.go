package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local store and schema",
	Long: `Create the SQLite store, apply the schema, and record the schema
version. Running init against an existing store is safe: schema creation
is idempotent and existing data is never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		fmt.Println(ui.RenderPass("✓ store ready at " + store.Path()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
