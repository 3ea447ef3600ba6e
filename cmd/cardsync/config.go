package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/config"
	"github.com/perrindel/cardsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write synchronization settings",
	Long: `Synchronization settings live in the store and apply to every command
that syncs. Keys:

  auto_sync                   enable the periodic sync scheduler
  auto_sync_interval_minutes  scheduler interval
  max_retries                 attempts per queue item before giving up
  retry_delay_ms              base backoff delay
  max_retry_delay_ms          backoff ceiling
  conflict_resolution         manual, local, or remote
  sync_on_startup             drain approved items when the watcher starts
  sync_on_import              drain approved items right after an import`,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show one setting or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		cfg, err := cfgMgr.Load(ctx)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			value, err := config.Field(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(cfg)
		}
		t := ui.NewTable("KEY", "VALUE")
		for _, kv := range config.Fields(cfg) {
			t.Row(kv[0], kv[1])
		}
		fmt.Println(t)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Update one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		cfg, err := cfgMgr.SetField(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		value, _ := config.Field(cfg, args[0])
		fmt.Println(ui.RenderPass(fmt.Sprintf("✓ %s = %s", args[0], value)))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
