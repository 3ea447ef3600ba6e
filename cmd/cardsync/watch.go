package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/config"
	"github.com/perrindel/cardsync/internal/engine"
	"github.com/perrindel/cardsync/internal/importer"
	"github.com/perrindel/cardsync/internal/types"
	"github.com/perrindel/cardsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <inbox-dir>",
	Short: "Watch a directory and import dropped CSV files",
	Long: `Run until interrupted, importing every CSV file that appears in the
inbox directory. Imports apply the default decisions (merge matches,
create the rest); queued operations still wait for review unless
sync_on_import is enabled, in which case approved items are drained
after each import.

While watching, the auto_sync setting drives a periodic drain of
approved items on the configured interval.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		cfg, err := cfgMgr.Load(ctx)
		if err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()
		inbox := args[0]
		if err := watcher.Add(inbox); err != nil {
			return fmt.Errorf("watch %s: %w", inbox, err)
		}

		scheduler := config.NewScheduler(drainApproved, logger)
		scheduler.Apply(cfg)
		defer scheduler.Stop()

		if cfg.SyncOnStartup {
			if err := drainApproved(ctx); err != nil {
				logger.Warn("startup sync", "error", err)
			}
		}

		fmt.Println(ui.RenderMuted("watching " + inbox + " (ctrl-c to stop)"))
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn("watcher error", "error", err)
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if strings.ToLower(filepath.Ext(event.Name)) != ".csv" {
					continue
				}
				// Editors and downloaders often create then write; give the
				// producer a moment to finish.
				time.Sleep(500 * time.Millisecond)
				handleInboxFile(ctx, event.Name, cfg.SyncOnImport)
			}
		}
	},
}

func handleInboxFile(ctx context.Context, path string, syncAfter bool) {
	fmt.Println(ui.RenderAccent("importing " + path))
	analysis, err := importSvc.Analyze(ctx, path, importer.DefaultMapping())
	if err != nil {
		fmt.Println(ui.RenderFail("✗ " + err.Error()))
		return
	}
	decisions := importer.Decisions{News: analysis.New}
	for _, m := range analysis.Matched {
		decisions.Merges = append(decisions.Merges, importer.MergeDecision{
			Match:  m,
			Action: types.DecisionMerge,
		})
	}
	if len(decisions.Merges) == 0 && len(decisions.News) == 0 {
		fmt.Println(ui.RenderMuted("nothing new in " + filepath.Base(path)))
		if err := importSvc.Cancel(ctx, analysis.SessionID); err != nil {
			logger.Warn("cancel import session", "session_id", analysis.SessionID, "error", err)
		}
		return
	}
	result, err := importSvc.ApplyDecisions(ctx, analysis.SessionID, decisions)
	if err != nil {
		fmt.Println(ui.RenderFail("✗ " + err.Error()))
		return
	}
	fmt.Println(ui.RenderPass(fmt.Sprintf("✓ %s: %d operation(s) queued",
		filepath.Base(path), result.QueuedOperations)))

	if syncAfter {
		if err := drainApproved(ctx); err != nil {
			logger.Warn("sync after import", "error", err)
		}
	}
}

// drainApproved runs one engine drain with the persisted settings. Used by
// the scheduler and the sync_on_import / sync_on_startup paths.
func drainApproved(ctx context.Context) error {
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
	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		return err
	}
	if summary.Total > 0 {
		logger.Info("auto drain finished", "total", summary.Total,
			"success", summary.Success, "failed", summary.Failure)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
