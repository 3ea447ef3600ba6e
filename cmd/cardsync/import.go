package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/importer"
	"github.com/perrindel/cardsync/internal/types"
	"github.com/perrindel/cardsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a CSV address book into the store and queue",
	Long: `Parse a CSV export, deduplicate rows against every previous import,
match survivors against existing contacts, and queue the resulting
create/update operations as pending items.

The import runs in two phases. Analysis writes nothing but the session
row; you then review each matched contact (merge, skip, or create new)
and the decisions are applied in a single transaction. Interrupting the
review leaves the store untouched.

Row deduplication is cross-session: a row whose {name, email, phone}
hash was recorded by ANY earlier import is skipped, so re-importing an
overlapping file only processes the genuinely new rows.

EXAMPLES:
Review interactively:
  cardsync import contacts.csv

Accept defaults without prompting (merge matches, create the rest):
  cardsync import contacts.csv --auto

Use a custom column mapping:
  cardsync import contacts.csv --mapping columns.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}

		mapping := importer.DefaultMapping()
		if mappingPath, _ := cmd.Flags().GetString("mapping"); mappingPath != "" {
			m, err := importer.LoadMapping(mappingPath)
			if err != nil {
				return err
			}
			mapping = m
		}

		analysis, err := importSvc.Analyze(ctx, args[0], mapping)
		if err != nil {
			return err
		}
		if analysis.DuplicateFile {
			fmt.Println(ui.RenderWarn("⚠ this file was imported before (same content hash)"))
		}
		fmt.Printf("%d rows: %d matched, %d new, %d duplicate rows skipped\n",
			analysis.TotalRows, len(analysis.Matched), len(analysis.New), analysis.SkippedDuplicates)

		if len(analysis.Matched) == 0 && len(analysis.New) == 0 {
			fmt.Println(ui.RenderMuted("nothing to import"))
			return importSvc.Cancel(ctx, analysis.SessionID)
		}

		auto, _ := cmd.Flags().GetBool("auto")
		decisions, err := reviewAnalysis(analysis, auto)
		if err != nil {
			cancelErr := importSvc.Cancel(ctx, analysis.SessionID)
			if cancelErr != nil {
				logger.Warn("cancel import session", "session_id", analysis.SessionID, "error", cancelErr)
			}
			return err
		}

		result, err := importSvc.ApplyDecisions(ctx, analysis.SessionID, decisions)
		if err != nil {
			return err
		}
		ledger.ToolExecution(ctx, "import", result.SessionID, result.QueuedOperations, result.SavedContacts)

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		fmt.Println(ui.RenderPass(fmt.Sprintf("✓ session %s: %d contacts saved, %d operations queued, %d rows skipped",
			result.SessionID, result.SavedContacts, result.QueuedOperations, result.SkippedRows)))
		fmt.Println(ui.RenderMuted("review them with: cardsync queue list"))
		return nil
	},
}

// reviewAnalysis turns an analysis into decisions, prompting per matched
// contact unless auto mode or a non-interactive terminal accepts the
// defaults (merge matches, create the rest).
func reviewAnalysis(analysis *importer.Analysis, auto bool) (importer.Decisions, error) {
	decisions := importer.Decisions{News: analysis.New}

	if auto || !ui.IsTerminal() {
		for _, m := range analysis.Matched {
			decisions.Merges = append(decisions.Merges, importer.MergeDecision{
				Match:  m,
				Action: types.DecisionMerge,
			})
		}
		return decisions, nil
	}

	for _, m := range analysis.Matched {
		action := types.DecisionMerge
		prompt := huh.NewSelect[types.RowDecision]().
			Title(fmt.Sprintf("%q matches existing contact %s", matchLabel(m), m.Existing.ContactID)).
			Options(
				huh.NewOption("merge into existing contact", types.DecisionMerge),
				huh.NewOption("skip this row", types.DecisionSkip),
				huh.NewOption("create as a new contact", types.DecisionNew),
			).
			Value(&action)
		if err := prompt.Run(); err != nil {
			return importer.Decisions{}, fmt.Errorf("import review aborted: %w", err)
		}
		decisions.Merges = append(decisions.Merges, importer.MergeDecision{Match: m, Action: action})
	}
	return decisions, nil
}

func matchLabel(m importer.MatchProposal) string {
	if name := m.CSV.DedupRow["name"]; name != "" {
		return name
	}
	if email := m.CSV.DedupRow["email"]; email != "" {
		return email
	}
	return m.CSV.Contact.ContactID
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List import sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		sessions, err := store.ListImportSessions(ctx, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(sessions)
		}
		t := ui.NewTable("SESSION", "FILE", "STATUS", "ROWS", "MATCHED", "NEW", "QUEUED", "STARTED")
		for _, s := range sessions {
			t.Row(s.SessionID, s.CSVFilename, string(s.Status),
				fmt.Sprint(s.TotalRows), fmt.Sprint(s.MatchedContacts),
				fmt.Sprint(s.NewContacts), fmt.Sprint(s.QueuedOperations),
				s.StartedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println(t)
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("auto", false, "accept default decisions without prompting")
	importCmd.Flags().String("mapping", "", "YAML column mapping file")
	sessionsCmd.Flags().Int("limit", 20, "maximum sessions to list")
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(sessionsCmd)
}
