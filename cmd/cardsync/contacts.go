package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perrindel/cardsync/internal/editor"
	"github.com/perrindel/cardsync/internal/types"
	"github.com/perrindel/cardsync/internal/ui"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Browse the local contact store",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		contacts, err := store.ListContacts(ctx, limit, offset)
		if err != nil {
			return err
		}
		return renderContacts(contacts)
	},
}

var contactsSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search contacts by name, email, phone, or source",
	Long: `Search the local store. Filters combine with AND; the name filter
matches given, middle, and family names, and phone matching ignores
formatting.

EXAMPLES:
  cardsync contacts search --name dupont
  cardsync contacts search --email @example.org --source csv_import
  cardsync contacts search --phone "06 12 34" --unsynced`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		filter := types.ContactFilter{}
		filter.Name, _ = cmd.Flags().GetString("name")
		filter.Email, _ = cmd.Flags().GetString("email")
		filter.Phone, _ = cmd.Flags().GetString("phone")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if src, _ := cmd.Flags().GetString("source"); src != "" {
			filter.Source = types.Source(src)
		}
		if unsynced, _ := cmd.Flags().GetBool("unsynced"); unsynced {
			f := false
			filter.Synced = &f
		}
		contacts, err := store.SearchContacts(ctx, filter)
		if err != nil {
			return err
		}
		return renderContacts(contacts)
	},
}

var contactsEditCmd = &cobra.Command{
	Use:   "edit <contact-id> --set <path>=<value>",
	Short: "Edit contact fields and queue the update for review",
	Long: `Apply field edits to a stored contact. The contact is saved as an
unsynced manual revision and the change is staged as a pending update;
nothing reaches the remote until the item is approved and synced.

Paths use dotted/indexed form over the contact payload.

EXAMPLES:
  cardsync contacts edit c-1 --set name.familyName=Dupont
  cardsync contacts edit c-1 --set "phoneNumbers[0].value=+33 6 12 34 56 78" --set notes="prefers email"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		sets, _ := cmd.Flags().GetStringArray("set")
		edits, err := editor.ParseEdits(sets)
		if err != nil {
			return err
		}
		res, err := editor.New(store, logger).Apply(ctx, args[0], edits)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(res)
		}
		fmt.Println(ui.RenderPass(fmt.Sprintf("✓ contact %s updated, queued item %d",
			res.Contact.ContactID, res.QueueItemID)))
		fmt.Println(ui.RenderMuted("approve it with: cardsync queue approve " + strconv.FormatInt(res.QueueItemID, 10)))
		return nil
	},
}

var contactsShowCmd = &cobra.Command{
	Use:   "show <contact-id>",
	Short: "Show one contact in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := ensureStore(ctx); err != nil {
			return err
		}
		c, err := store.GetContact(ctx, args[0])
		if err != nil {
			return err
		}
		ledger.ContactView(ctx, c.ContactID)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

func renderContacts(contacts []*types.StoredContact) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(contacts)
	}
	if len(contacts) == 0 {
		fmt.Println(ui.RenderMuted("no contacts"))
		return nil
	}
	t := ui.NewTable("ID", "NAME", "EMAIL", "PHONE", "SOURCE", "SYNCED")
	for _, c := range contacts {
		synced := ui.RenderMuted("no")
		if c.SyncedToAPI {
			synced = ui.RenderPass("yes")
		}
		t.Row(c.ContactID, contactName(c.ContactData), firstEmail(c.ContactData),
			firstPhone(c.ContactData), string(c.Source), synced)
	}
	fmt.Println(t)
	return nil
}

func contactName(d types.ContactData) string {
	if d.Name == nil {
		return ""
	}
	parts := []string{}
	for _, p := range []string{d.Name.GivenName, d.Name.MiddleName, d.Name.FamilyName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func firstEmail(d types.ContactData) string {
	if len(d.Emails) == 0 {
		return ""
	}
	return d.Emails[0].Value
}

func firstPhone(d types.ContactData) string {
	if len(d.PhoneNumbers) == 0 {
		return ""
	}
	return d.PhoneNumbers[0].Value
}

func init() {
	contactsListCmd.Flags().Int("limit", 50, "maximum contacts to list")
	contactsListCmd.Flags().Int("offset", 0, "pagination offset")
	contactsSearchCmd.Flags().String("name", "", "match against name components")
	contactsSearchCmd.Flags().String("email", "", "substring match on emails")
	contactsSearchCmd.Flags().String("phone", "", "digit match on phone numbers")
	contactsSearchCmd.Flags().String("source", "", "filter by source (api, csv_import, manual)")
	contactsSearchCmd.Flags().Bool("unsynced", false, "only contacts not yet synced to the API")
	contactsSearchCmd.Flags().Int("limit", 50, "maximum contacts to return")
	contactsEditCmd.Flags().StringArray("set", nil, "field edit in path=value form (repeatable)")

	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsSearchCmd)
	contactsCmd.AddCommand(contactsEditCmd)
	contactsCmd.AddCommand(contactsShowCmd)
	rootCmd.AddCommand(contactsCmd)
}
