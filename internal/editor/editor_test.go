package editor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/perrindel/cardsync/internal/hash"
	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/storage/sqlite"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

func setupTestDB(t *testing.T) (*sqlite.Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "cardsync-editor-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	store, err := sqlite.New(context.Background(), filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}
	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

func seedContact(t *testing.T, store *sqlite.Store, id string) types.ContactData {
	t.Helper()
	data := types.ContactData{
		Name:   &types.Name{GivenName: "Marie"},
		Emails: []types.TypedValue{{Value: "marie@example.org", Type: "home"}},
	}
	contact := &types.Contact{ContactID: id, ContactData: data}
	if _, err := store.SaveContact(context.Background(), contact, types.SourceAPI, "", true); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return data
}

func TestParseEdits(t *testing.T) {
	edits, err := ParseEdits([]string{
		"name.familyName=Dupont",
		"notes=met at the conference = twice",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(edits) != 2 {
		t.Fatalf("got %d edits, want 2", len(edits))
	}
	if edits[0].Path.String() != "name.familyName" || edits[0].Value != "Dupont" {
		t.Errorf("first edit: %+v", edits[0])
	}
	// Only the first '=' splits.
	if edits[1].Value != "met at the conference = twice" {
		t.Errorf("second value: %q", edits[1].Value)
	}
}

func TestParseEditsRejectsMalformed(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"no-equals"},
		{"=value"},
		{"emails[x].value=a"},
	} {
		if _, err := ParseEdits(args); !syncerr.IsKind(err, syncerr.Validation) {
			t.Errorf("ParseEdits(%v): got %v, want Validation", args, err)
		}
	}
}

func TestApplyStagesManualUpdate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	before := seedContact(t, store, "api-1")
	ed := New(store, nil)

	edits, err := ParseEdits([]string{
		"name.familyName=Dupont",
		"phoneNumbers[0].value=+33 6 12 34 56 78",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := ed.Apply(ctx, "api-1", edits)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// The stored contact is a manual, unsynced revision.
	c := res.Contact
	if c.Source != types.SourceManual {
		t.Errorf("source = %v, want manual", c.Source)
	}
	if c.SyncedToAPI {
		t.Error("edited contact still marked synced")
	}
	if c.ContactData.Name.FamilyName != "Dupont" {
		t.Errorf("familyName = %q", c.ContactData.Name.FamilyName)
	}
	if len(c.ContactData.PhoneNumbers) != 1 || c.ContactData.PhoneNumbers[0].Value != "+33 6 12 34 56 78" {
		t.Errorf("phones = %+v", c.ContactData.PhoneNumbers)
	}

	// A pending update carries the before and after payloads.
	item, err := store.GetQueueItem(ctx, res.QueueItemID)
	if err != nil {
		t.Fatalf("get queue item: %v", err)
	}
	if item.Operation != types.OpUpdate || item.SyncStatus != types.StatusPending {
		t.Errorf("item state: op=%v status=%v", item.Operation, item.SyncStatus)
	}
	beforeHash, _ := hash.Contact(before)
	gotBeforeHash, _ := hash.Contact(*item.DataBefore)
	if gotBeforeHash != beforeHash {
		t.Error("data_before does not match the pre-edit contact")
	}
	wantAfterHash, _ := hash.Contact(c.ContactData)
	if item.DataHashAfter != wantAfterHash {
		t.Errorf("data_hash_after = %q, want %q", item.DataHashAfter, wantAfterHash)
	}
}

func TestApplyRejectsNoOpEdit(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedContact(t, store, "api-1")
	ed := New(store, nil)

	edits, err := ParseEdits([]string{"name.givenName=Marie"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ed.Apply(ctx, "api-1", edits); !syncerr.IsKind(err, syncerr.Validation) {
		t.Fatalf("got %v, want Validation", err)
	}

	// Nothing was queued.
	stats, err := store.QueueStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("queue has %d items, want 0", stats.Total)
	}
}

func TestApplyUnknownContact(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ed := New(store, nil)
	edits, _ := ParseEdits([]string{"notes=hello"})
	_, err := ed.Apply(context.Background(), "missing", edits)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
