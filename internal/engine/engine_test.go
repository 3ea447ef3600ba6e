package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/perrindel/cardsync/internal/hash"
	"github.com/perrindel/cardsync/internal/queue"
	"github.com/perrindel/cardsync/internal/storage/sqlite"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

func setupTestDB(t *testing.T) (*sqlite.Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "cardsync-engine-test-*")
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

// fakeAPI scripts remote behavior per call.
type fakeAPI struct {
	mu       sync.Mutex
	contacts map[string]*types.Contact
	// createErrs/updateErrs are consumed one per call before the call
	// succeeds; a nil entry means success.
	createErrs []error
	updateErrs []error
	getErrs    []error
	creates    int
	updates    int
	gets       int
	nextID     string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{contacts: make(map[string]*types.Contact)}
}

func (f *fakeAPI) popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeAPI) GetContact(ctx context.Context, contactID string) (*types.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if err := f.popErr(&f.getErrs); err != nil {
		return nil, err
	}
	c, ok := f.contacts[contactID]
	if !ok {
		return nil, syncerr.New(syncerr.NotFound, "contact %s not found", contactID)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeAPI) CreateContact(ctx context.Context, data types.ContactData, meta types.ContactMetadata) (*types.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err := f.popErr(&f.createErrs); err != nil {
		return nil, err
	}
	id := f.nextID
	if id == "" {
		id = "remote-1"
	}
	c := &types.Contact{ContactID: id, ContactData: data, ContactMetadata: types.ContactMetadata{Etag: "etag-1"}}
	f.contacts[id] = c
	return c, nil
}

func (f *fakeAPI) UpdateContact(ctx context.Context, contactID, etag string, data types.ContactData) (*types.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if err := f.popErr(&f.updateErrs); err != nil {
		return nil, err
	}
	c, ok := f.contacts[contactID]
	if !ok {
		return nil, syncerr.New(syncerr.NotFound, "contact %s not found", contactID)
	}
	updated := &types.Contact{
		ContactID:       contactID,
		ContactData:     data,
		ContactMetadata: types.ContactMetadata{Etag: c.ContactMetadata.Etag + "+"},
	}
	f.contacts[contactID] = updated
	return updated, nil
}

func testData(given string) types.ContactData {
	return types.ContactData{
		Name:   &types.Name{GivenName: given, FamilyName: "Martin"},
		Emails: []types.TypedValue{{Value: given + "@example.org"}},
	}
}

// newTestEngine wires an engine with instant backoff over a fresh store.
func newTestEngine(t *testing.T, store *sqlite.Store, api API, maxRetries int) (*Engine, *queue.Queue) {
	t.Helper()
	q := queue.New(store)
	eng := New(store, q, api, Options{MaxRetries: maxRetries})
	eng.SetSleepFunc(func(ctx context.Context, d time.Duration) error { return nil })
	return eng, q
}

func enqueueApprovedCreate(t *testing.T, q *queue.Queue, store *sqlite.Store, contactID string) int64 {
	t.Helper()
	ctx := context.Background()
	data := testData("alice")
	contact := &types.Contact{ContactID: contactID, ContactData: data}
	if _, err := store.SaveContact(ctx, contact, types.SourceCSVImport, "", false); err != nil {
		t.Fatalf("save contact: %v", err)
	}
	id, err := q.Add(ctx, &types.QueueItem{
		ContactID: contactID,
		Operation: types.OpCreate,
		DataAfter: &data,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Approve(ctx, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return id
}

func TestSyncApprovedCreate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	api.nextID = "remote-42"
	eng, q := newTestEngine(t, store, api, 3)

	itemID := enqueueApprovedCreate(t, q, store, "local-1")

	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Total != 1 || summary.Success != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	item, err := q.Get(ctx, itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.SyncStatus != types.StatusSynced {
		t.Errorf("item status = %v, want synced", item.SyncStatus)
	}

	// The remote id supersedes the provisional local row.
	remote, err := store.GetContact(ctx, "remote-42")
	if err != nil {
		t.Fatalf("remote contact not saved: %v", err)
	}
	if !remote.SyncedToAPI || remote.Source != types.SourceAPI {
		t.Errorf("remote contact state: %+v", remote)
	}
	if exists, _ := store.ContactExists(ctx, "local-1"); exists {
		t.Error("provisional local row not removed")
	}
}

func TestSyncTransientErrorsThenSuccess(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	api.createErrs = []error{
		syncerr.New(syncerr.Remote, "remote 503"),
		syncerr.New(syncerr.Timeout, "deadline exceeded"),
	}
	eng, q := newTestEngine(t, store, api, 3)

	var delays []time.Duration
	eng.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	itemID := enqueueApprovedCreate(t, q, store, "local-1")
	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Success != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	if api.creates != 3 {
		t.Errorf("create attempts = %d, want 3", api.creates)
	}

	// Exponential backoff: base, then base*2.
	if len(delays) != 2 || delays[1] != delays[0]*2 {
		t.Errorf("backoff delays = %v", delays)
	}

	item, _ := q.Get(ctx, itemID)
	if item.SyncStatus != types.StatusSynced {
		t.Errorf("item status = %v, want synced", item.SyncStatus)
	}
	if item.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2 (one per failed attempt)", item.RetryCount)
	}
}

func TestSyncTransientThenPermanentError(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Three transient failures, then a permanent one: four attempts in
	// total, retry_count 4, item failed.
	api := newFakeAPI()
	api.createErrs = []error{
		syncerr.New(syncerr.Remote, "remote 502"),
		syncerr.New(syncerr.Remote, "remote 503"),
		syncerr.New(syncerr.Timeout, "deadline exceeded"),
		syncerr.New(syncerr.Validation, "malformed payload"),
	}
	eng, q := newTestEngine(t, store, api, 3)

	itemID := enqueueApprovedCreate(t, q, store, "local-1")
	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Failure != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	if api.creates != 4 {
		t.Errorf("create attempts = %d, want 4", api.creates)
	}

	item, _ := q.Get(ctx, itemID)
	if item.SyncStatus != types.StatusFailed {
		t.Errorf("item status = %v, want failed", item.SyncStatus)
	}
	if item.RetryCount != 4 {
		t.Errorf("retry count = %d, want 4", item.RetryCount)
	}
	if item.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
}

func TestSyncPermanentErrorNoRetry(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	api.createErrs = []error{syncerr.New(syncerr.Auth, "token rejected")}
	eng, q := newTestEngine(t, store, api, 3)

	itemID := enqueueApprovedCreate(t, q, store, "local-1")
	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Failure != 1 || api.creates != 1 {
		t.Fatalf("summary=%+v creates=%d", summary, api.creates)
	}
	item, _ := q.Get(ctx, itemID)
	if item.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", item.RetryCount)
	}
}

func TestSyncUpdateMergesByRemoteEtag(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	// Remote has drifted: the queued baseline no longer matches.
	api.contacts["remote-7"] = &types.Contact{
		ContactID:       "remote-7",
		ContactData:     testData("renamed"),
		ContactMetadata: types.ContactMetadata{Etag: "etag-9"},
	}
	eng, q := newTestEngine(t, store, api, 0)

	before := testData("alice")
	after := testData("alice")
	after.Notes = "edited locally"
	id, err := q.Add(ctx, &types.QueueItem{
		ContactID:  "remote-7",
		Operation:  types.OpUpdate,
		DataBefore: &before,
		DataAfter:  &after,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Approve(ctx, id); err != nil {
		t.Fatalf("approve: %v", err)
	}

	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Success != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	// The update submitted data_after despite the hash mismatch.
	wantHash, _ := hash.Contact(after)
	gotHash, _ := hash.Contact(api.contacts["remote-7"].ContactData)
	if wantHash != gotHash {
		t.Error("remote contact does not carry data_after")
	}
}

func TestSyncUpdateRemoteGone(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	eng, q := newTestEngine(t, store, api, 3)

	before := testData("alice")
	after := testData("alicia")
	id, err := q.Add(ctx, &types.QueueItem{
		ContactID:  "remote-gone",
		Operation:  types.OpUpdate,
		DataBefore: &before,
		DataAfter:  &after,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Approve(ctx, id); err != nil {
		t.Fatalf("approve: %v", err)
	}

	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Failure != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	// NotFound is permanent: one attempt only.
	if api.gets != 1 {
		t.Errorf("get attempts = %d, want 1", api.gets)
	}
	item, _ := q.Get(ctx, id)
	if item.SyncStatus != types.StatusFailed {
		t.Errorf("item status = %v, want failed", item.SyncStatus)
	}
}

func TestSyncDeleteUnsupported(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	eng, q := newTestEngine(t, store, api, 3)

	before := testData("alice")
	id, err := q.Add(ctx, &types.QueueItem{
		ContactID:  "remote-7",
		Operation:  types.OpDelete,
		DataBefore: &before,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Approve(ctx, id); err != nil {
		t.Fatalf("approve: %v", err)
	}

	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Failure != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	item, _ := q.Get(ctx, id)
	if item.SyncStatus != types.StatusFailed || item.RetryCount != 1 {
		t.Errorf("delete item state: %+v", item)
	}
}

func TestSyncSingleDrainer(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	api := newFakeAPI()
	eng, _ := newTestEngine(t, store, api, 0)

	// Hold the drain lock and verify a concurrent caller is refused.
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		eng.drainMu.Lock()
		close(started)
		<-release
		eng.drainMu.Unlock()
	}()
	<-started

	_, err := eng.SyncApproved(context.Background(), nil)
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("got %v, want ErrSyncInProgress", err)
	}
	close(release)
}

func TestDetectConflicts(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	api.contacts["remote-1"] = &types.Contact{ContactID: "remote-1", ContactData: testData("drifted")}
	eng, q := newTestEngine(t, store, api, 0)

	before := testData("alice")
	after := testData("alicia")
	for _, contactID := range []string{"remote-1", "remote-missing"} {
		id, err := q.Add(ctx, &types.QueueItem{
			ContactID:  contactID,
			Operation:  types.OpUpdate,
			DataBefore: &before,
			DataAfter:  &after,
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if err := q.Approve(ctx, id); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	conflicts, err := eng.DetectConflicts(ctx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("found %d conflicts, want 2: %+v", len(conflicts), conflicts)
	}
	kinds := map[ConflictKind]bool{}
	for _, c := range conflicts {
		kinds[c.Kind] = true
	}
	if !kinds[ConflictHashMismatch] || !kinds[ConflictNotFound] {
		t.Errorf("conflict kinds: %+v", conflicts)
	}

	// The survey must not have claimed or mutated any item.
	items, err := q.Approved(ctx)
	if err != nil {
		t.Fatalf("approved: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("approved items after survey = %d, want 2", len(items))
	}
}

func TestPullBypassesQueue(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	eng, q := newTestEngine(t, store, api, 0)

	pages := [][]types.Contact{
		{{ContactID: "r-1", ContactData: testData("a")}, {ContactID: "r-2", ContactData: testData("b")}},
		{{ContactID: "r-3", ContactData: testData("c")}},
	}
	scroller := &fakeScroller{pages: pages}

	total, err := eng.Pull(ctx, scroller, 2)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if total != 3 {
		t.Errorf("pulled %d, want 3", total)
	}

	c, err := store.GetContact(ctx, "r-2")
	if err != nil {
		t.Fatalf("get pulled contact: %v", err)
	}
	if !c.SyncedToAPI || c.Source != types.SourceAPI {
		t.Errorf("pulled contact state: %+v", c)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("pull queued %d items, want 0", stats.Total)
	}
}

func TestSyncOutcomesUpdateSessionCounters(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.CreateImportSession(ctx, &types.ImportSession{
		SessionID:   "sess-1",
		CSVFilename: "book.csv",
		CSVHash:     "abc123",
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// First create succeeds, second fails permanently.
	api := newFakeAPI()
	api.createErrs = []error{nil, syncerr.New(syncerr.Validation, "malformed payload")}
	eng, q := newTestEngine(t, store, api, 3)

	for i, contactID := range []string{"local-1", "local-2"} {
		data := testData("contact")
		id, err := q.Add(ctx, &types.QueueItem{
			ContactID:       contactID,
			Operation:       types.OpCreate,
			DataAfter:       &data,
			ImportSessionID: "sess-1",
		})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		if err := q.Approve(ctx, id); err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
	}

	summary, err := eng.SyncApproved(ctx, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Success != 1 || summary.Failure != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	sess, err := store.GetImportSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.SyncedOperations != 1 {
		t.Errorf("synced_operations = %d, want 1", sess.SyncedOperations)
	}
	if sess.FailedOperations != 1 {
		t.Errorf("failed_operations = %d, want 1", sess.FailedOperations)
	}
}

// stuckAPI never completes a create; the call returns only when the
// caller's context expires.
type stuckAPI struct {
	fakeAPI
}

func (s *stuckAPI) CreateContact(ctx context.Context, data types.ContactData, meta types.ContactMetadata) (*types.Contact, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSyncItemTimeout(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := &stuckAPI{}
	q := queue.New(store)
	eng := New(store, q, api, Options{MaxRetries: 3, ItemTimeout: 50 * time.Millisecond})
	eng.SetSleepFunc(func(ctx context.Context, d time.Duration) error { return nil })

	id := enqueueApprovedCreate(t, q, store, "local-1")

	res, err := eng.SyncItem(ctx, id)
	if !syncerr.IsKind(err, syncerr.Timeout) {
		t.Fatalf("got %v, want Timeout", err)
	}
	if res == nil || res.Success || !res.TimedOut {
		t.Fatalf("result: %+v", res)
	}

	// The budget covers the whole item: no further attempts, item failed.
	item, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.SyncStatus != types.StatusFailed {
		t.Errorf("item status = %v, want failed", item.SyncStatus)
	}
	if item.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", item.RetryCount)
	}
	if item.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
}

func TestSyncItemRequiresApproved(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	api := newFakeAPI()
	eng, q := newTestEngine(t, store, api, 0)

	data := testData("alice")
	id, err := q.Add(ctx, &types.QueueItem{
		ContactID: "local-1",
		Operation: types.OpCreate,
		DataAfter: &data,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := eng.SyncItem(ctx, id); !syncerr.IsKind(err, syncerr.Validation) {
		t.Errorf("got %v, want Validation for a pending item", err)
	}
}

type fakeScroller struct {
	pages [][]types.Contact
	call  int
}

func (f *fakeScroller) ScrollContacts(ctx context.Context, size int, cursor string) ([]types.Contact, string, error) {
	if f.call >= len(f.pages) {
		return nil, "", nil
	}
	page := f.pages[f.call]
	f.call++
	next := ""
	if f.call < len(f.pages) {
		next = "cursor"
	}
	return page, next, nil
}
