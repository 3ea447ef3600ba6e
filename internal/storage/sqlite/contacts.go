package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/perrindel/cardsync/internal/hash"
	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// likeEscape makes a user-supplied LIKE fragment literal: %, _, and the
// escape character itself are escaped. Queries must carry ESCAPE '\'.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// digitsOnly strips every non-digit rune, mirroring phone normalization.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const contactColumns = `contact_id, contact_data, data_hash, synced_to_api,
	last_modified, source, import_session_id, created_at`

func scanContact(scan func(dest ...interface{}) error) (*types.StoredContact, error) {
	var (
		c         types.StoredContact
		dataJSON  string
		synced    int
		sessionID sql.NullString
	)
	err := scan(&c.ContactID, &dataJSON, &c.DataHash, &synced,
		&c.LastModified, &c.Source, &sessionID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dataJSON), &c.ContactData); err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "decode contact data for %s", c.ContactID)
	}
	c.SyncedToAPI = synced != 0
	c.ImportSessionID = sessionID.String
	return &c, nil
}

// saveContact upserts a contact by contact_id, recomputing the content
// hash and bumping last_modified. Returns the new data hash.
func saveContact(ctx context.Context, q execer, c *types.Contact, source types.Source, sessionID string, synced bool) (string, error) {
	if c.ContactID == "" {
		return "", syncerr.New(syncerr.Validation, "contact id is required")
	}
	if !types.ValidSources[source] {
		return "", syncerr.New(syncerr.Validation, "invalid contact source %q", source)
	}
	dataHash, err := hash.Contact(c.ContactData)
	if err != nil {
		return "", err
	}
	dataJSON, err := json.Marshal(c.ContactData)
	if err != nil {
		return "", syncerr.Wrap(syncerr.Store, err, "encode contact data for %s", c.ContactID)
	}

	var sess interface{}
	if sessionID != "" {
		sess = sessionID
	}
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		INSERT INTO contacts (contact_id, contact_data, data_hash, synced_to_api,
			last_modified, source, import_session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			contact_data = excluded.contact_data,
			data_hash = excluded.data_hash,
			synced_to_api = excluded.synced_to_api,
			last_modified = excluded.last_modified,
			source = excluded.source,
			import_session_id = COALESCE(excluded.import_session_id, contacts.import_session_id)
	`, c.ContactID, string(dataJSON), dataHash, boolInt(synced), now, string(source), sess, now)
	if err != nil {
		return "", syncerr.Wrap(syncerr.Store, err, "save contact %s", c.ContactID)
	}
	return dataHash, nil
}

// updateContact rewrites contact_data for an existing row, preserving its
// source and session. Missing rows are a store error, not an upsert.
func updateContact(ctx context.Context, q execer, c *types.Contact, synced bool) (string, error) {
	dataHash, err := hash.Contact(c.ContactData)
	if err != nil {
		return "", err
	}
	dataJSON, err := json.Marshal(c.ContactData)
	if err != nil {
		return "", syncerr.Wrap(syncerr.Store, err, "encode contact data for %s", c.ContactID)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE contacts
		SET contact_data = ?, data_hash = ?, synced_to_api = ?, last_modified = ?
		WHERE contact_id = ?
	`, string(dataJSON), dataHash, boolInt(synced), time.Now().UTC(), c.ContactID)
	if err != nil {
		return "", syncerr.Wrap(syncerr.Store, err, "update contact %s", c.ContactID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", syncerr.Wrap(syncerr.Store, err, "update contact %s", c.ContactID)
	}
	if n == 0 {
		return "", syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "contact %s", c.ContactID)
	}
	return dataHash, nil
}

func getContact(ctx context.Context, q execer, contactID string) (*types.StoredContact, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE contact_id = ?`, contactID)
	c, err := scanContact(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "contact %s", contactID)
	}
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "get contact %s", contactID)
	}
	return c, nil
}

func markContactSynced(ctx context.Context, q execer, contactID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE contacts SET synced_to_api = 1, last_modified = ? WHERE contact_id = ?`,
		time.Now().UTC(), contactID)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "mark contact %s synced", contactID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "contact %s", contactID)
	}
	return nil
}

func deleteContact(ctx context.Context, q execer, contactID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM contacts WHERE contact_id = ?`, contactID)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "delete contact %s", contactID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "contact %s", contactID)
	}
	return nil
}

// contactFilterSQL builds the WHERE clause for a filter. Predicates are
// combined with AND; user text goes through likeEscape.
func contactFilterSQL(filter types.ContactFilter) (string, []interface{}, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return "", nil, syncerr.New(syncerr.Validation, "limit and offset must be non-negative")
	}
	var (
		conds []string
		args  []interface{}
	)
	if filter.Source != "" {
		if !types.ValidSources[filter.Source] {
			return "", nil, syncerr.New(syncerr.Validation, "invalid contact source %q", filter.Source)
		}
		conds = append(conds, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.Synced != nil {
		conds = append(conds, "synced_to_api = ?")
		args = append(args, boolInt(*filter.Synced))
	}
	if filter.ImportSessionID != "" {
		conds = append(conds, "import_session_id = ?")
		args = append(args, filter.ImportSessionID)
	}
	if filter.Name != "" {
		pattern := "%" + likeEscape(filter.Name) + "%"
		conds = append(conds, `(
			json_extract(contact_data, '$.name.givenName') LIKE ? ESCAPE '\'
			OR json_extract(contact_data, '$.name.middleName') LIKE ? ESCAPE '\'
			OR json_extract(contact_data, '$.name.familyName') LIKE ? ESCAPE '\'
		)`)
		args = append(args, pattern, pattern, pattern)
	}
	if filter.Email != "" {
		conds = append(conds, `contact_data LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscape(filter.Email)+"%")
	}
	if filter.Phone != "" {
		digits := digitsOnly(filter.Phone)
		if digits == "" {
			return "", nil, syncerr.New(syncerr.Validation, "phone filter has no digits")
		}
		conds = append(conds, `contact_data LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscape(digits)+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return where, args, nil
}

func queryContacts(ctx context.Context, q execer, query string, args ...interface{}) ([]*types.StoredContact, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "query contacts")
	}
	defer rows.Close()

	var out []*types.StoredContact
	for rows.Next() {
		c, err := scanContact(rows.Scan)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.Store, err, "scan contact")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "iterate contacts")
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Store methods.

func (s *Store) SaveContact(ctx context.Context, c *types.Contact, source types.Source, sessionID string, synced bool) (string, error) {
	return saveContact(ctx, s.db, c, source, sessionID, synced)
}

func (s *Store) UpdateContact(ctx context.Context, c *types.Contact, synced bool) (string, error) {
	return updateContact(ctx, s.db, c, synced)
}

func (s *Store) GetContact(ctx context.Context, contactID string) (*types.StoredContact, error) {
	return getContact(ctx, s.db, contactID)
}

func (s *Store) GetContactByHash(ctx context.Context, dataHash string) (*types.StoredContact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE data_hash = ? LIMIT 1`, dataHash)
	c, err := scanContact(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "contact with hash %s", dataHash)
	}
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "get contact by hash")
	}
	return c, nil
}

func (s *Store) ListContacts(ctx context.Context, limit, offset int) ([]*types.StoredContact, error) {
	if limit < 0 || offset < 0 {
		return nil, syncerr.New(syncerr.Validation, "limit and offset must be non-negative")
	}
	if limit == 0 {
		limit = -1 // SQLite: no limit
	}
	return queryContacts(ctx, s.db,
		`SELECT `+contactColumns+` FROM contacts ORDER BY created_at, contact_id LIMIT ? OFFSET ?`,
		limit, offset)
}

func (s *Store) SearchContacts(ctx context.Context, filter types.ContactFilter) ([]*types.StoredContact, error) {
	where, args, err := contactFilterSQL(filter)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit == 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)
	return queryContacts(ctx, s.db,
		`SELECT `+contactColumns+` FROM contacts`+where+
			` ORDER BY created_at, contact_id LIMIT ? OFFSET ?`, args...)
}

func (s *Store) CountContacts(ctx context.Context, filter types.ContactFilter) (int, error) {
	where, args, err := contactFilterSQL(filter)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`+where, args...).Scan(&n)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.Store, err, "count contacts")
	}
	return n, nil
}

func (s *Store) ContactExists(ctx context.Context, contactID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE contact_id = ?`, contactID).Scan(&n)
	if err != nil {
		return false, syncerr.Wrap(syncerr.Store, err, "check contact %s", contactID)
	}
	return n > 0, nil
}

func (s *Store) MarkContactSynced(ctx context.Context, contactID string) error {
	return markContactSynced(ctx, s.db, contactID)
}

func (s *Store) DeleteContact(ctx context.Context, contactID string) error {
	return deleteContact(ctx, s.db, contactID)
}

func (s *Store) ClearAllContacts(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contacts`); err != nil {
		return syncerr.Wrap(syncerr.Store, err, "clear contacts")
	}
	return nil
}
