package remote

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// fixtureSet serves contact reads from a local JSON file in place of the
// remote service. The file holds either a bare array of contacts or an
// object with a "contacts" key.
type fixtureSet struct {
	contacts []types.Contact
}

func loadFixture(path string) (*fixtureSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.IO, err, "read fixture file %s", path)
	}
	var contacts []types.Contact
	if err := json.Unmarshal(raw, &contacts); err != nil {
		var wrapped struct {
			Contacts []types.Contact `json:"contacts"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, syncerr.Wrap(syncerr.IO, err, "parse fixture file %s", path)
		}
		contacts = wrapped.Contacts
	}
	return &fixtureSet{contacts: contacts}, nil
}

// scroll pages through the fixture set using the numeric offset as cursor.
func (f *fixtureSet) scroll(size int, cursor string) ([]types.Contact, string, error) {
	if size <= 0 {
		size = 100
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", syncerr.New(syncerr.Remote, "invalid fixture cursor %q", cursor)
		}
		offset = n
	}
	if offset >= len(f.contacts) {
		return nil, "", nil
	}
	end := offset + size
	if end > len(f.contacts) {
		end = len(f.contacts)
	}
	page := f.contacts[offset:end]
	next := ""
	if end < len(f.contacts) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

func (f *fixtureSet) get(contactID string) (*types.Contact, error) {
	for i := range f.contacts {
		if f.contacts[i].ContactID == contactID {
			c := f.contacts[i]
			return &c, nil
		}
	}
	return nil, syncerr.New(syncerr.NotFound, "contact %s not found in fixture", contactID)
}

func (f *fixtureSet) search(query string) []types.Contact {
	query = strings.ToLower(query)
	var out []types.Contact
	for _, c := range f.contacts {
		raw, err := json.Marshal(c.ContactData)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(raw)), query) {
			out = append(out, c)
		}
	}
	return out
}
