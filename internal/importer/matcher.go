package importer

import (
	"context"

	"github.com/perrindel/cardsync/internal/hash"
	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// MatchProposal pairs a parsed CSV contact with a likely store duplicate
// and the merged contact a merge decision would produce.
type MatchProposal struct {
	CSV      ParsedContact
	Existing *types.StoredContact
	Merged   types.Contact
}

// Matcher classifies parsed contacts against the store. The scoring
// algorithm is external to this core; the importer only consumes its
// output.
type Matcher interface {
	Match(ctx context.Context, parsed []ParsedContact) (matched []MatchProposal, fresh []ParsedContact, err error)
}

// ExactEmailMatcher is the shipped default: a contact matches when its
// first normalized email hashes to an existing contact's email. Anything
// smarter (fuzzy names, embeddings) plugs in behind the Matcher interface.
type ExactEmailMatcher struct {
	store storage.Storage
}

// NewExactEmailMatcher builds the default matcher over the store.
func NewExactEmailMatcher(store storage.Storage) *ExactEmailMatcher {
	return &ExactEmailMatcher{store: store}
}

func (m *ExactEmailMatcher) Match(ctx context.Context, parsed []ParsedContact) ([]MatchProposal, []ParsedContact, error) {
	var (
		matched []MatchProposal
		fresh   []ParsedContact
	)
	for _, p := range parsed {
		existing, err := m.findByEmail(ctx, p.Contact.ContactData)
		if err != nil {
			return nil, nil, err
		}
		if existing == nil {
			fresh = append(fresh, p)
			continue
		}
		matched = append(matched, MatchProposal{
			CSV:      p,
			Existing: existing,
			Merged: types.Contact{
				ContactID:   existing.ContactID,
				ContactData: mergeContactData(existing.ContactData, p.Contact.ContactData),
			},
		})
	}
	return matched, fresh, nil
}

func (m *ExactEmailMatcher) findByEmail(ctx context.Context, d types.ContactData) (*types.StoredContact, error) {
	norm := hash.Normalize(d)
	if len(norm.Emails) == 0 {
		return nil, nil
	}
	email := norm.Emails[0].Value
	candidates, err := m.store.SearchContacts(ctx, types.ContactFilter{Email: email, Limit: 10})
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Store, err, "match by email")
	}
	for _, cand := range candidates {
		candNorm := hash.Normalize(cand.ContactData)
		for _, e := range candNorm.Emails {
			if e.Value == email {
				return cand, nil
			}
		}
	}
	return nil, nil
}

// mergeContactData fills gaps in the existing record from the CSV record
// and appends emails and phones not already present. Existing values win
// on scalar fields.
func mergeContactData(existing, csv types.ContactData) types.ContactData {
	out := existing

	if out.Name == nil {
		out.Name = csv.Name
	} else if csv.Name != nil {
		n := *out.Name
		if n.Prefix == "" {
			n.Prefix = csv.Name.Prefix
		}
		if n.GivenName == "" {
			n.GivenName = csv.Name.GivenName
		}
		if n.MiddleName == "" {
			n.MiddleName = csv.Name.MiddleName
		}
		if n.FamilyName == "" {
			n.FamilyName = csv.Name.FamilyName
		}
		if n.Suffix == "" {
			n.Suffix = csv.Name.Suffix
		}
		out.Name = &n
	}

	out.Emails = appendMissingValues(out.Emails, csv.Emails, func(v string) string {
		norm := hash.Normalize(types.ContactData{Emails: []types.TypedValue{{Value: v}}})
		if len(norm.Emails) == 0 {
			return ""
		}
		return norm.Emails[0].Value
	})
	out.PhoneNumbers = appendMissingValues(out.PhoneNumbers, csv.PhoneNumbers, func(v string) string {
		norm := hash.Normalize(types.ContactData{PhoneNumbers: []types.TypedValue{{Value: v}}})
		if len(norm.PhoneNumbers) == 0 {
			return ""
		}
		return norm.PhoneNumbers[0].Value
	})

	if len(out.Organizations) == 0 {
		out.Organizations = csv.Organizations
	}
	if len(out.Addresses) == 0 {
		out.Addresses = csv.Addresses
	}
	if len(out.URLs) == 0 {
		out.URLs = csv.URLs
	}
	if out.Notes == "" {
		out.Notes = csv.Notes
	}
	return out
}

func appendMissingValues(existing, incoming []types.TypedValue, canon func(string) string) []types.TypedValue {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		if key := canon(v.Value); key != "" {
			seen[key] = true
		}
	}
	out := existing
	for _, v := range incoming {
		key := canon(v.Value)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
