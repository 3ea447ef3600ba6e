package hash

import (
	"strings"
	"testing"

	"github.com/perrindel/cardsync/internal/types"
)

func TestContactDeterministic(t *testing.T) {
	a := types.ContactData{
		Name: &types.Name{GivenName: "Marie", FamilyName: "Dupont"},
		Emails: []types.TypedValue{
			{Value: "marie@example.org", Type: "home"},
			{Value: "m.dupont@work.example", Type: "work"},
		},
		PhoneNumbers: []types.TypedValue{{Value: "+33 6 12 34 56 78"}},
	}
	// Same content, different sequence order and formatting.
	b := types.ContactData{
		Name: &types.Name{GivenName: "  Marie ", FamilyName: "DUPONT"},
		Emails: []types.TypedValue{
			{Value: "M.Dupont@Work.example", Type: "work"},
			{Value: "Marie@Example.org ", Type: "home"},
		},
		PhoneNumbers: []types.TypedValue{{Value: "+33 (6) 12-34-56-78"}},
	}

	ha, err := Contact(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := Contact(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Errorf("equivalent contacts hash differently:\n a=%s\n b=%s", ha, hb)
	}
	if len(ha) != 64 || strings.ToLower(ha) != ha {
		t.Errorf("hash is not lowercase 64-hex: %q", ha)
	}
}

func TestContactHashChangesWithContent(t *testing.T) {
	base := types.ContactData{Name: &types.Name{GivenName: "Jean"}}
	changed := types.ContactData{Name: &types.Name{GivenName: "Jeanne"}}

	h1, err := Contact(base)
	if err != nil {
		t.Fatalf("hash base: %v", err)
	}
	h2, err := Contact(changed)
	if err != nil {
		t.Fatalf("hash changed: %v", err)
	}
	if h1 == h2 {
		t.Error("different contacts produced the same hash")
	}
}

func TestNormalizePhones(t *testing.T) {
	d := types.ContactData{PhoneNumbers: []types.TypedValue{
		{Value: "+33 (0)6 12-34-56-78"},
		{Value: "  "},
	}}
	norm := Normalize(d)
	if len(norm.PhoneNumbers) != 1 {
		t.Fatalf("expected 1 phone after normalization, got %d", len(norm.PhoneNumbers))
	}
	if got := norm.PhoneNumbers[0].Value; got != "330612345678" {
		t.Errorf("phone normalization: got %q, want digits only", got)
	}
}

func TestNormalizePostalCodeKeepsCase(t *testing.T) {
	d := types.ContactData{Addresses: []types.Address{
		{Street: " 1 Rue de la Paix ", PostalCode: "EC1A 1BB"},
	}}
	norm := Normalize(d)
	if len(norm.Addresses) != 1 {
		t.Fatalf("expected 1 address, got %d", len(norm.Addresses))
	}
	if got := norm.Addresses[0].PostalCode; got != "EC1A1BB" {
		t.Errorf("postal code: got %q, want whitespace stripped with case preserved", got)
	}
	if got := norm.Addresses[0].Street; got != "1 rue de la paix" {
		t.Errorf("street: got %q", got)
	}
}

func TestNormalizeNotes(t *testing.T) {
	d := types.ContactData{Notes: "  Met at   FOSDEM 2025  "}
	norm := Normalize(d)
	if norm.Notes != "met at fosdem 2025" {
		t.Errorf("notes: got %q, want lowercased with whitespace collapsed", norm.Notes)
	}
}

func TestNormalizeDropsEmptyAndSorts(t *testing.T) {
	d := types.ContactData{Emails: []types.TypedValue{
		{Value: "zoe@example.org"},
		{Value: ""},
		{Value: "anna@example.org"},
	}}
	norm := Normalize(d)
	if len(norm.Emails) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(norm.Emails))
	}
	if norm.Emails[0].Value != "anna@example.org" || norm.Emails[1].Value != "zoe@example.org" {
		t.Errorf("emails not sorted: %+v", norm.Emails)
	}
}

func TestRowHash(t *testing.T) {
	a := Row(map[string]string{"name": " Marie Dupont ", "email": "marie@example.org", "phone": ""})
	b := Row(map[string]string{"phone": "", "email": "marie@example.org", "name": "Marie Dupont"})
	if a != b {
		t.Errorf("row hash depends on key order or padding: %s vs %s", a, b)
	}
	c := Row(map[string]string{"name": "Marie Dupont", "email": "other@example.org"})
	if a == c {
		t.Error("different rows produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("row hash length = %d, want 64", len(a))
	}
}
