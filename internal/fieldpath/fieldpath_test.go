package fieldpath

import (
	"testing"

	"github.com/perrindel/cardsync/internal/types"
)

func TestParseAndString(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"name.givenName", "name.givenName"},
		{"phoneNumbers[0].value", "phoneNumbers[0].value"},
		{"emails[2].type", "emails[2].type"},
	}
	for _, tc := range cases {
		p, err := Parse(tc.raw)
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.raw, err)
			continue
		}
		if got := p.String(); got != tc.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", " ", "a..b", "emails[", "emails[x]", "emails[-1]"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) accepted", raw)
		}
	}
}

func TestGet(t *testing.T) {
	d := types.ContactData{
		Name: &types.Name{GivenName: "Marie"},
		PhoneNumbers: []types.TypedValue{
			{Value: "+33612345678", Type: "mobile"},
			{Value: "+33123456789", Type: "home"},
		},
	}

	p, _ := Parse("phoneNumbers[1].value")
	got, ok := Get(d, p)
	if !ok || got != "+33123456789" {
		t.Errorf("Get = %q, %v", got, ok)
	}

	p, _ = Parse("name.familyName")
	if _, ok := Get(d, p); ok {
		t.Error("absent field reported present")
	}
}

func TestSet(t *testing.T) {
	d := types.ContactData{Name: &types.Name{GivenName: "Marie"}}

	p, _ := Parse("name.familyName")
	out, err := Set(d, p, "Dupont")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if out.Name.FamilyName != "Dupont" {
		t.Errorf("familyName = %q", out.Name.FamilyName)
	}
	if d.Name.FamilyName != "" {
		t.Error("Set mutated its input")
	}

	p, _ = Parse("emails[0].value")
	out, err = Set(out, p, "marie@example.org")
	if err != nil {
		t.Fatalf("set nested: %v", err)
	}
	if len(out.Emails) != 1 || out.Emails[0].Value != "marie@example.org" {
		t.Errorf("emails = %+v", out.Emails)
	}
}
