// Package hash computes content-addressed hashes of contact records and
// CSV rows. Normalization runs before hashing so that trivially different
// representations of the same contact hash equal; it is idempotent, so
// Contact(Normalize(d)) == Contact(d) always holds.
package hash

import (
	"sort"
	"strings"
	"unicode"

	"github.com/perrindel/cardsync/internal/types"
)

// normString trims and lowercases a textual field.
func normString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normNotes collapses internal whitespace runs in addition to the usual
// trim and lowercase.
func normNotes(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// normPhone reduces a phone number to its digits.
func normPhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normPostalCode strips whitespace but preserves case. Postal codes are
// case-significant in several countries, so only spacing is canonicalized.
func normPostalCode(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Normalize returns the canonical form of contact data: trimmed and
// lowercased strings, digit-only phones, empty entries dropped, and every
// sequence sorted by a deterministic key. Absent fields stay absent.
func Normalize(d types.ContactData) types.ContactData {
	var out types.ContactData

	if d.Name != nil {
		n := types.Name{
			Prefix:     normString(d.Name.Prefix),
			GivenName:  normString(d.Name.GivenName),
			MiddleName: normString(d.Name.MiddleName),
			FamilyName: normString(d.Name.FamilyName),
			Suffix:     normString(d.Name.Suffix),
		}
		if n != (types.Name{}) {
			out.Name = &n
		}
	}

	for _, e := range d.Emails {
		v := normString(e.Value)
		if v == "" {
			continue
		}
		out.Emails = append(out.Emails, types.TypedValue{Value: v, Type: normString(e.Type)})
	}
	sort.Slice(out.Emails, func(i, j int) bool { return out.Emails[i].Value < out.Emails[j].Value })

	for _, p := range d.PhoneNumbers {
		v := normPhone(p.Value)
		if v == "" {
			continue
		}
		out.PhoneNumbers = append(out.PhoneNumbers, types.TypedValue{Value: v, Type: normString(p.Type)})
	}
	sort.Slice(out.PhoneNumbers, func(i, j int) bool { return out.PhoneNumbers[i].Value < out.PhoneNumbers[j].Value })

	for _, o := range d.Organizations {
		org := types.Organization{
			Name:       normString(o.Name),
			Title:      normString(o.Title),
			Department: normString(o.Department),
		}
		if org == (types.Organization{}) {
			continue
		}
		out.Organizations = append(out.Organizations, org)
	}
	sort.Slice(out.Organizations, func(i, j int) bool { return out.Organizations[i].Name < out.Organizations[j].Name })

	for _, a := range d.Addresses {
		addr := types.Address{
			Street:     normString(a.Street),
			City:       normString(a.City),
			Region:     normString(a.Region),
			PostalCode: normPostalCode(a.PostalCode),
			Country:    normString(a.Country),
			Type:       normString(a.Type),
		}
		if addr == (types.Address{}) {
			continue
		}
		out.Addresses = append(out.Addresses, addr)
	}
	sort.Slice(out.Addresses, func(i, j int) bool {
		ki := out.Addresses[i].Street + "|" + out.Addresses[i].City
		kj := out.Addresses[j].Street + "|" + out.Addresses[j].City
		return ki < kj
	})

	for _, u := range d.URLs {
		v := normString(u.Value)
		if v == "" {
			continue
		}
		out.URLs = append(out.URLs, types.URL{
			Value:    v,
			Type:     normString(u.Type),
			Username: normString(u.Username),
		})
	}
	sort.Slice(out.URLs, func(i, j int) bool { return out.URLs[i].Value < out.URLs[j].Value })

	for _, h := range d.IMHandles {
		v := normString(h.Value)
		if v == "" {
			continue
		}
		out.IMHandles = append(out.IMHandles, types.TypedValue{Value: v, Type: normString(h.Type)})
	}
	sort.Slice(out.IMHandles, func(i, j int) bool { return out.IMHandles[i].Value < out.IMHandles[j].Value })

	for _, r := range d.RelatedPeople {
		v := normString(r.Value)
		if v == "" {
			continue
		}
		out.RelatedPeople = append(out.RelatedPeople, types.TypedValue{Value: v, Type: normString(r.Type)})
	}
	sort.Slice(out.RelatedPeople, func(i, j int) bool { return out.RelatedPeople[i].Value < out.RelatedPeople[j].Value })

	for _, ev := range d.Events {
		e := types.Event{Type: normString(ev.Type)}
		if ev.Date != nil && *ev.Date != (types.Date{}) {
			dt := *ev.Date
			e.Date = &dt
		}
		if e.Date == nil && e.Type == "" {
			continue
		}
		out.Events = append(out.Events, e)
	}
	sort.Slice(out.Events, func(i, j int) bool { return eventKey(out.Events[i]) < eventKey(out.Events[j]) })

	if d.Birthday != nil && *d.Birthday != (types.Date{}) {
		b := *d.Birthday
		out.Birthday = &b
	}

	out.Notes = normNotes(d.Notes)

	for _, it := range d.Items {
		item := types.Item{Name: normString(it.Name), Value: normString(it.Value)}
		if item == (types.Item{}) {
			continue
		}
		out.Items = append(out.Items, item)
	}
	sort.Slice(out.Items, func(i, j int) bool {
		ki := out.Items[i].Name + "|" + out.Items[i].Value
		kj := out.Items[j].Name + "|" + out.Items[j].Value
		return ki < kj
	})

	return out
}

func eventKey(e types.Event) string {
	if e.Date == nil {
		return "|" + e.Type
	}
	return intKey(e.Date.Year) + "-" + intKey(e.Date.Month) + "-" + intKey(e.Date.Day) + "|" + e.Type
}

func intKey(n int) string {
	const digits = "0123456789"
	if n <= 0 {
		return "0000"
	}
	buf := []byte{'0', '0', '0', '0'}
	for i := 3; i >= 0 && n > 0; i-- {
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf)
}
