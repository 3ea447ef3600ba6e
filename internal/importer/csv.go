package importer

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// Mapping assigns CSV headers to contact fields. Keys are the field names
// below; values are the CSV column headers, matched case-insensitively.
type Mapping struct {
	GivenName  string `yaml:"given_name"`
	MiddleName string `yaml:"middle_name"`
	FamilyName string `yaml:"family_name"`
	FullName   string `yaml:"full_name"`
	Prefix     string `yaml:"prefix"`
	Suffix     string `yaml:"suffix"`
	Email      string `yaml:"email"`
	EmailAlt   string `yaml:"email_alt"`
	Phone      string `yaml:"phone"`
	PhoneAlt   string `yaml:"phone_alt"`
	Company    string `yaml:"company"`
	Title      string `yaml:"title"`
	Department string `yaml:"department"`
	Street     string `yaml:"street"`
	City       string `yaml:"city"`
	Region     string `yaml:"region"`
	PostalCode string `yaml:"postal_code"`
	Country    string `yaml:"country"`
	URL        string `yaml:"url"`
	Notes      string `yaml:"notes"`
}

// DefaultMapping covers the common export headers of mainstream address
// books.
func DefaultMapping() Mapping {
	return Mapping{
		GivenName:  "first name",
		MiddleName: "middle name",
		FamilyName: "last name",
		FullName:   "name",
		Prefix:     "prefix",
		Suffix:     "suffix",
		Email:      "email",
		EmailAlt:   "email 2",
		Phone:      "phone",
		PhoneAlt:   "phone 2",
		Company:    "company",
		Title:      "title",
		Department: "department",
		Street:     "street",
		City:       "city",
		Region:     "state",
		PostalCode: "zip",
		Country:    "country",
		URL:        "website",
		Notes:      "notes",
	}
}

// LoadMapping reads a YAML mapping file; unset fields fall back to the
// defaults.
func LoadMapping(path string) (Mapping, error) {
	m := DefaultMapping()
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, syncerr.Wrap(syncerr.IO, err, "read mapping file %s", path)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, syncerr.Wrap(syncerr.IO, err, "parse mapping file %s", path)
	}
	return m, nil
}

// ParsedContact pairs one CSV row's contact with its dedup row hash.
type ParsedContact struct {
	Contact types.Contact
	RowHash string
	// DedupRow is the {name, email, phone} subset the row hash covers.
	DedupRow map[string]string
}

// parseCSV reads all rows, resolves the header against the mapping, and
// builds one contact per data row. Rows with no usable fields are skipped.
func parseCSV(r io.Reader, mapping Mapping) ([]ParsedContact, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, 0, syncerr.New(syncerr.IO, "csv file is empty")
	}
	if err != nil {
		return nil, 0, syncerr.Wrap(syncerr.IO, err, "read csv header")
	}

	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[strings.ToLower(strings.TrimSpace(h))] = i
	}
	col := func(name string) int {
		if name == "" {
			return -1
		}
		if idx, ok := colIndex[strings.ToLower(name)]; ok {
			return idx
		}
		return -1
	}
	field := func(record []string, name string) string {
		idx := col(name)
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var (
		parsed    []ParsedContact
		totalRows int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, totalRows, syncerr.Wrap(syncerr.IO, err, "read csv row %d", totalRows+2)
		}
		totalRows++

		contact := rowToContact(record, field, mapping)
		if isEmptyContact(contact.ContactData) {
			continue
		}

		dedup := map[string]string{
			"name":  displayName(contact.ContactData.Name),
			"email": firstValue(contact.ContactData.Emails),
			"phone": firstValue(contact.ContactData.PhoneNumbers),
		}
		parsed = append(parsed, ParsedContact{
			Contact:  contact,
			DedupRow: dedup,
		})
	}
	return parsed, totalRows, nil
}

func rowToContact(record []string, field func([]string, string) string, m Mapping) types.Contact {
	var data types.ContactData

	name := types.Name{
		Prefix:     field(record, m.Prefix),
		GivenName:  field(record, m.GivenName),
		MiddleName: field(record, m.MiddleName),
		FamilyName: field(record, m.FamilyName),
		Suffix:     field(record, m.Suffix),
	}
	if name.GivenName == "" && name.FamilyName == "" {
		if full := field(record, m.FullName); full != "" {
			parts := strings.Fields(full)
			name.GivenName = parts[0]
			if len(parts) > 1 {
				name.FamilyName = strings.Join(parts[1:], " ")
			}
		}
	}
	if name != (types.Name{}) {
		data.Name = &name
	}

	for _, email := range []string{field(record, m.Email), field(record, m.EmailAlt)} {
		if email != "" {
			data.Emails = append(data.Emails, types.TypedValue{Value: email, Type: "other"})
		}
	}
	for _, phone := range []string{field(record, m.Phone), field(record, m.PhoneAlt)} {
		if phone != "" {
			data.PhoneNumbers = append(data.PhoneNumbers, types.TypedValue{Value: phone, Type: "other"})
		}
	}

	org := types.Organization{
		Name:       field(record, m.Company),
		Title:      field(record, m.Title),
		Department: field(record, m.Department),
	}
	if org != (types.Organization{}) {
		data.Organizations = append(data.Organizations, org)
	}

	addr := types.Address{
		Street:     field(record, m.Street),
		City:       field(record, m.City),
		Region:     field(record, m.Region),
		PostalCode: field(record, m.PostalCode),
		Country:    field(record, m.Country),
	}
	if addr != (types.Address{}) {
		addr.Type = "home"
		data.Addresses = append(data.Addresses, addr)
	}

	if url := field(record, m.URL); url != "" {
		data.URLs = append(data.URLs, types.URL{Value: url})
	}
	data.Notes = field(record, m.Notes)

	return types.Contact{
		ContactID:   "local-" + uuid.NewString(),
		ContactData: data,
	}
}

func isEmptyContact(d types.ContactData) bool {
	return d.Name == nil && len(d.Emails) == 0 && len(d.PhoneNumbers) == 0 &&
		len(d.Organizations) == 0 && len(d.Addresses) == 0 &&
		len(d.URLs) == 0 && d.Notes == ""
}

func displayName(n *types.Name) string {
	if n == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{n.GivenName, n.MiddleName, n.FamilyName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func firstValue(vals []types.TypedValue) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0].Value
}
