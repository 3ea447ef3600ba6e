// Package types defines the contact data model, queue records, and filters
// shared across the storage, engine, and importer layers.
package types

import "time"

// Source identifies where a stored contact originated.
type Source string

const (
	SourceAPI       Source = "api"
	SourceCSVImport Source = "csv_import"
	SourceManual    Source = "manual"
)

// ValidSources is the closed set accepted by store filters.
var ValidSources = map[Source]bool{
	SourceAPI:       true,
	SourceCSVImport: true,
	SourceManual:    true,
}

// Name is the structured name of a contact.
type Name struct {
	Prefix     string `json:"prefix,omitempty"`
	GivenName  string `json:"givenName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	Suffix     string `json:"suffix,omitempty"`
}

// TypedValue is a value/type pair used for emails, phones, IM handles,
// and related people.
type TypedValue struct {
	Value string `json:"value,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Organization is an employment entry.
type Organization struct {
	Name       string `json:"name,omitempty"`
	Title      string `json:"title,omitempty"`
	Department string `json:"department,omitempty"`
}

// Address is a postal address entry.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	Type       string `json:"type,omitempty"`
}

// URL is a web link entry.
type URL struct {
	Value    string `json:"value,omitempty"`
	Type     string `json:"type,omitempty"`
	Username string `json:"username,omitempty"`
}

// Date is a partial calendar date. Zero fields are omitted from the
// serialized form.
type Date struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

// Event is a dated event such as an anniversary.
type Event struct {
	Date *Date  `json:"date,omitempty"`
	Type string `json:"type,omitempty"`
}

// Item is an arbitrary labeled value carried on a contact.
type Item struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// ContactData is the nested payload of a contact. It is serialized as an
// opaque JSON blob inside the store; only selected paths are queried.
type ContactData struct {
	Name          *Name          `json:"name,omitempty"`
	Emails        []TypedValue   `json:"emails,omitempty"`
	PhoneNumbers  []TypedValue   `json:"phoneNumbers,omitempty"`
	Organizations []Organization `json:"organizations,omitempty"`
	Addresses     []Address      `json:"addresses,omitempty"`
	URLs          []URL          `json:"urls,omitempty"`
	IMHandles     []TypedValue   `json:"imHandles,omitempty"`
	RelatedPeople []TypedValue   `json:"relatedPeople,omitempty"`
	Events        []Event        `json:"events,omitempty"`
	Birthday      *Date          `json:"birthday,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	Items         []Item         `json:"items,omitempty"`
}

// ContactMetadata carries remote-side bookkeeping for a contact.
type ContactMetadata struct {
	TagIDs         []string `json:"tagIds,omitempty"`
	SharedBy       []string `json:"sharedBy,omitempty"`
	CompanyContact *bool    `json:"companyContact,omitempty"`
	Etag           string   `json:"etag,omitempty"`
}

// Contact is a contact as exchanged with the remote API.
type Contact struct {
	ContactID       string          `json:"contactId"`
	ContactData     ContactData     `json:"contactData"`
	ContactMetadata ContactMetadata `json:"contactMetadata,omitempty"`
}

// StoredContact is a contact row in the local store.
type StoredContact struct {
	ContactID       string
	ContactData     ContactData
	DataHash        string
	SyncedToAPI     bool
	LastModified    time.Time
	Source          Source
	ImportSessionID string
	CreatedAt       time.Time
}

// ContactFilter narrows store searches. Predicates combine with AND;
// zero values mean "no constraint".
type ContactFilter struct {
	Source          Source
	Synced          *bool
	ImportSessionID string
	Name            string
	Email           string
	Phone           string
	Limit           int
	Offset          int
}
