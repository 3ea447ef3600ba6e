package remote

import "github.com/perrindel/cardsync/internal/types"

// AccountInfo describes the authenticated account.
type AccountInfo struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
}

type accountGetResponse struct {
	Account AccountInfo `json:"account"`
}

type scrollRequest struct {
	Size         int    `json:"size,omitempty"`
	ScrollCursor string `json:"scrollCursor,omitempty"`
}

type scrollResponse struct {
	Contacts []types.Contact `json:"contacts"`
	Cursor   string          `json:"cursor,omitempty"`
}

type searchRequest struct {
	SearchQuery string `json:"searchQuery"`
	Size        int    `json:"size,omitempty"`
}

type searchResponse struct {
	Contacts []types.Contact `json:"contacts"`
}

type getRequest struct {
	ContactIDs []string `json:"contactIds"`
	TeamID     string   `json:"teamId,omitempty"`
}

type getResponse struct {
	Contacts []types.Contact `json:"contacts"`
}

type createRequest struct {
	Contact createContactBody `json:"contact"`
}

type createContactBody struct {
	ContactData     types.ContactData     `json:"contactData"`
	ContactMetadata types.ContactMetadata `json:"contactMetadata,omitempty"`
}

type updateRequest struct {
	Contact updateContactBody `json:"contact"`
}

type updateContactBody struct {
	ContactID   string            `json:"contactId"`
	Etag        string            `json:"etag"`
	ContactData types.ContactData `json:"contactData"`
}

type contactResponse struct {
	Contact types.Contact `json:"contact"`
}
