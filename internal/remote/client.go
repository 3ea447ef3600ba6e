// Package remote implements the bearer-authenticated HTTP/JSON client for
// the contacts service. The OAuth machinery that produces tokens lives
// outside this core; the client consumes an opaque TokenSource.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// TokenSource supplies bearer tokens. Refresh must coalesce concurrent
// callers onto a single in-flight refresh; Clear drops stored tokens after
// a refresh has been refused.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	Clear()
}

// HTTPDoer is the minimal http.Client surface, swappable in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configure a Client. Environment flags are read once by the
// caller at construction and never re-read on hot paths.
type Options struct {
	BaseURL     string
	Tokens      TokenSource
	HTTPClient  HTTPDoer
	Logger      *slog.Logger
	Readonly    bool   // READONLY_MODE: suppress remote mutations
	FixtureFile string // CONTACTS_JSON_FILE: serve reads from a local file
}

// Client talks to the remote contacts API.
type Client struct {
	baseURL  string
	tokens   TokenSource
	http     HTTPDoer
	log      *slog.Logger
	readonly bool
	fixture  *fixtureSet
}

// NewClient builds a client from options. When FixtureFile is set the
// fixture is loaded eagerly so malformed files fail at construction.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:  opts.BaseURL,
		tokens:   opts.Tokens,
		http:     httpClient,
		log:      logger,
		readonly: opts.Readonly,
	}
	if opts.FixtureFile != "" {
		fx, err := loadFixture(opts.FixtureFile)
		if err != nil {
			return nil, err
		}
		c.fixture = fx
	}
	return c, nil
}

// doRequest posts a JSON body to an endpoint and decodes the response.
// A 401 triggers exactly one token refresh and retry; a second 401 clears
// stored tokens and surfaces an auth error.
func (c *Client) doRequest(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return syncerr.Wrap(syncerr.Remote, err, "marshal request for %s", endpoint)
	}

	refreshed := false
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return syncerr.Wrap(syncerr.Auth, err, "obtain bearer token")
	}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return syncerr.Wrap(syncerr.Remote, err, "build request for %s", endpoint)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return syncerr.Wrap(syncerr.Timeout, err, "%s timed out", endpoint)
			}
			return syncerr.Wrap(syncerr.Remote, err, "%s request failed", endpoint)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return syncerr.Wrap(syncerr.Remote, readErr, "read %s response", endpoint)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			if refreshed {
				c.tokens.Clear()
				return syncerr.New(syncerr.Auth, "%s refused refreshed token", endpoint)
			}
			refreshed = true
			token, err = c.tokens.Refresh(ctx)
			if err != nil {
				c.tokens.Clear()
				return syncerr.Wrap(syncerr.Auth, err, "refresh bearer token")
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return syncerr.New(syncerr.Remote, "%s returned status %d: %s",
				endpoint, resp.StatusCode, truncate(string(respBody), 300))
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return syncerr.Wrap(syncerr.Remote, err, "decode %s response", endpoint)
			}
		}
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// GetAccount fetches the authenticated account.
func (c *Client) GetAccount(ctx context.Context) (*AccountInfo, error) {
	if c.fixture != nil {
		return &AccountInfo{AccountID: "fixture-account"}, nil
	}
	var resp accountGetResponse
	if err := c.doRequest(ctx, "/api/v1/account.get", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp.Account, nil
}

// ScrollContacts fetches one page of the contact scroll. An empty cursor
// starts from the beginning; the returned cursor is empty on the last page.
func (c *Client) ScrollContacts(ctx context.Context, size int, cursor string) ([]types.Contact, string, error) {
	if c.fixture != nil {
		return c.fixture.scroll(size, cursor)
	}
	var resp scrollResponse
	err := c.doRequest(ctx, "/api/v1/contacts.scroll",
		scrollRequest{Size: size, ScrollCursor: cursor}, &resp)
	if err != nil {
		return nil, "", err
	}
	return resp.Contacts, resp.Cursor, nil
}

// AllContacts iterates the scroll cursor until exhaustion.
func (c *Client) AllContacts(ctx context.Context, pageSize int) ([]types.Contact, error) {
	var (
		all    []types.Contact
		cursor string
	)
	for {
		page, next, err := c.ScrollContacts(ctx, pageSize, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// SearchContacts runs a server-side search.
func (c *Client) SearchContacts(ctx context.Context, query string, size int) ([]types.Contact, error) {
	if c.fixture != nil {
		return c.fixture.search(query), nil
	}
	var resp searchResponse
	err := c.doRequest(ctx, "/api/v1/contacts.search",
		searchRequest{SearchQuery: query, Size: size}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// GetContact fetches a single contact by id. A missing id is a NotFound
// error, distinct from transport failures.
func (c *Client) GetContact(ctx context.Context, contactID string) (*types.Contact, error) {
	if c.fixture != nil {
		return c.fixture.get(contactID)
	}
	var resp getResponse
	err := c.doRequest(ctx, "/api/v1/contacts.get",
		getRequest{ContactIDs: []string{contactID}}, &resp)
	if err != nil {
		return nil, err
	}
	for i := range resp.Contacts {
		if resp.Contacts[i].ContactID == contactID {
			return &resp.Contacts[i], nil
		}
	}
	return nil, syncerr.New(syncerr.NotFound, "contact %s not found remotely", contactID)
}

// CreateContact creates a contact remotely. In readonly or fixture mode
// the mutation is suppressed and a synthetic result returned.
func (c *Client) CreateContact(ctx context.Context, data types.ContactData, meta types.ContactMetadata) (*types.Contact, error) {
	if c.readonly || c.fixture != nil {
		c.log.Info("readonly: synthesizing contact create")
		return &types.Contact{
			ContactID:       "readonly-" + uuid.NewString(),
			ContactData:     data,
			ContactMetadata: types.ContactMetadata{Etag: "readonly", TagIDs: meta.TagIDs},
		}, nil
	}
	var resp contactResponse
	err := c.doRequest(ctx, "/api/v1/contacts.create",
		createRequest{Contact: createContactBody{ContactData: data, ContactMetadata: meta}}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Contact, nil
}

// UpdateContact submits new contact data under the supplied etag. In
// readonly or fixture mode the mutation is suppressed and a synthetic
// result returned.
func (c *Client) UpdateContact(ctx context.Context, contactID, etag string, data types.ContactData) (*types.Contact, error) {
	if c.readonly || c.fixture != nil {
		c.log.Info("readonly: synthesizing contact update", "contact_id", contactID)
		return &types.Contact{
			ContactID:       contactID,
			ContactData:     data,
			ContactMetadata: types.ContactMetadata{Etag: etag},
		}, nil
	}
	var resp contactResponse
	err := c.doRequest(ctx, "/api/v1/contacts.update",
		updateRequest{Contact: updateContactBody{ContactID: contactID, Etag: etag, ContactData: data}}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Contact, nil
}

// Readonly reports whether remote mutations are suppressed.
func (c *Client) Readonly() bool { return c.readonly || c.fixture != nil }
