package engine

import (
	"context"

	"github.com/perrindel/cardsync/internal/types"
)

// Scroller is the cursor-paginated listing surface of the remote API.
type Scroller interface {
	ScrollContacts(ctx context.Context, size int, cursor string) ([]types.Contact, string, error)
}

// Pull ingests every remote contact into the local store. Pulled rows
// bypass the queue entirely: they were just read from the remote, so they
// are written with source=api and synced_to_api=true.
func (e *Engine) Pull(ctx context.Context, scroller Scroller, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	total := 0
	cursor := ""
	for {
		page, next, err := scroller.ScrollContacts(ctx, pageSize, cursor)
		if err != nil {
			return total, err
		}
		for i := range page {
			if _, err := e.store.SaveContact(ctx, &page[i], types.SourceAPI, "", true); err != nil {
				return total, err
			}
			total++
		}
		if next == "" {
			return total, nil
		}
		cursor = next
	}
}
