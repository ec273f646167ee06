package collector

import (
	"context"
)

// Paged is a page that knows how to continue
type Paged interface {
	Info() PageInfo
}

// PageCap returns the number of pages needed to read at most maxRecords
// records at pageSize records per page
func PageCap(maxRecords, pageSize int) int {
	if maxRecords <= 0 || pageSize <= 0 {
		return 0
	}
	return (maxRecords + pageSize - 1) / pageSize
}

// FetchAllPages walks a paginated query, feeding each page's end cursor into
// the next request, until a page reports no successor or maxPages pages have
// been read. A non-positive maxPages means no cap. Quota exhaustion calls
// pause and retries the same cursor.
func FetchAllPages[P Paged](ctx context.Context, f *Fetcher, maxPages int, pause PauseFunc, fetch func(ctx context.Context, cursor string) (P, *Response, error)) ([]P, error) {
	var pages []P
	cursor := ""

	for maxPages <= 0 || len(pages) < maxPages {
		page, err := Retrieve(ctx, f, pause, func(ctx context.Context) (P, *Response, error) {
			return fetch(ctx, cursor)
		})
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)

		info := page.Info()
		if !info.HasNextPage || info.EndCursor == "" {
			break
		}
		cursor = info.EndCursor
	}

	return pages, nil
}
