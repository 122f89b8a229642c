package api

import (
	"net/http"

	"github.com/dativebase/old/pkg/httputil"
)

// Paginator is the pagination envelope shared by listing and search
// responses. Count is the total matching rows, not the page size.
type Paginator struct {
	Page         int   `json:"page"`
	ItemsPerPage int   `json:"items_per_page"`
	Count        int64 `json:"count"`
}

// limitOffset renders the paginator as SQL paging parameters. A nil
// paginator means no paging: everything in one response.
func (p *Paginator) limitOffset() (limit, offset int) {
	if p == nil || p.ItemsPerPage <= 0 {
		return 0, 0
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return p.ItemsPerPage, (page - 1) * p.ItemsPerPage
}

// paginatorFromRequest reads ?page and ?items_per_page. Absent or
// non-positive items_per_page means an unpaginated listing.
func paginatorFromRequest(r *http.Request) *Paginator {
	items, err := httputil.ParseQueryInt(r, "items_per_page", 0)
	if err != nil || items <= 0 {
		return nil
	}
	page, err := httputil.ParseQueryInt(r, "page", 1)
	if err != nil || page < 1 {
		page = 1
	}
	return &Paginator{Page: page, ItemsPerPage: items}
}

// writeListing writes either a bare array or the paginated envelope,
// depending on whether the request asked for paging.
func writeListing(w http.ResponseWriter, items interface{}, total int64, p *Paginator) {
	if p == nil {
		httputil.WriteSuccess(w, items)
		return
	}
	// A client-supplied count is echoed back unverified; it lets clients
	// skip recounting on every page of a stable result set.
	if p.Count == 0 {
		p.Count = total
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"items":     items,
		"paginator": p,
	})
}
