package shared

import (
	"net/http"
	"strconv"
	"strings"
)

type Pagination struct {
	Limit  int
	Offset int
}

func ParsePagination(r *http.Request, defaultLimit, maxLimit int) Pagination {
	limit := defaultLimit
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return Pagination{Limit: limit, Offset: offset}
}

// TableQuery is the data table's query string: q, page (1-based) and pageSize.
// Zero values mean "not given".
type TableQuery struct {
	Search   string
	Page     int
	PageSize int
}

// TableParams are the query keys consumed by TableQuery; everything else is
// forwarded to the dataset loader.
var TableParams = []string{"q", "page", "pageSize", "format"}

func ParseTableQuery(r *http.Request) TableQuery {
	q := r.URL.Query()
	out := TableQuery{Search: strings.TrimSpace(q.Get("q"))}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		out.Page = v
	}
	if v, err := strconv.Atoi(q.Get("pageSize")); err == nil && v > 0 {
		out.PageSize = v
	}
	return out
}

// ParseID reads a positive integer path or query value.
func ParseID(raw string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
