package shared

import (
	"net/http"
	"strconv"
)

// Pagination is a limit/offset window read from the query string.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads ?limit and ?offset. Malformed or out-of-range values
// fall back to defaultLimit and 0; a positive maxLimit caps the limit.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) Pagination {
	q := r.URL.Query()
	page := Pagination{
		Limit:  queryInt(q.Get("limit"), defaultLimit, 1),
		Offset: queryInt(q.Get("offset"), 0, 0),
	}
	if maxLimit > 0 {
		page.Limit = min(page.Limit, maxLimit)
	}
	return page
}

func queryInt(raw string, fallback, floor int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < floor {
		return fallback
	}
	return n
}
