package api

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/restio/restio/pkg/document"
	"github.com/restio/restio/pkg/query"
)

// link joins path segments under the configured base URL.
func (s *Server) link(segments ...string) string {
	return s.opts.BaseURL + "/" + strings.Join(segments, "/")
}

// paginationLinks builds the first/prev/next/last links for a collection
// result. first is always present; prev only when there is an earlier page,
// next only when rows remain past the current page, and last points at the
// offset of the final page. A non-positive limit cannot advance, so next and
// last are omitted.
func (s *Server) paginationLinks(path string, info *query.Info, available int64) document.Links {
	values := info.LinkValues()
	values.Set("page[limit]", strconv.Itoa(info.Limit))

	page := func(offset int) string {
		v := make(url.Values, len(values))
		for k, vals := range values {
			v[k] = vals
		}
		v.Set("page[offset]", strconv.Itoa(offset))
		return s.opts.BaseURL + path + "?" + v.Encode()
	}

	links := document.Links{"first": page(0)}
	if info.Offset > 0 {
		prev := info.Offset - info.Limit
		if prev < 0 {
			prev = 0
		}
		links["prev"] = page(prev)
	}
	if info.Limit > 0 {
		if int64(info.Offset+info.Limit) < available {
			links["next"] = page(info.Offset + info.Limit)
		}
		last := 0
		if available > 0 {
			last = int((available - 1) / int64(info.Limit)) * info.Limit
		}
		links["last"] = page(last)
	}
	return links
}
