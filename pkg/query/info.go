// Package query turns raw request parameters into a validated query
// description and composes that description into executable SQL against a
// declared resource schema.
package query

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/restio/restio/pkg/apierr"
	"github.com/restio/restio/pkg/schema"
)

// Limits holds the configured paging bounds.
type Limits struct {
	Default int
	Max     int
}

// SortKey is one component of a sort specification. Path has one segment
// for a plain attribute, or two when the first segment names a relationship
// and the second a column on its target.
type SortKey struct {
	Path      []string
	Ascending bool
}

// Filter is one parsed filter[<colspec>:<op>]=<value> parameter.
type Filter struct {
	Colspec []string
	Op      string
	Value   string
}

// Info is the structured, validated description of one request's query
// parameters.
type Info struct {
	Limit  int
	Offset int
	Sort   []SortKey
	// SortParam is the raw sort parameter (or its default), echoed into
	// pagination links.
	SortParam string
	// Filters is keyed by the full parameter name, e.g. "filter[name:eq]".
	Filters map[string]Filter
	// Fields maps a type name to its requested sparse fieldset. A type
	// absent from the map means the default set (all attributes and
	// relationships); an empty set means no fields.
	Fields map[string]map[string]struct{}
	// Include holds every prefix of every requested include path.
	Include map[string]struct{}
	// Page holds the raw inner keys of all page[...] parameters.
	Page map[string]string
}

var bracketParam = regexp.MustCompile(`^(.*?)\[(.*?)\]$`)

// Parse validates raw query parameters against res and returns the query
// description. Filter operators are validated here; sort keys are validated
// when the query is composed. Include paths are collected as prefix sets
// without graph validation so that the same parameter yields the same set
// for every type touched by the request; callers validate the paths once
// against the request's root type with ValidateInclude.
func Parse(params url.Values, res *schema.Resource, limits Limits) (*Info, error) {
	info := &Info{
		Limit:   limits.Default,
		Filters: make(map[string]Filter),
		Fields:  make(map[string]map[string]struct{}),
		Include: make(map[string]struct{}),
		Page:    make(map[string]string),
	}

	if v := params.Get("page[limit]"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apierr.Validationf("page[limit] is not an integer: %q", v)
		}
		if n < 0 {
			return nil, apierr.Validationf("page[limit] is negative: %q", v)
		}
		info.Limit = n
	}
	if info.Limit > limits.Max {
		info.Limit = limits.Max
	}
	if v := params.Get("page[offset]"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apierr.Validationf("page[offset] is not an integer: %q", v)
		}
		if n < 0 {
			return nil, apierr.Validationf("page[offset] is negative: %q", v)
		}
		info.Offset = n
	}

	info.SortParam = params.Get("sort")
	if info.SortParam == "" {
		info.SortParam = res.Key
	}
	for _, key := range strings.Split(info.SortParam, ",") {
		ascending := true
		if strings.HasPrefix(key, "-") {
			ascending = false
			key = key[1:]
		}
		info.Sort = append(info.Sort, SortKey{Path: strings.Split(key, "."), Ascending: ascending})
	}

	for name, values := range params {
		match := bracketParam.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		value := values[0]
		switch match[1] {
		case "filter":
			colspec, op, found := strings.Cut(match[2], ":")
			if !found {
				return nil, apierr.Validationf("invalid filter parameter %q: want filter[<colspec>:<op>]", name)
			}
			if !ValidOperator(op) {
				return nil, apierr.Validationf("unknown filter operator %q", op)
			}
			info.Filters[name] = Filter{
				Colspec: strings.Split(colspec, "."),
				Op:      op,
				Value:   value,
			}
		case "fields":
			set := make(map[string]struct{})
			if value != "" {
				for _, f := range strings.Split(value, ",") {
					set[f] = struct{}{}
				}
			}
			info.Fields[match[2]] = set
		case "page":
			info.Page[match[2]] = value
		}
	}

	if v := params.Get("include"); v != "" {
		for _, path := range strings.Split(v, ",") {
			segments := strings.Split(path, ".")
			for i := range segments {
				info.Include[strings.Join(segments[:i+1], ".")] = struct{}{}
			}
		}
	}
	return info, nil
}

// ValidateInclude checks every include path segment-by-segment against the
// relationship graph rooted at res. A segment that is not a declared
// relationship taints the rest of its path: each prefix from the bad segment
// onward becomes an invalid-path entry, and any invalid path fails the whole
// request.
func ValidateInclude(param string, res *schema.Resource, reg *schema.Registry) error {
	if param == "" {
		return nil
	}
	var bad []string
	for _, path := range strings.Split(param, ",") {
		cur := res
		var prefix []string
		tainted := false
		for _, name := range strings.Split(path, ".") {
			prefix = append(prefix, name)
			if tainted {
				bad = append(bad, strings.Join(prefix, "."))
				continue
			}
			rel, ok := cur.Relationships[name]
			if !ok {
				tainted = true
				bad = append(bad, strings.Join(prefix, "."))
				continue
			}
			next, err := reg.Resource(rel.Target)
			if err != nil {
				return err
			}
			cur = next
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return apierr.Validationf("bad include paths: %s", strings.Join(bad, ", "))
	}
	return nil
}

// RequestedFields returns the requested field names for a type: the sparse
// fieldset when a fields[<type>] parameter was given, otherwise the schema's
// full field set.
func (i *Info) RequestedFields(res *schema.Resource) map[string]struct{} {
	if set, ok := i.Fields[res.Type]; ok {
		return set
	}
	return res.Fields()
}

// Included reports whether the dotted include path is requested.
func (i *Info) Included(path []string) bool {
	_, ok := i.Include[strings.Join(path, ".")]
	return ok
}

// RelatedLimit resolves the paging limit for a relationship: the most
// specific page[limit:relationships:<name>] override wins, falling back
// through page[limit:relationships] and page[limit] to the configured
// default, then clamped to the configured maximum. Malformed and negative
// overrides are skipped.
func (i *Info) RelatedLimit(relName string, limits Limits) int {
	comps := []string{"limit", "relationships", relName}
	limit := limits.Default
	for len(comps) > 0 {
		if v, ok := i.Page[strings.Join(comps, ":")]; ok {
			n, err := strconv.Atoi(v)
			if err == nil && n >= 0 {
				limit = n
				break
			}
		}
		comps = comps[:len(comps)-1]
	}
	if limit > limits.Max {
		limit = limits.Max
	}
	return limit
}

// LinkValues reconstructs the query parameters that pagination links must
// carry: paging, sort and filters.
func (i *Info) LinkValues() url.Values {
	values := url.Values{}
	for k, v := range i.Page {
		values.Set(fmt.Sprintf("page[%s]", k), v)
	}
	values.Set("sort", i.SortParam)
	for name, f := range i.Filters {
		values.Set(name, f.Value)
	}
	return values
}
