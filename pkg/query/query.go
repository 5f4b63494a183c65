// Package query parses and validates JSON:API query parameters: filter
// expressions, sort order, sparse fieldsets, include paths and pagination.
package query

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/calaveras-dev/jsonapi-kit/pkg/document"
	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
	"github.com/samber/lo"
)

type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

var validOperators = []Operator{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains}

var filterPattern = regexp.MustCompile(`^filter\[([\w.\-]+)\](?:\[(\w+)\])?$`)
var fieldsPattern = regexp.MustCompile(`^fields\[([\w\-]+)\]$`)

// Condition is a single parsed filter expression. Values stay strings at
// this level; backends cast them against the schema.
type Condition struct {
	Field string
	Op    Operator
	Value string
}

type Sort struct {
	Field string
	Desc  bool
}

type Page struct {
	Number int
	Size   int
}

// Query is the parsed and normalised set of query parameters of a request.
type Query struct {
	Filter  []Condition
	Sort    []Sort
	Fields  map[string][]string
	Include []string
	Page    Page

	// raw is kept so pagination links can be rebuilt with the original
	// parameters preserved.
	raw url.Values
}

// Parse reads the JSON:API query parameters out of url.Values. Unknown
// parameters are ignored, malformed ones are reported as errors with a
// source parameter.
func Parse(values url.Values, defaultPageSize, maxPageSize int) (*Query, error) {
	q := &Query{
		Fields: map[string][]string{},
		Page:   Page{Number: 1, Size: defaultPageSize},
		raw:    values,
	}

	for param := range values {
		if match := filterPattern.FindStringSubmatch(param); match != nil {
			op := Operator(lo.Ternary(match[2] == "", string(OpEq), match[2]))
			if !lo.Contains(validOperators, op) {
				return nil, document.InvalidParameter(param, fmt.Sprintf("invalid filter operator %q", match[2]))
			}
			q.Filter = append(q.Filter, Condition{
				Field: match[1],
				Op:    op,
				Value: values.Get(param),
			})
			continue
		}

		if match := fieldsPattern.FindStringSubmatch(param); match != nil {
			names := lo.Filter(strings.Split(values.Get(param), ","), func(s string, _ int) bool {
				return s != ""
			})
			q.Fields[match[1]] = lo.Uniq(names)
		}
	}

	if values.Has("sort") {
		for _, key := range strings.Split(values.Get("sort"), ",") {
			if key == "" {
				continue
			}
			desc := strings.HasPrefix(key, "-")
			q.Sort = append(q.Sort, Sort{
				Field: strings.TrimPrefix(strings.TrimPrefix(key, "-"), "+"),
				Desc:  desc,
			})
		}
	}

	if values.Has("include") {
		q.Include = lo.Filter(strings.Split(values.Get("include"), ","), func(s string, _ int) bool {
			return s != ""
		})
	}

	var err error
	if q.Page.Number, err = parsePageParam(values, "page[number]", 1); err != nil {
		return nil, err
	}
	if q.Page.Size, err = parsePageParam(values, "page[size]", defaultPageSize); err != nil {
		return nil, err
	}
	if maxPageSize > 0 && q.Page.Size > maxPageSize {
		return nil, document.InvalidParameter("page[size]", fmt.Sprintf("page size may not exceed %d", maxPageSize))
	}

	return q, nil
}

func parsePageParam(values url.Values, param string, fallback int) (int, error) {
	if !values.Has(param) {
		return fallback, nil
	}
	n, err := strconv.Atoi(values.Get(param))
	if err != nil || n < 1 {
		return 0, document.InvalidParameter(param, fmt.Sprintf("%s must be a positive integer", param))
	}
	return n, nil
}

// Validate checks field references against the resource schema: filter and
// sort fields must be declared attributes or relationships (dotted filter
// paths are checked on their first segment), include roots must be declared
// relationships.
func (q *Query) Validate(s *schema.Schema) error {
	known := append(s.FieldNames(), "id")

	for _, cond := range q.Filter {
		root := strings.Split(cond.Field, ".")[0]
		if !lo.Contains(known, root) {
			return document.InvalidParameter(
				fmt.Sprintf("filter[%s]", cond.Field),
				fmt.Sprintf("invalid filter field: %s", cond.Field),
			)
		}
	}

	invalidSorts := lo.FilterMap(q.Sort, func(sort Sort, _ int) (string, bool) {
		return sort.Field, !lo.Contains(known, sort.Field)
	})
	if len(invalidSorts) > 0 {
		return document.InvalidParameter("sort", fmt.Sprintf("invalid field(s) for sort: %s", strings.Join(invalidSorts, ",")))
	}

	relNames := lo.Map(s.Relationships, func(rel schema.Relationship, _ int) string {
		return rel.Name
	})
	invalidIncludes := lo.FilterMap(q.Include, func(path string, _ int) (string, bool) {
		root := strings.Split(path, ".")[0]
		return root, !lo.Contains(relNames, root)
	})
	if len(invalidIncludes) > 0 {
		return document.InvalidParameter("include", fmt.Sprintf("invalid relationship(s): %s", strings.Join(lo.Uniq(invalidIncludes), ", ")))
	}

	return nil
}

// Criteria is the storage-facing slice of a query: conditions, order and
// window. Backends translate it to their native representation.
type Criteria struct {
	Conditions []Condition
	Sort       []Sort
	Skip       int64
	Limit      int64
}

// Criteria projects the query onto its storage criteria with the pagination
// window applied.
func (q *Query) Criteria() Criteria {
	c := Criteria{
		Conditions: q.Filter,
		Sort:       q.Sort,
	}
	if q.Page.Size > 0 {
		c.Limit = int64(q.Page.Size)
		c.Skip = int64(q.Page.Number-1) * int64(q.Page.Size)
	}
	return c
}

// Values returns a copy of the raw query parameters.
func (q *Query) Values() url.Values {
	out := url.Values{}
	for k, vs := range q.raw {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
