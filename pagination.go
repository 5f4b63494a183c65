package jsonapikit

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/calaveras-dev/jsonapi-kit/pkg/document"
	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
)

// paginationMeta builds the collection meta block. The page count is never
// below one so an empty collection still reports a single empty page.
func paginationMeta(count int, page query.Page) (document.Meta, int) {
	numPages := 1
	if page.Size > 0 {
		numPages = (count + page.Size - 1) / page.Size
		if numPages < 1 {
			numPages = 1
		}
	}

	return document.Meta{
		"count":        count,
		"page":         page.Number,
		"page_size":    page.Size,
		"num_pages":    numPages,
		"has_next":     page.Number < numPages,
		"has_previous": page.Number > 1,
	}, numPages
}

// paginationLinks rebuilds the request URL per page position. The prev and
// next members are present but null at the edges of the collection.
func paginationLinks(path string, q *query.Query, numPages int) document.Links {
	links := document.Links{
		"first": pageLink(path, q, 1),
		"last":  pageLink(path, q, numPages),
		"prev":  nil,
		"next":  nil,
	}
	if q.Page.Number > 1 {
		links["prev"] = pageLink(path, q, q.Page.Number-1)
	}
	if q.Page.Number < numPages {
		links["next"] = pageLink(path, q, q.Page.Number+1)
	}
	return links
}

func pageLink(path string, q *query.Query, number int) string {
	values := q.Values()
	values.Set("page[number]", strconv.Itoa(number))
	values.Set("page[size]", strconv.Itoa(q.Page.Size))
	return fmt.Sprintf("%s?%s", path, encodeQuery(values))
}

// encodeQuery is url.Values.Encode without escaping the square brackets of
// the parameter family names, keeping links readable and round-trippable.
func encodeQuery(values url.Values) string {
	encoded := values.Encode()
	encoded = strings.ReplaceAll(encoded, "%5B", "[")
	return strings.ReplaceAll(encoded, "%5D", "]")
}
