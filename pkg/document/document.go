package document

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// MediaType is the JSON:API content type.
const MediaType = "application/vnd.api+json"

type Meta map[string]interface{}

type Links map[string]interface{}

// Identifier is a resource identifier object: the (type, id) pair used for
// linkage inside relationships and for relationship endpoints.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Meta Meta   `json:"meta,omitempty"`
}

// Linkage is the data member of a relationship object. A to-one linkage
// serialises to a single identifier or null, a to-many linkage to an array.
type Linkage struct {
	Many  bool
	One   *Identifier
	Items []*Identifier
}

func ToOneLinkage(id *Identifier) *Linkage {
	return &Linkage{One: id}
}

func ToManyLinkage(ids []*Identifier) *Linkage {
	if ids == nil {
		ids = []*Identifier{}
	}
	return &Linkage{Many: true, Items: ids}
}

func (l Linkage) MarshalJSON() ([]byte, error) {
	if l.Many {
		items := l.Items
		if items == nil {
			items = []*Identifier{}
		}
		return json.Marshal(items)
	}
	return json.Marshal(l.One)
}

func (l *Linkage) UnmarshalJSON(raw []byte) error {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return errors.New("empty relationship data")
	}
	switch trimmed[0] {
	case '[':
		l.Many = true
		return json.Unmarshal(raw, &l.Items)
	case 'n':
		l.One = nil
		return nil
	default:
		return json.Unmarshal(raw, &l.One)
	}
}

type Relationship struct {
	Links Links    `json:"links,omitempty"`
	Data  *Linkage `json:"data,omitempty"`
	Meta  Meta     `json:"meta,omitempty"`
}

// Resource is a single resource object.
type Resource struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id,omitempty"`
	Attributes    map[string]interface{}   `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
	Links         Links                    `json:"links,omitempty"`
	Meta          Meta                     `json:"meta,omitempty"`
}

func (r *Resource) Identifier() *Identifier {
	return &Identifier{Type: r.Type, ID: r.ID}
}

// Document is the top level object of a JSON:API payload. The data member is
// opaque so a document can carry a single resource, a resource collection, or
// identifier linkage for relationship endpoints.
type Document struct {
	Errors   ErrorList
	Meta     Meta
	Links    Links
	Included []*Resource

	data    interface{}
	hasData bool
}

func NewResourceDocument(res *Resource) *Document {
	return &Document{data: res, hasData: true}
}

func NewCollectionDocument(resources []*Resource) *Document {
	if resources == nil {
		resources = []*Resource{}
	}
	return &Document{data: resources, hasData: true}
}

func NewLinkageDocument(linkage *Linkage) *Document {
	return &Document{data: linkage, hasData: true}
}

func NewErrorDocument(errs ...*ErrorObject) *Document {
	return &Document{Errors: errs}
}

func (d *Document) Data() interface{} {
	return d.data
}

// Resources returns the primary data as a slice regardless of cardinality.
func (d *Document) Resources() []*Resource {
	switch data := d.data.(type) {
	case *Resource:
		if data == nil {
			return nil
		}
		return []*Resource{data}
	case []*Resource:
		return data
	default:
		return nil
	}
}

type documentJSON struct {
	Data     json.RawMessage `json:"data,omitempty"`
	Errors   ErrorList       `json:"errors,omitempty"`
	Links    Links           `json:"links,omitempty"`
	Included []*Resource     `json:"included,omitempty"`
	Meta     Meta            `json:"meta,omitempty"`
}

// MarshalJSON renders the document. When errors are present the data member
// is omitted entirely, per the top-level exclusivity rule.
func (d Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{
		Errors:   d.Errors,
		Links:    d.Links,
		Included: d.Included,
		Meta:     d.Meta,
	}

	if len(d.Errors) == 0 {
		if !d.hasData {
			return nil, errors.New("document has neither data nor errors")
		}
		raw, err := json.Marshal(d.data)
		if err != nil {
			return nil, fmt.Errorf("marshal primary data: %w", err)
		}
		out.Data = raw
	}

	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(raw []byte) error {
	var in struct {
		Data     json.RawMessage `json:"data"`
		Errors   ErrorList       `json:"errors"`
		Links    Links           `json:"links"`
		Included []*Resource     `json:"included"`
		Meta     Meta            `json:"meta"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}

	d.Errors = in.Errors
	d.Links = in.Links
	d.Included = in.Included
	d.Meta = in.Meta

	if len(in.Data) == 0 {
		return nil
	}
	d.hasData = true

	trimmed := trimLeadingSpace(in.Data)
	switch {
	case len(trimmed) == 0:
		return errors.New("empty data member")
	case trimmed[0] == '[':
		var many []*Resource
		if err := json.Unmarshal(in.Data, &many); err != nil {
			return err
		}
		d.data = many
	case trimmed[0] == 'n':
		d.data = (*Resource)(nil)
	default:
		var one *Resource
		if err := json.Unmarshal(in.Data, &one); err != nil {
			return err
		}
		d.data = one
	}
	return nil
}

// Encode serialises the document with the configured JSON codec.
func (d *Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}

func trimLeadingSpace(raw []byte) []byte {
	i := 0
	for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t' || raw[i] == '\n' || raw[i] == '\r') {
		i++
	}
	return raw[i:]
}
