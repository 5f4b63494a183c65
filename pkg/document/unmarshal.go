package document

import (
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
)

// ParseRequest decodes and validates a request body. The body must be a JSON
// object with one and only one top-level member, "data".
func ParseRequest(raw []byte) (*Document, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, NewError(400, "request body is not a valid JSON object")
	}

	data, ok := members["data"]
	if !ok {
		return nil, InvalidPointer("", `the top level object of all request bodies must include a "data" member`)
	}
	if len(members) != 1 {
		return nil, InvalidPointer("", `there must be one and only one member at the top level of the request body: "data"`)
	}

	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 {
		return nil, InvalidPointer("data", `the top-level "data" member must be an array, an object or null`)
	}
	switch trimmed[0] {
	case '{', '[', 'n':
	default:
		return nil, InvalidPointer("data", `the top-level "data" member must be an array, an object or null`)
	}

	doc := &Document{}
	wrapped, err := json.Marshal(map[string]json.RawMessage{"data": data})
	if err != nil {
		return nil, err
	}
	if err := doc.UnmarshalJSON(wrapped); err != nil {
		return nil, InvalidPointer("data", err.Error())
	}
	return doc, nil
}

// RequestResource extracts the single resource object of a write request.
func RequestResource(raw []byte) (*Resource, error) {
	doc, err := ParseRequest(raw)
	if err != nil {
		return nil, err
	}
	res, ok := doc.Data().(*Resource)
	if !ok || res == nil {
		return nil, InvalidPointer("data", `the top-level "data" member must be a single resource object`)
	}
	return res, nil
}

// ParseIdentifiers extracts resource identifiers from a relationship request
// body. For a to-many relationship, a single identifier object is folded
// into a one-element list when listifySingle is set; a to-one relationship
// accepts a single identifier or null.
func ParseIdentifiers(raw []byte, many bool, listifySingle bool) ([]*Identifier, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, NewError(400, "request body is not a valid JSON object")
	}
	data, ok := members["data"]
	if !ok {
		return nil, InvalidPointer("", `the top level object of all request bodies must include a "data" member`)
	}
	if len(members) != 1 {
		return nil, InvalidPointer("", `there must be one and only one member at the top level of the request body: "data"`)
	}

	var linkage Linkage
	if err := linkage.UnmarshalJSON(data); err != nil {
		return nil, InvalidPointer("data", err.Error())
	}

	if many {
		if linkage.Many {
			return linkage.Items, nil
		}
		if listifySingle && linkage.One != nil {
			return []*Identifier{linkage.One}, nil
		}
		return nil, InvalidPointer("data", `the top-level "data" member must be an array of resource identifiers or an empty array`)
	}

	if linkage.Many {
		return nil, InvalidPointer("data", `the top-level "data" member must be a single resource identifier or null`)
	}
	if linkage.One == nil {
		return []*Identifier{}, nil
	}
	return []*Identifier{linkage.One}, nil
}

// UnmarshalResource applies a resource object onto a target struct. Only the
// attributes present in the payload are written, which makes the same path
// serve both create and partial update.
func (m *Marshaler) UnmarshalResource(res *Resource, target interface{}) error {
	s, ok := m.schemas.ByValue(target)
	if !ok {
		return fmt.Errorf("document: unregistered resource type %T", target)
	}

	if res.Type == "" {
		return InvalidPointer("data/type", "missing `type` in resource object")
	}
	if res.Type != s.ResourceType {
		return InvalidPointer("data/type", fmt.Sprintf("invalid `type`: %q (did you mean %q?)", res.Type, s.ResourceType))
	}

	if res.ID != "" {
		if err := s.SetID(target, res.ID); err != nil {
			return err
		}
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr {
		return fmt.Errorf("document: unmarshal target must be a pointer, got %T", target)
	}
	elem := rv.Elem()

	errs := ErrorList{}
	for name, value := range res.Attributes {
		attr, ok := s.Attribute(name)
		if !ok {
			errs = append(errs, InvalidPointer(
				fmt.Sprintf("data/attributes/%s", name),
				fmt.Sprintf("unknown attribute %q for resource type %q", name, s.ResourceType),
			))
			continue
		}

		field := elem.Field(attr.FieldIndex)
		if err := assignAttribute(field, value); err != nil {
			errs = append(errs, InvalidPointer(
				fmt.Sprintf("data/attributes/%s", name),
				err.Error(),
			))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// assignAttribute coerces a decoded JSON value into a struct field by
// round-tripping it through the JSON codec. This keeps time, numeric and
// nested struct conversions consistent with the wire format.
func assignAttribute(field reflect.Value, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, field.Addr().Interface()); err != nil {
		return fmt.Errorf("cannot assign value: %s", err)
	}
	return nil
}
