// Package relationships implements the handler abstraction responsible for
// reading and mutating related resources on behalf of serializers and
// viewsets.
package relationships

import (
	"context"
	"fmt"
	"net/http"
	"reflect"

	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
	"github.com/samber/lo"
)

// Handler fetches, adds, replaces and removes related resources for a single
// named relationship of a parent resource.
type Handler interface {
	Name() string
	// TargetType is the resource type the relationship points at.
	TargetType() string
	// Many reports whether this is a to-many relationship.
	Many() bool
	// ReadOnly relationships reject POST/PATCH/DELETE on their endpoints.
	ReadOnly() bool

	// Related returns the related resources currently attached to parent.
	// A to-one relationship yields zero or one element.
	Related(ctx context.Context, parent interface{}) ([]interface{}, error)
	// Add attaches related resources. To-many only.
	Add(ctx context.Context, parent interface{}, related []interface{}) error
	// Set replaces the full relationship contents.
	Set(ctx context.Context, parent interface{}, related []interface{}) error
	// Remove detaches related resources. To-many only.
	Remove(ctx context.Context, parent interface{}, related []interface{}) error
}

type methodNotAllowed struct{ op string }

func (e methodNotAllowed) Error() string {
	return fmt.Sprintf("%s is not supported on a to-one relationship", e.op)
}

// IsMethodNotAllowed reports whether err is a to-one Add/Remove rejection,
// which transports map to 405.
func IsMethodNotAllowed(err error) bool {
	_, ok := err.(methodNotAllowed)
	return ok
}

// FieldHandler is the default Handler implementation, bound to a struct field
// the way the original related-field convention works. The field holds either
// full related values or id-only stubs; linkage needs nothing but the id.
type FieldHandler struct {
	rel      schema.Relationship
	parent   *schema.Schema
	target   *schema.Schema
	readOnly bool
}

// NewFieldHandler binds a declared relationship to its struct field. The
// target schema must describe the related resource type.
func NewFieldHandler(parent *schema.Schema, rel schema.Relationship, target *schema.Schema) *FieldHandler {
	if target.ResourceType != rel.TargetType {
		panic(fmt.Sprintf("relationships: target schema %q does not match declared target %q", target.ResourceType, rel.TargetType))
	}
	return &FieldHandler{rel: rel, parent: parent, target: target}
}

// WithReadOnly marks the relationship as immutable through the API.
func (fh *FieldHandler) WithReadOnly() *FieldHandler {
	fh.readOnly = true
	return fh
}

func (fh *FieldHandler) Name() string       { return fh.rel.Name }
func (fh *FieldHandler) TargetType() string { return fh.rel.TargetType }
func (fh *FieldHandler) Many() bool         { return fh.rel.ToMany }
func (fh *FieldHandler) ReadOnly() bool     { return fh.readOnly }

func (fh *FieldHandler) field(parent interface{}) reflect.Value {
	rv := reflect.ValueOf(parent)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv.Field(fh.rel.FieldIndex)
}

func (fh *FieldHandler) Related(_ context.Context, parent interface{}) ([]interface{}, error) {
	field := fh.field(parent)

	if fh.rel.ToMany {
		out := make([]interface{}, 0, field.Len())
		for i := 0; i < field.Len(); i++ {
			elt := field.Index(i)
			if elt.Kind() == reflect.Ptr && elt.IsNil() {
				continue
			}
			out = append(out, elt.Interface())
		}
		return out, nil
	}

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return nil, nil
		}
		return []interface{}{field.Interface()}, nil
	}
	if fh.target.IDOf(field.Interface()) == "" {
		return nil, nil
	}
	return []interface{}{field.Addr().Interface()}, nil
}

func (fh *FieldHandler) Add(_ context.Context, parent interface{}, related []interface{}) error {
	if !fh.rel.ToMany {
		return methodNotAllowed{op: "add"}
	}
	field := fh.field(parent)

	existing := map[string]bool{}
	for i := 0; i < field.Len(); i++ {
		existing[fh.idOfElement(field.Index(i))] = true
	}

	next := field
	for _, r := range related {
		if existing[fh.target.IDOf(r)] {
			continue
		}
		ev, err := fh.coerceElement(field.Type().Elem(), r)
		if err != nil {
			return err
		}
		next = reflect.Append(next, ev)
	}
	field.Set(next)
	return nil
}

func (fh *FieldHandler) Set(_ context.Context, parent interface{}, related []interface{}) error {
	field := fh.field(parent)

	if fh.rel.ToMany {
		next := reflect.MakeSlice(field.Type(), 0, len(related))
		for _, r := range related {
			ev, err := fh.coerceElement(field.Type().Elem(), r)
			if err != nil {
				return err
			}
			next = reflect.Append(next, ev)
		}
		field.Set(next)
		return nil
	}

	if len(related) == 0 {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	rv := reflect.ValueOf(related[0])
	if field.Kind() == reflect.Ptr {
		field.Set(rv)
		return nil
	}
	field.Set(rv.Elem())
	return nil
}

func (fh *FieldHandler) Remove(_ context.Context, parent interface{}, related []interface{}) error {
	if !fh.rel.ToMany {
		return methodNotAllowed{op: "remove"}
	}
	field := fh.field(parent)

	drop := lo.SliceToMap(related, func(r interface{}) (string, bool) {
		return fh.target.IDOf(r), true
	})

	next := reflect.MakeSlice(field.Type(), 0, field.Len())
	for i := 0; i < field.Len(); i++ {
		elt := field.Index(i)
		if drop[fh.idOfElement(elt)] {
			continue
		}
		next = reflect.Append(next, elt)
	}
	field.Set(next)
	return nil
}

func (fh *FieldHandler) idOfElement(elt reflect.Value) string {
	if elt.Kind() == reflect.Ptr {
		if elt.IsNil() {
			return ""
		}
	}
	return fh.target.IDOf(elt.Interface())
}

// coerceElement shapes a related value to the element type of the field, so
// both []T and []*T declarations are supported.
func (fh *FieldHandler) coerceElement(eltType reflect.Type, r interface{}) (reflect.Value, error) {
	rv := reflect.ValueOf(r)

	if rv.Type() == eltType {
		return rv, nil
	}
	if rv.Kind() == reflect.Ptr && rv.Type().Elem() == eltType {
		return rv.Elem(), nil
	}
	return reflect.Value{}, fmt.Errorf("relationships: cannot use %T as %s element", r, eltType)
}

// LinkageMeta describes the first-page window applied to to-many linkage
// inside compound documents. It returns the cut-off index and pagination
// meta for the relationship object.
func LinkageMeta(total, pageSize int) (int, map[string]interface{}) {
	if pageSize <= 0 {
		pageSize = total
	}
	numPages := 1
	if pageSize > 0 {
		numPages = (total + pageSize - 1) / pageSize
	}
	if numPages < 1 {
		numPages = 1
	}
	end := total
	if pageSize < total {
		end = pageSize
	}

	return end, map[string]interface{}{
		"count":        total,
		"page":         1,
		"page_size":    pageSize,
		"num_pages":    numPages,
		"has_next":     numPages > 1,
		"has_previous": false,
	}
}

// ValidateWrite rejects writes that do not fit the relationship shape.
func ValidateWrite(h Handler, method string) error {
	if h.ReadOnly() {
		return fmt.Errorf("%s is a read-only relationship", h.Name())
	}
	if !h.Many() && (method == http.MethodPost || method == http.MethodDelete) {
		return methodNotAllowed{op: method}
	}
	return nil
}
