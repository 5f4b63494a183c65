package document

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/calaveras-dev/jsonapi-kit/pkg/relationships"
	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
	"github.com/samber/lo"
)

// Resolver gives the marshaler access to relationship handlers and to other
// resource collections when a compound document crosses resource boundaries.
type Resolver interface {
	// Relationship returns the handler configured for a relationship, if any.
	// The marshaler falls back to the default field handler otherwise.
	Relationship(resourceType, name string) (relationships.Handler, bool)
	// FetchRelated loads full resources of the given type by id for the
	// included section of a compound document.
	FetchRelated(ctx context.Context, resourceType string, ids []string) ([]interface{}, error)
}

// MarshalParams carries the per-request shaping of a response document.
type MarshalParams struct {
	// Fields holds the sparse fieldset restriction per resource type.
	Fields map[string][]string
	// Include lists requested dot-separated relationship paths.
	Include []string
	// PageSize caps to-many linkage inside relationship objects.
	PageSize int
}

// Marshaler converts resource structs into JSON:API documents. It owns the
// schema registry and is safe for concurrent use.
type Marshaler struct {
	schemas  *schema.Registry
	resolver Resolver
	baseURL  string
	pageSize int
}

func NewMarshaler(schemas *schema.Registry) *Marshaler {
	return &Marshaler{schemas: schemas, pageSize: 10}
}

func (m *Marshaler) WithResolver(r Resolver) *Marshaler {
	m.resolver = r
	return m
}

func (m *Marshaler) WithBaseURL(base string) *Marshaler {
	m.baseURL = strings.TrimSuffix(base, "/")
	return m
}

func (m *Marshaler) WithPageSize(size int) *Marshaler {
	if size > 0 {
		m.pageSize = size
	}
	return m
}

// MarshalOne renders a single resource as the primary data of a document.
func (m *Marshaler) MarshalOne(ctx context.Context, v interface{}, params MarshalParams) (*Document, error) {
	set := newIncludeSet()
	res, err := m.resourceOf(ctx, v, params, params.Include, set)
	if err != nil {
		return nil, err
	}

	doc := NewResourceDocument(res)
	doc.Included = set.resources
	return doc, nil
}

// MarshalMany renders a collection as the primary data of a document.
func (m *Marshaler) MarshalMany(ctx context.Context, vs []interface{}, params MarshalParams) (*Document, error) {
	set := newIncludeSet()
	out := make([]*Resource, 0, len(vs))
	for _, v := range vs {
		res, err := m.resourceOf(ctx, v, params, params.Include, set)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}

	doc := NewCollectionDocument(out)
	doc.Included = set.resources
	return doc, nil
}

// IdentifierOf renders a resource identifier for a value.
func (m *Marshaler) IdentifierOf(v interface{}) (*Identifier, error) {
	s, ok := m.schemas.ByValue(v)
	if !ok {
		return nil, fmt.Errorf("document: unregistered resource type %T", v)
	}
	return &Identifier{Type: s.ResourceType, ID: s.IDOf(v)}, nil
}

func (m *Marshaler) resourceOf(ctx context.Context, v interface{}, params MarshalParams, include []string, set *includeSet) (*Resource, error) {
	s, ok := m.schemas.ByValue(v)
	if !ok {
		return nil, fmt.Errorf("document: unregistered resource type %T", v)
	}

	sparse, restricted, err := m.sparseFields(s, params.Fields)
	if err != nil {
		return nil, err
	}

	res := &Resource{
		Type: s.ResourceType,
		ID:   s.IDOf(v),
	}

	attrs, err := m.attributesOf(s, v, sparse, restricted)
	if err != nil {
		return nil, err
	}
	res.Attributes = attrs

	rels, err := m.relationshipsOf(ctx, s, v, params, include, sparse, restricted, set)
	if err != nil {
		return nil, err
	}
	if len(rels) > 0 {
		res.Relationships = rels
	}

	if m.baseURL != "" {
		res.Links = Links{"self": fmt.Sprintf("%s/%s/%s", m.baseURL, s.ResourceType, res.ID)}
	}

	return res, nil
}

// sparseFields validates and resolves the fieldset restriction for a type.
func (m *Marshaler) sparseFields(s *schema.Schema, fields map[string][]string) (map[string]bool, bool, error) {
	names, ok := fields[s.ResourceType]
	if !ok {
		return nil, false, nil
	}

	known := s.FieldNames()
	invalid := lo.Filter(names, func(name string, _ int) bool {
		return !lo.Contains(known, name)
	})
	if len(invalid) > 0 {
		return nil, false, InvalidParameter(
			fmt.Sprintf("fields[%s]", s.ResourceType),
			fmt.Sprintf("invalid field(s) for fields[%s]: %s", s.ResourceType, strings.Join(invalid, ",")),
		)
	}

	return lo.SliceToMap(names, func(name string) (string, bool) { return name, true }), true, nil
}

func (m *Marshaler) attributesOf(s *schema.Schema, v interface{}, sparse map[string]bool, restricted bool) (map[string]interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	attrs := map[string]interface{}{}
	for _, attr := range s.Attributes {
		if restricted && !sparse[attr.Name] {
			continue
		}
		field := rv.Field(attr.FieldIndex)
		if attr.OmitEmpty && field.IsZero() {
			continue
		}
		attrs[attr.Name] = field.Interface()
	}
	return attrs, nil
}

func (m *Marshaler) relationshipsOf(ctx context.Context, s *schema.Schema, v interface{}, params MarshalParams, include []string, sparse map[string]bool, restricted bool, set *includeSet) (map[string]*Relationship, error) {
	includeRoots := topLevelIncludes(include)

	rels := map[string]*Relationship{}
	for _, rel := range s.Relationships {
		if restricted && !sparse[rel.Name] {
			continue
		}

		handler, err := m.handlerFor(s, rel)
		if err != nil {
			return nil, err
		}

		out := &Relationship{}
		if m.baseURL != "" {
			base := fmt.Sprintf("%s/%s/%s", m.baseURL, s.ResourceType, s.IDOf(v))
			out.Links = Links{
				"self":    fmt.Sprintf("%s/relationships/%s", base, rel.Name),
				"related": fmt.Sprintf("%s/%s", base, rel.Name),
			}
		}

		if lo.Contains(includeRoots, rel.Name) {
			if err := m.populateLinkage(ctx, handler, v, out, params, subIncludes(rel.Name, include), set); err != nil {
				return nil, err
			}
		}

		// A relationship object must carry at least one of links, data or
		// meta, so without a base URL un-included relationships are omitted.
		if out.Links == nil && out.Data == nil && out.Meta == nil {
			continue
		}
		rels[rel.Name] = out
	}
	return rels, nil
}

func (m *Marshaler) handlerFor(s *schema.Schema, rel schema.Relationship) (relationships.Handler, error) {
	if m.resolver != nil {
		if h, ok := m.resolver.Relationship(s.ResourceType, rel.Name); ok {
			return h, nil
		}
	}
	target, ok := m.schemas.ByType(rel.TargetType)
	if !ok {
		return nil, fmt.Errorf("document: relationship %q targets unregistered type %q", rel.Name, rel.TargetType)
	}
	return relationships.NewFieldHandler(s, rel, target), nil
}

// populateLinkage fills the data member of an included relationship and
// collects the related resources into the compound document.
func (m *Marshaler) populateLinkage(ctx context.Context, handler relationships.Handler, parent interface{}, out *Relationship, params MarshalParams, include []string, set *includeSet) error {
	related, err := handler.Related(ctx, parent)
	if err != nil {
		return err
	}

	target, ok := m.schemas.ByType(handler.TargetType())
	if !ok {
		return fmt.Errorf("document: unregistered relationship target %q", handler.TargetType())
	}

	if !handler.Many() {
		if len(related) == 0 {
			out.Data = ToOneLinkage(nil)
			return nil
		}
		out.Data = ToOneLinkage(&Identifier{Type: target.ResourceType, ID: target.IDOf(related[0])})
		return m.collectIncluded(ctx, target, related, params, include, set)
	}

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = m.pageSize
	}
	end, meta := relationships.LinkageMeta(len(related), pageSize)
	window := related[:end]

	ids := make([]*Identifier, 0, len(window))
	for _, r := range window {
		ids = append(ids, &Identifier{Type: target.ResourceType, ID: target.IDOf(r)})
	}
	out.Data = ToManyLinkage(ids)
	out.Meta = meta

	return m.collectIncluded(ctx, target, window, params, include, set)
}

func (m *Marshaler) collectIncluded(ctx context.Context, target *schema.Schema, related []interface{}, params MarshalParams, include []string, set *includeSet) error {
	full := related
	if m.resolver != nil {
		ids := make([]string, 0, len(related))
		for _, r := range related {
			ids = append(ids, target.IDOf(r))
		}
		fetched, err := m.resolver.FetchRelated(ctx, target.ResourceType, ids)
		if err != nil {
			return err
		}
		full = fetched
	}

	for _, r := range full {
		key := includeKey{resourceType: target.ResourceType, id: target.IDOf(r)}
		if set.seen[key] {
			continue
		}
		set.seen[key] = true

		res, err := m.resourceOf(ctx, r, MarshalParams{
			Fields:   params.Fields,
			PageSize: params.PageSize,
		}, include, set)
		if err != nil {
			return err
		}
		set.add(key, res)
	}
	return nil
}

type includeKey struct {
	resourceType string
	id           string
}

// includeSet de-duplicates included resources by (type, id) while keeping
// insertion order.
type includeSet struct {
	seen      map[includeKey]bool
	resources []*Resource
}

func newIncludeSet() *includeSet {
	return &includeSet{seen: map[includeKey]bool{}}
}

func (s *includeSet) add(_ includeKey, res *Resource) {
	s.resources = append(s.resources, res)
}

// topLevelIncludes lists the unique first segments of dot-separated include
// paths.
func topLevelIncludes(input []string) []string {
	out := []string{}
	for _, key := range input {
		root := key
		if i := strings.Index(key, "."); i >= 0 {
			root = key[:i]
		}
		if root != "" && !lo.Contains(out, root) {
			out = append(out, root)
		}
	}
	return out
}

// subIncludes strips the prefix from include paths nested under it.
func subIncludes(prefix string, input []string) []string {
	out := []string{}
	for _, key := range input {
		if strings.HasPrefix(key, prefix+".") {
			out = append(out, strings.TrimPrefix(key, prefix+"."))
		}
	}
	return out
}
