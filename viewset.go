package jsonapikit

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/calaveras-dev/jsonapi-kit/pkg/backend"
	"github.com/calaveras-dev/jsonapi-kit/pkg/document"
	"github.com/calaveras-dev/jsonapi-kit/pkg/hook"
	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
	"github.com/calaveras-dev/jsonapi-kit/pkg/relationships"
	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
	"github.com/rs/zerolog"
)

// Mode selects the operation set a viewset exposes, the composition the
// mixin stacks of class-based toolkits express through inheritance.
type Mode int

const (
	// ReadOnly exposes list, retrieve and relationship retrieval.
	ReadOnly Mode = iota
	// ReadWrite exposes the full CRUD and relationship management set.
	ReadWrite
)

// ViewSet is the per-resource engine behind the HTTP surface. Every
// operation takes a context, validates its inputs against the resource
// schema and returns a complete response document or a shaped error.
type ViewSet struct {
	registry   *Registry
	schema     *schema.Schema
	collection backend.Collection
	mode       Mode
	handlers   map[string]relationships.Handler
	hooks      hook.Registry
	log        zerolog.Logger
}

func (vs *ViewSet) Schema() *schema.Schema {
	return vs.schema
}

func (vs *ViewSet) Mode() Mode {
	return vs.mode
}

func (vs *ViewSet) Hooks() *hook.Registry {
	return &vs.hooks
}

func (vs *ViewSet) WithLogger(logger zerolog.Logger) *ViewSet {
	vs.log = logger.With().Str("resource", vs.schema.ResourceType).Logger()
	return vs
}

// HandleRelationship overrides the default field handler for one declared
// relationship.
func (vs *ViewSet) HandleRelationship(h relationships.Handler) *ViewSet {
	if _, ok := vs.schema.Relationship(h.Name()); !ok {
		panic(fmt.Sprintf("jsonapikit: %q is not a declared relationship of %s", h.Name(), vs.schema.ResourceType))
	}
	vs.handlers[h.Name()] = h
	return vs
}

func (vs *ViewSet) relationshipHandler(name string) (relationships.Handler, error) {
	if h, ok := vs.handlers[name]; ok {
		return h, nil
	}
	rel, ok := vs.schema.Relationship(name)
	if !ok {
		return nil, document.NewError(http.StatusBadRequest, fmt.Sprintf("invalid relationship: %s", name))
	}
	target, ok := vs.registry.schemas.ByType(rel.TargetType)
	if !ok {
		return nil, fmt.Errorf("relationship %q targets unregistered type %q", name, rel.TargetType)
	}
	return relationships.NewFieldHandler(vs.schema, rel, target), nil
}

func (vs *ViewSet) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if vs.registry.settings.ReadTimeout > 0 {
		return context.WithTimeout(ctx, vs.registry.settings.ReadTimeout)
	}
	return ctx, func() {}
}

func (vs *ViewSet) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if vs.registry.settings.WriteTimeout > 0 {
		return context.WithTimeout(ctx, vs.registry.settings.WriteTimeout)
	}
	return ctx, func() {}
}

func (vs *ViewSet) marshalParams(q *query.Query) document.MarshalParams {
	return document.MarshalParams{
		Fields:   q.Fields,
		Include:  q.Include,
		PageSize: q.Page.Size,
	}
}

// List returns a page of the collection with pagination meta and links.
func (vs *ViewSet) List(ctx context.Context, q *query.Query) (*document.Document, error) {
	ctx, cancel := vs.readCtx(ctx)
	defer cancel()

	if err := q.Validate(vs.schema); err != nil {
		return nil, err
	}

	q, err := vs.hooks.RunBeforeLists(ctx, q)
	if err != nil {
		return nil, err
	}
	vs.log.Trace().Str("operation", "list").Msg("before list hooks finished")

	count, err := vs.collection.Count(ctx, vs.schema, q.Filter)
	if err != nil {
		return nil, err
	}

	items, err := vs.collection.Find(ctx, vs.schema, q.Criteria())
	if err != nil {
		return nil, err
	}
	vs.log.Trace().Str("operation", "list").Int("results", len(items)).Msg("collection window fetched")

	for i, item := range items {
		if items[i], err = vs.hooks.RunAfterReads(ctx, item); err != nil {
			return nil, err
		}
	}
	if items, err = vs.hooks.RunAfterReadAlls(ctx, items); err != nil {
		return nil, err
	}

	doc, err := vs.registry.marshaler.MarshalMany(ctx, items, vs.marshalParams(q))
	if err != nil {
		return nil, err
	}

	meta, numPages := paginationMeta(int(count), q.Page)
	doc.Meta = meta
	doc.Links = paginationLinks(vs.collectionPath(), q, numPages)
	return doc, nil
}

// Retrieve returns a single resource by id.
func (vs *ViewSet) Retrieve(ctx context.Context, id string, q *query.Query) (*document.Document, error) {
	ctx, cancel := vs.readCtx(ctx)
	defer cancel()

	if err := q.Validate(vs.schema); err != nil {
		return nil, err
	}

	item, err := vs.findOne(ctx, id)
	if err != nil {
		return nil, err
	}

	if item, err = vs.hooks.RunAfterReads(ctx, item); err != nil {
		return nil, err
	}

	return vs.registry.marshaler.MarshalOne(ctx, item, vs.marshalParams(q))
}

// Create inserts a new resource from a request body. To-one relationships
// are attached before the insert, to-many after it, so handlers that need a
// persisted parent id see one.
func (vs *ViewSet) Create(ctx context.Context, body []byte, q *query.Query) (*document.Document, error) {
	ctx, cancel := vs.writeCtx(ctx)
	defer cancel()

	res, err := document.RequestResource(body)
	if err != nil {
		return nil, err
	}

	instance := vs.schema.New()
	if err := vs.registry.marshaler.UnmarshalResource(res, instance); err != nil {
		return nil, err
	}

	toOne := false
	if err := vs.processRelationships(ctx, res, instance, &toOne); err != nil {
		return nil, err
	}

	if instance, err = vs.hooks.RunBeforeCreates(ctx, instance); err != nil {
		return nil, err
	}

	if instance, err = vs.collection.Insert(ctx, vs.schema, instance); err != nil {
		if errors.Is(err, backend.ErrDuplicateID) {
			return nil, document.NewError(http.StatusConflict, fmt.Sprintf("%s with this id already exists", vs.schema.ResourceType))
		}
		return nil, err
	}
	vs.log.Trace().Str("operation", "create").Str("id", vs.schema.IDOf(instance)).Msg("insert successful")

	if len(res.Relationships) > 0 {
		toMany := true
		if err := vs.processRelationships(ctx, res, instance, &toMany); err != nil {
			return nil, err
		}
		if instance, err = vs.collection.Update(ctx, vs.schema, instance); err != nil {
			return nil, err
		}
	}

	if instance, err = vs.hooks.RunAfterCreates(ctx, instance); err != nil {
		return nil, err
	}

	return vs.registry.marshaler.MarshalOne(ctx, instance, vs.marshalParams(q))
}

// PartialUpdate applies the attributes and relationships present in the
// request body onto the stored resource.
func (vs *ViewSet) PartialUpdate(ctx context.Context, id string, body []byte, q *query.Query) (*document.Document, error) {
	ctx, cancel := vs.writeCtx(ctx)
	defer cancel()

	instance, err := vs.findOne(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := document.RequestResource(body)
	if err != nil {
		return nil, err
	}
	if res.ID != "" && res.ID != id {
		return nil, document.NewError(http.StatusConflict, fmt.Sprintf("resource id %q does not match endpoint id %q", res.ID, id))
	}

	if err := vs.registry.marshaler.UnmarshalResource(res, instance); err != nil {
		return nil, err
	}

	if err := vs.processRelationships(ctx, res, instance, nil); err != nil {
		return nil, err
	}

	if instance, err = vs.hooks.RunBeforeUpdates(ctx, instance); err != nil {
		return nil, err
	}

	if instance, err = vs.collection.Update(ctx, vs.schema, instance); err != nil {
		return nil, vs.translateNotFound(err)
	}
	vs.log.Trace().Str("operation", "update").Str("id", id).Msg("update successful")

	if instance, err = vs.hooks.RunAfterUpdates(ctx, instance); err != nil {
		return nil, err
	}

	return vs.registry.marshaler.MarshalOne(ctx, instance, vs.marshalParams(q))
}

// Destroy removes a resource by id.
func (vs *ViewSet) Destroy(ctx context.Context, id string) error {
	ctx, cancel := vs.writeCtx(ctx)
	defer cancel()

	instance, err := vs.findOne(ctx, id)
	if err != nil {
		return err
	}

	if err := vs.hooks.RunBeforeDeletes(ctx, instance); err != nil {
		return err
	}

	if err := vs.collection.Delete(ctx, vs.schema, id); err != nil {
		return vs.translateNotFound(err)
	}
	vs.log.Trace().Str("operation", "delete").Str("id", id).Msg("delete successful")

	return vs.hooks.RunAfterDeletes(ctx, instance)
}

// RelationshipRetrieve returns the identifier linkage of one relationship.
func (vs *ViewSet) RelationshipRetrieve(ctx context.Context, id, relation string, q *query.Query) (*document.Document, error) {
	ctx, cancel := vs.readCtx(ctx)
	defer cancel()

	parent, err := vs.findOne(ctx, id)
	if err != nil {
		return nil, err
	}

	handler, err := vs.relationshipHandler(relation)
	if err != nil {
		return nil, err
	}

	related, err := handler.Related(ctx, parent)
	if err != nil {
		return nil, err
	}

	target, ok := vs.registry.schemas.ByType(handler.TargetType())
	if !ok {
		return nil, fmt.Errorf("relationship %q targets unregistered type %q", relation, handler.TargetType())
	}

	if !handler.Many() {
		if len(related) == 0 {
			return document.NewLinkageDocument(document.ToOneLinkage(nil)), nil
		}
		return document.NewLinkageDocument(document.ToOneLinkage(
			&document.Identifier{Type: target.ResourceType, ID: target.IDOf(related[0])},
		)), nil
	}

	end, meta := relationships.LinkageMeta(len(related), q.Page.Size)
	ids := make([]*document.Identifier, 0, end)
	for _, r := range related[:end] {
		ids = append(ids, &document.Identifier{Type: target.ResourceType, ID: target.IDOf(r)})
	}

	doc := document.NewLinkageDocument(document.ToManyLinkage(ids))
	doc.Meta = meta
	return doc, nil
}

// RelatedRetrieve returns the full related resources of one relationship,
// the related-resource endpoint next to the linkage one.
func (vs *ViewSet) RelatedRetrieve(ctx context.Context, id, relation string, q *query.Query) (*document.Document, error) {
	ctx, cancel := vs.readCtx(ctx)
	defer cancel()

	parent, err := vs.findOne(ctx, id)
	if err != nil {
		return nil, err
	}

	handler, err := vs.relationshipHandler(relation)
	if err != nil {
		return nil, err
	}

	related, err := handler.Related(ctx, parent)
	if err != nil {
		return nil, err
	}

	target, ok := vs.registry.schemas.ByType(handler.TargetType())
	if !ok {
		return nil, fmt.Errorf("relationship %q targets unregistered type %q", relation, handler.TargetType())
	}

	ids := make([]string, 0, len(related))
	for _, r := range related {
		ids = append(ids, target.IDOf(r))
	}
	full, err := vs.registry.FetchRelated(ctx, target.ResourceType, ids)
	if err != nil {
		return nil, err
	}

	params := document.MarshalParams{Fields: q.Fields, PageSize: q.Page.Size}
	if !handler.Many() {
		if len(full) == 0 {
			return document.NewResourceDocument(nil), nil
		}
		return vs.registry.marshaler.MarshalOne(ctx, full[0], params)
	}
	return vs.registry.marshaler.MarshalMany(ctx, full, params)
}

// RelationshipCreate adds members to a to-many relationship.
func (vs *ViewSet) RelationshipCreate(ctx context.Context, id, relation string, body []byte) error {
	return vs.mutateRelationship(ctx, id, relation, body, http.MethodPost, true,
		func(ctx context.Context, h relationships.Handler, parent interface{}, related []interface{}) error {
			return h.Add(ctx, parent, related)
		})
}

// RelationshipUpdate replaces the full contents of a relationship.
func (vs *ViewSet) RelationshipUpdate(ctx context.Context, id, relation string, body []byte) error {
	return vs.mutateRelationship(ctx, id, relation, body, http.MethodPatch, false,
		func(ctx context.Context, h relationships.Handler, parent interface{}, related []interface{}) error {
			return h.Set(ctx, parent, related)
		})
}

// RelationshipDestroy removes members from a to-many relationship.
func (vs *ViewSet) RelationshipDestroy(ctx context.Context, id, relation string, body []byte) error {
	return vs.mutateRelationship(ctx, id, relation, body, http.MethodDelete, true,
		func(ctx context.Context, h relationships.Handler, parent interface{}, related []interface{}) error {
			return h.Remove(ctx, parent, related)
		})
}

func (vs *ViewSet) mutateRelationship(ctx context.Context, id, relation string, body []byte, method string, listifySingle bool, apply func(context.Context, relationships.Handler, interface{}, []interface{}) error) error {
	ctx, cancel := vs.writeCtx(ctx)
	defer cancel()

	handler, err := vs.relationshipHandler(relation)
	if err != nil {
		return err
	}

	if err := relationships.ValidateWrite(handler, method); err != nil {
		if relationships.IsMethodNotAllowed(err) {
			return document.NewError(http.StatusMethodNotAllowed, err.Error())
		}
		return document.NewError(http.StatusForbidden, err.Error())
	}

	parent, err := vs.findOne(ctx, id)
	if err != nil {
		return err
	}

	identifiers, err := document.ParseIdentifiers(body, handler.Many(), listifySingle)
	if err != nil {
		return err
	}

	related, err := vs.resolveIdentifiers(ctx, handler, identifiers)
	if err != nil {
		return err
	}

	if err := apply(ctx, handler, parent, related); err != nil {
		if relationships.IsMethodNotAllowed(err) {
			return document.NewError(http.StatusMethodNotAllowed, err.Error())
		}
		return err
	}

	if _, err := vs.collection.Update(ctx, vs.schema, parent); err != nil {
		return vs.translateNotFound(err)
	}
	vs.log.Trace().Str("operation", "relationship").Str("id", id).Str("relation", relation).Msg("relationship write successful")
	return nil
}

// processRelationships applies the relationships member of a write request
// body. A non-nil many flag restricts processing to one cardinality.
func (vs *ViewSet) processRelationships(ctx context.Context, res *document.Resource, instance interface{}, many *bool) error {
	for name, rel := range res.Relationships {
		if rel == nil || rel.Data == nil {
			continue
		}

		handler, err := vs.relationshipHandler(name)
		if err != nil {
			return err
		}
		if many != nil && handler.Many() != *many {
			continue
		}
		if handler.ReadOnly() {
			return &document.ErrorObject{
				Status: "403",
				Title:  http.StatusText(http.StatusForbidden),
				Detail: fmt.Sprintf("%s is a read-only relationship", name),
				Source: &document.ErrorSource{Pointer: fmt.Sprintf("data/relationships/%s", name)},
			}
		}

		var identifiers []*document.Identifier
		if handler.Many() {
			if !rel.Data.Many {
				return document.InvalidPointer(
					fmt.Sprintf("data/relationships/%s", name),
					`the "data" member of a to-many relationship must be an array of resource identifiers`,
				)
			}
			identifiers = rel.Data.Items
		} else {
			if rel.Data.Many {
				return document.InvalidPointer(
					fmt.Sprintf("data/relationships/%s", name),
					`the "data" member of a to-one relationship must be a single resource identifier or null`,
				)
			}
			if rel.Data.One != nil {
				identifiers = []*document.Identifier{rel.Data.One}
			}
		}

		related, err := vs.resolveIdentifiers(ctx, handler, identifiers)
		if err != nil {
			return err
		}

		if err := handler.Set(ctx, instance, related); err != nil {
			return err
		}
	}
	return nil
}

// resolveIdentifiers loads the full resources behind identifier objects,
// checking the identifier type against the relationship target.
func (vs *ViewSet) resolveIdentifiers(ctx context.Context, handler relationships.Handler, identifiers []*document.Identifier) ([]interface{}, error) {
	related := make([]interface{}, 0, len(identifiers))
	for _, ident := range identifiers {
		if ident.Type != handler.TargetType() {
			return nil, document.NewError(http.StatusBadRequest,
				fmt.Sprintf("invalid `type`: %q (did you mean %q?)", ident.Type, handler.TargetType()))
		}

		target, ok := vs.registry.ViewSet(ident.Type)
		if !ok {
			return nil, fmt.Errorf("resource type %q is not registered", ident.Type)
		}
		instance, err := target.collection.FindByID(ctx, target.schema, ident.ID)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				notFound := document.NewError(http.StatusBadRequest,
					fmt.Sprintf("%s with id %q does not exist", ident.Type, ident.ID))
				notFound.Meta = document.Meta{"id": ident.ID}
				return nil, notFound
			}
			return nil, err
		}
		related = append(related, instance)
	}
	return related, nil
}

func (vs *ViewSet) findOne(ctx context.Context, id string) (interface{}, error) {
	instance, err := vs.collection.FindByID(ctx, vs.schema, id)
	if err != nil {
		return nil, vs.translateNotFound(err)
	}
	return instance, nil
}

func (vs *ViewSet) translateNotFound(err error) error {
	if errors.Is(err, backend.ErrNotFound) {
		return document.NewError(http.StatusNotFound, fmt.Sprintf("%s not found", vs.schema.ResourceType))
	}
	return err
}

func (vs *ViewSet) collectionPath() string {
	if base := vs.registry.settings.BaseURL; base != "" {
		return fmt.Sprintf("%s/%s", base, vs.schema.ResourceType)
	}
	return "/" + vs.schema.ResourceType
}
