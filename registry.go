package jsonapikit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/calaveras-dev/jsonapi-kit/pkg/backend"
	"github.com/calaveras-dev/jsonapi-kit/pkg/config"
	"github.com/calaveras-dev/jsonapi-kit/pkg/document"
	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
	"github.com/calaveras-dev/jsonapi-kit/pkg/relationships"
	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/exp/maps"
)

// Registry wires resource types, their backing collections and their
// viewsets together. It doubles as the intra-process accessor used when a
// compound document crosses resource boundaries.
type Registry struct {
	settings  config.Settings
	schemas   *schema.Registry
	marshaler *document.Marshaler
	viewsets  map[string]*ViewSet
	log       zerolog.Logger
}

func NewRegistry(settings config.Settings) *Registry {
	r := &Registry{
		settings: settings,
		schemas:  schema.NewRegistry(),
		viewsets: map[string]*ViewSet{},
		log:      log.Logger,
	}
	r.marshaler = document.NewMarshaler(r.schemas).
		WithResolver(r).
		WithBaseURL(settings.BaseURL).
		WithPageSize(settings.DefaultPageSize)
	return r
}

func (r *Registry) WithLogger(logger zerolog.Logger) *Registry {
	r.log = logger
	for _, vs := range r.viewsets {
		vs.log = logger.With().Str("resource", vs.schema.ResourceType).Logger()
	}
	return r
}

func (r *Registry) Settings() config.Settings {
	return r.settings
}

func (r *Registry) Schemas() *schema.Registry {
	return r.schemas
}

func (r *Registry) Marshaler() *document.Marshaler {
	return r.marshaler
}

// Register parses the resource sample and mounts a viewset for it over the
// provided collection.
func (r *Registry) Register(sample interface{}, coll backend.Collection, mode Mode) (*ViewSet, error) {
	s, err := r.schemas.Register(sample)
	if err != nil {
		return nil, err
	}
	if _, exists := r.viewsets[s.ResourceType]; exists {
		return nil, fmt.Errorf("resource type %q already has a viewset", s.ResourceType)
	}

	vs := &ViewSet{
		registry:   r,
		schema:     s,
		collection: coll,
		mode:       mode,
		handlers:   map[string]relationships.Handler{},
		log:        r.log.With().Str("resource", s.ResourceType).Logger(),
	}
	r.viewsets[s.ResourceType] = vs
	return vs, nil
}

// MustRegister is Register that panics, for static wiring at startup.
func (r *Registry) MustRegister(sample interface{}, coll backend.Collection, mode Mode) *ViewSet {
	vs, err := r.Register(sample, coll, mode)
	if err != nil {
		panic(err)
	}
	return vs
}

func (r *Registry) ViewSet(resourceType string) (*ViewSet, bool) {
	vs, ok := r.viewsets[resourceType]
	return vs, ok
}

// ResourceTypes lists registered resource types in stable order.
func (r *Registry) ResourceTypes() []string {
	types := maps.Keys(r.viewsets)
	sort.Strings(types)
	return types
}

// Relationship implements document.Resolver: only explicit handler
// overrides are surfaced, the marshaler derives field handlers itself.
func (r *Registry) Relationship(resourceType, name string) (relationships.Handler, bool) {
	vs, ok := r.viewsets[resourceType]
	if !ok {
		return nil, false
	}
	h, ok := vs.handlers[name]
	return h, ok
}

// FetchRelated implements document.Resolver: full related resources are
// loaded through the target type's own collection so overridden decoders
// and hooks keep applying.
func (r *Registry) FetchRelated(ctx context.Context, resourceType string, ids []string) ([]interface{}, error) {
	vs, ok := r.viewsets[resourceType]
	if !ok {
		return nil, fmt.Errorf("resource type %q is not registered", resourceType)
	}

	ids = lo.Uniq(lo.Filter(ids, func(id string, _ int) bool { return id != "" }))
	if len(ids) == 0 {
		return []interface{}{}, nil
	}

	return vs.collection.Find(ctx, vs.schema, query.Criteria{
		Conditions: []query.Condition{
			{Field: "id", Op: query.OpIn, Value: strings.Join(ids, ",")},
		},
	})
}
