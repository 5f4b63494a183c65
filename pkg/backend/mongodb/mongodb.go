// Package mongodb adapts a mongo collection to the backend contract.
package mongodb

import (
	"context"
	"errors"
	"sync"

	"github.com/calaveras-dev/jsonapi-kit/pkg/backend"
	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocEncoder converts a resource to its storage representation before an
// insert or replace. The default passes the resource through and lets the
// driver apply bson tags.
type DocEncoder func(s *schema.Schema, v interface{}) (interface{}, error)

// DocDecoder materialises a resource from a storage cursor. The default
// decodes into a fresh instance of the schema type.
type DocDecoder func(s *schema.Schema, decode func(interface{}) error) (interface{}, error)

type Collection struct {
	coll    *mongo.Collection
	encoder DocEncoder
	decoder DocDecoder

	mu    sync.Mutex
	rules map[string]castRules
}

func NewCollection(coll *mongo.Collection) *Collection {
	return &Collection{
		coll: coll,
		encoder: func(_ *schema.Schema, v interface{}) (interface{}, error) {
			return v, nil
		},
		decoder: func(s *schema.Schema, decode func(interface{}) error) (interface{}, error) {
			instance := s.New()
			return instance, decode(instance)
		},
		rules: map[string]castRules{},
	}
}

// WithEncoder overrides the storage encoding of resources.
func (c *Collection) WithEncoder(encoder DocEncoder) *Collection {
	c.encoder = encoder
	return c
}

// WithDecoder overrides the materialisation of resources from cursors.
func (c *Collection) WithDecoder(decoder DocDecoder) *Collection {
	c.decoder = decoder
	return c
}

func (c *Collection) rulesFor(s *schema.Schema) castRules {
	c.mu.Lock()
	defer c.mu.Unlock()
	rules, ok := c.rules[s.ResourceType]
	if !ok {
		rules = rulesFor(s)
		c.rules[s.ResourceType] = rules
	}
	return rules
}

func (c *Collection) Find(ctx context.Context, s *schema.Schema, criteria query.Criteria) ([]interface{}, error) {
	rules := c.rulesFor(s)

	filter, err := rules.filterFor(criteria.Conditions)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if criteria.Skip > 0 {
		opts.SetSkip(criteria.Skip)
	}
	if criteria.Limit > 0 {
		opts.SetLimit(criteria.Limit)
	}
	if len(criteria.Sort) > 0 {
		opts.SetSort(rules.sortFor(criteria.Sort))
	}

	cursor, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]interface{}, 0)
	for cursor.Next(ctx) {
		instance, err := c.decoder(s, cursor.Decode)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	return out, cursor.Err()
}

func (c *Collection) FindByID(ctx context.Context, s *schema.Schema, id string) (interface{}, error) {
	rules := c.rulesFor(s)

	idVal, err := rules.idValue(s, id)
	if err != nil {
		return nil, backend.ErrNotFound
	}

	result := c.coll.FindOne(ctx, bson.M{"_id": idVal})
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return c.decoder(s, result.Decode)
}

func (c *Collection) Count(ctx context.Context, s *schema.Schema, conditions []query.Condition) (int64, error) {
	filter, err := c.rulesFor(s).filterFor(conditions)
	if err != nil {
		return 0, err
	}
	return c.coll.CountDocuments(ctx, filter)
}

func (c *Collection) Insert(ctx context.Context, s *schema.Schema, v interface{}) (interface{}, error) {
	if s.IDOf(v) == "" {
		if err := s.SetID(v, primitive.NewObjectID().Hex()); err != nil {
			return nil, err
		}
	}

	doc, err := c.encoder(s, v)
	if err != nil {
		return nil, err
	}

	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, backend.ErrDuplicateID
		}
		return nil, err
	}
	return v, nil
}

func (c *Collection) Update(ctx context.Context, s *schema.Schema, v interface{}) (interface{}, error) {
	rules := c.rulesFor(s)

	idVal, err := rules.idValue(s, s.IDOf(v))
	if err != nil {
		return nil, backend.ErrNotFound
	}

	doc, err := c.encoder(s, v)
	if err != nil {
		return nil, err
	}

	result, err := c.coll.ReplaceOne(ctx, bson.M{"_id": idVal}, doc)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, backend.ErrNotFound
	}
	return v, nil
}

func (c *Collection) Delete(ctx context.Context, s *schema.Schema, id string) error {
	rules := c.rulesFor(s)

	idVal, err := rules.idValue(s, id)
	if err != nil {
		return backend.ErrNotFound
	}

	result, err := c.coll.DeleteOne(ctx, bson.M{"_id": idVal})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return backend.ErrNotFound
	}
	return nil
}
