// Package backend defines the storage contract viewsets operate against.
// Resource lifecycle is owned by the store; adapters translate query
// criteria into their native dialect.
package backend

import (
	"context"
	"errors"

	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
)

var (
	// ErrNotFound is returned when a resource id does not resolve.
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicateID is returned when an insert collides on the id.
	ErrDuplicateID = errors.New("resource id already exists")
)

// Collection is a typed window into the store for one resource type. The
// schema argument carries field naming and cast configuration so adapters
// can translate public field names to storage fields.
type Collection interface {
	Find(ctx context.Context, s *schema.Schema, criteria query.Criteria) ([]interface{}, error)
	FindByID(ctx context.Context, s *schema.Schema, id string) (interface{}, error)
	Count(ctx context.Context, s *schema.Schema, conditions []query.Condition) (int64, error)
	Insert(ctx context.Context, s *schema.Schema, v interface{}) (interface{}, error)
	Update(ctx context.Context, s *schema.Schema, v interface{}) (interface{}, error)
	Delete(ctx context.Context, s *schema.Schema, id string) error
}
