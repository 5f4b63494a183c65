// Package memory provides a slice-backed Collection used by tests and small
// services. Filtering happens in process with the same operator set the
// persistent adapters support.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calaveras-dev/jsonapi-kit/pkg/backend"
	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
	"github.com/calaveras-dev/jsonapi-kit/pkg/schema"
)

type Collection struct {
	mu     sync.RWMutex
	items  []interface{}
	nextID int64
}

func NewCollection() *Collection {
	return &Collection{nextID: 1}
}

// Seed inserts initial resources without id generation. Intended for test
// fixtures and example data.
func (c *Collection) Seed(items ...interface{}) *Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, items...)
	return c
}

func (c *Collection) Find(_ context.Context, s *schema.Schema, criteria query.Criteria) ([]interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched := make([]interface{}, 0)
	for _, item := range c.items {
		ok, err := matchesAll(s, item, criteria.Conditions)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, item)
		}
	}

	if err := sortItems(s, matched, criteria.Sort); err != nil {
		return nil, err
	}

	if criteria.Skip > 0 {
		if criteria.Skip >= int64(len(matched)) {
			matched = matched[:0]
		} else {
			matched = matched[criteria.Skip:]
		}
	}
	if criteria.Limit > 0 && criteria.Limit < int64(len(matched)) {
		matched = matched[:criteria.Limit]
	}

	out := make([]interface{}, len(matched))
	for i, item := range matched {
		out[i] = copyOf(item)
	}
	return out, nil
}

func (c *Collection) FindByID(_ context.Context, s *schema.Schema, id string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, item := range c.items {
		if s.IDOf(item) == id {
			return copyOf(item), nil
		}
	}
	return nil, backend.ErrNotFound
}

func (c *Collection) Count(_ context.Context, s *schema.Schema, conditions []query.Condition) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var count int64
	for _, item := range c.items {
		ok, err := matchesAll(s, item, conditions)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func (c *Collection) Insert(_ context.Context, s *schema.Schema, v interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.IDOf(v) == "" {
		if err := s.SetID(v, strconv.FormatInt(c.nextID, 10)); err != nil {
			return nil, err
		}
		c.nextID++
	}

	for _, item := range c.items {
		if s.IDOf(item) == s.IDOf(v) {
			return nil, backend.ErrDuplicateID
		}
	}

	c.items = append(c.items, copyOf(v))
	return v, nil
}

func (c *Collection) Update(_ context.Context, s *schema.Schema, v interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := s.IDOf(v)
	for i, item := range c.items {
		if s.IDOf(item) == id {
			c.items[i] = copyOf(v)
			return v, nil
		}
	}
	return nil, backend.ErrNotFound
}

func (c *Collection) Delete(_ context.Context, s *schema.Schema, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, item := range c.items {
		if s.IDOf(item) == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
	}
	return backend.ErrNotFound
}

func copyOf(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return v
	}
	clone := reflect.New(rv.Type().Elem())
	clone.Elem().Set(rv.Elem())
	return clone.Interface()
}

func matchesAll(s *schema.Schema, item interface{}, conditions []query.Condition) (bool, error) {
	for _, cond := range conditions {
		ok, err := matches(s, item, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matches(s *schema.Schema, item interface{}, cond query.Condition) (bool, error) {
	value, ok := fieldValue(s, item, cond.Field)
	if !ok {
		return false, fmt.Errorf("memory: unsupported filter field %q", cond.Field)
	}

	switch cond.Op {
	case query.OpEq:
		return compare(value, cond.Value) == 0, nil
	case query.OpNe:
		return compare(value, cond.Value) != 0, nil
	case query.OpGt:
		return compare(value, cond.Value) > 0, nil
	case query.OpGte:
		return compare(value, cond.Value) >= 0, nil
	case query.OpLt:
		return compare(value, cond.Value) < 0, nil
	case query.OpLte:
		return compare(value, cond.Value) <= 0, nil
	case query.OpIn:
		for _, candidate := range strings.Split(cond.Value, ",") {
			if compare(value, candidate) == 0 {
				return true, nil
			}
		}
		return false, nil
	case query.OpContains:
		str, isStr := value.(string)
		return isStr && strings.Contains(str, cond.Value), nil
	default:
		return false, fmt.Errorf("memory: unsupported operator %q", cond.Op)
	}
}

func fieldValue(s *schema.Schema, item interface{}, field string) (interface{}, bool) {
	if field == "id" {
		return s.IDOf(item), true
	}
	attr, ok := s.Attribute(field)
	if !ok {
		return nil, false
	}
	rv := reflect.ValueOf(item)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv.Field(attr.FieldIndex).Interface(), true
}

// compare orders a stored value against its string representation from the
// query. It returns -1, 0 or 1; incomparable pairs order as unequal.
func compare(value interface{}, raw string) int {
	switch typed := value.(type) {
	case string:
		return strings.Compare(typed, raw)
	case bool:
		parsed, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil || typed != parsed {
			return -1
		}
		return 0
	case time.Time:
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return -1
		}
		if typed.Equal(parsed) {
			return 0
		}
		if typed.Before(parsed) {
			return -1
		}
		return 1
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return -1
		}
		var current float64
		if rv.CanInt() {
			current = float64(rv.Int())
		} else if rv.CanUint() {
			current = float64(rv.Uint())
		} else {
			current = rv.Float()
		}
		switch {
		case current == parsed:
			return 0
		case current < parsed:
			return -1
		default:
			return 1
		}
	}

	return strings.Compare(fmt.Sprintf("%v", value), raw)
}

func sortItems(s *schema.Schema, items []interface{}, order []query.Sort) error {
	if len(order) == 0 {
		return nil
	}

	var sortErr error
	sort.SliceStable(items, func(i, j int) bool {
		for _, key := range order {
			left, okL := fieldValue(s, items[i], key.Field)
			right, okR := fieldValue(s, items[j], key.Field)
			if !okL || !okR {
				sortErr = fmt.Errorf("memory: unsupported sort field %q", key.Field)
				return false
			}
			cmp := compare(left, fmt.Sprintf("%v", right))
			if t, ok := right.(time.Time); ok {
				cmp = compare(left, t.Format(time.RFC3339Nano))
			}
			if cmp == 0 {
				continue
			}
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return sortErr
}
