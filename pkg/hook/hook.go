// Package hook provides per-viewset lifecycle hooks. Hooks run in
// registration order and each receives the output of the previous one.
package hook

import (
	"context"

	"github.com/calaveras-dev/jsonapi-kit/pkg/query"
)

type BeforeList func(context.Context, *query.Query) (*query.Query, error)
type BeforeCreate func(context.Context, interface{}) (interface{}, error)
type BeforeUpdate func(context.Context, interface{}) (interface{}, error)
type BeforeDelete func(context.Context, interface{}) error

type AfterRead func(context.Context, interface{}) (interface{}, error)
type AfterReadAll func(context.Context, []interface{}) ([]interface{}, error)
type AfterWrite func(context.Context, interface{}) (interface{}, error)
type AfterDelete func(context.Context, interface{}) error

func NewRegistry() Registry {
	return Registry{}
}

type Registry struct {
	beforeLists   []BeforeList
	beforeCreates []BeforeCreate
	beforeUpdates []BeforeUpdate
	beforeDeletes []BeforeDelete

	afterReads    []AfterRead
	afterReadAlls []AfterReadAll
	afterCreates  []AfterWrite
	afterUpdates  []AfterWrite
	afterDeletes  []AfterDelete
}

func (hr *Registry) RegisterBeforeList(hook BeforeList) {
	hr.beforeLists = append(hr.beforeLists, hook)
}

func (hr *Registry) RegisterBeforeCreate(hook BeforeCreate) {
	hr.beforeCreates = append(hr.beforeCreates, hook)
}

func (hr *Registry) RegisterBeforeUpdate(hook BeforeUpdate) {
	hr.beforeUpdates = append(hr.beforeUpdates, hook)
}

func (hr *Registry) RegisterBeforeDelete(hook BeforeDelete) {
	hr.beforeDeletes = append(hr.beforeDeletes, hook)
}

func (hr *Registry) RegisterAfterRead(hook AfterRead) {
	hr.afterReads = append(hr.afterReads, hook)
}

func (hr *Registry) RegisterAfterReadAll(hook AfterReadAll) {
	hr.afterReadAlls = append(hr.afterReadAlls, hook)
}

func (hr *Registry) RegisterAfterCreate(hook AfterWrite) {
	hr.afterCreates = append(hr.afterCreates, hook)
}

func (hr *Registry) RegisterAfterUpdate(hook AfterWrite) {
	hr.afterUpdates = append(hr.afterUpdates, hook)
}

func (hr *Registry) RegisterAfterDelete(hook AfterDelete) {
	hr.afterDeletes = append(hr.afterDeletes, hook)
}

func (hr *Registry) RunBeforeLists(ctx context.Context, q *query.Query) (*query.Query, error) {
	next := q
	var err error
	for _, hook := range hr.beforeLists {
		next, err = hook(ctx, next)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (hr *Registry) RunBeforeCreates(ctx context.Context, r interface{}) (interface{}, error) {
	next := r
	var err error
	for _, hook := range hr.beforeCreates {
		next, err = hook(ctx, next)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (hr *Registry) RunBeforeUpdates(ctx context.Context, r interface{}) (interface{}, error) {
	next := r
	var err error
	for _, hook := range hr.beforeUpdates {
		next, err = hook(ctx, next)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (hr *Registry) RunBeforeDeletes(ctx context.Context, r interface{}) error {
	for _, hook := range hr.beforeDeletes {
		if err := hook(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (hr *Registry) RunAfterReads(ctx context.Context, r interface{}) (interface{}, error) {
	next := r
	var err error
	for _, hook := range hr.afterReads {
		next, err = hook(ctx, next)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (hr *Registry) RunAfterReadAlls(ctx context.Context, rs []interface{}) ([]interface{}, error) {
	next := rs
	var err error
	for _, hook := range hr.afterReadAlls {
		next, err = hook(ctx, next)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (hr *Registry) RunAfterCreates(ctx context.Context, r interface{}) (interface{}, error) {
	next := r
	var err error
	for _, hook := range hr.afterCreates {
		next, err = hook(ctx, next)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (hr *Registry) RunAfterUpdates(ctx context.Context, r interface{}) (interface{}, error) {
	next := r
	var err error
	for _, hook := range hr.afterUpdates {
		next, err = hook(ctx, next)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (hr *Registry) RunAfterDeletes(ctx context.Context, r interface{}) error {
	for _, hook := range hr.afterDeletes {
		if err := hook(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
