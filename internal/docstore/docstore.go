// Package docstore is the narrow document-store surface the ledger runs on:
// keyed get/set, conditional create and simple filtered queries.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned by Get when no document exists at the key.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists is returned by Create when the key is taken.
	ErrAlreadyExists = errors.New("docstore: document already exists")
)

// Op is a query predicate operator.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

// Filter restricts a query to documents whose Field satisfies Op against Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// ArrayContains builds a filter matching array fields holding value.
func ArrayContains(field string, value any) Filter {
	return Filter{Field: field, Op: OpArrayContains, Value: value}
}

// Query describes a collection scan. Without OrderBy, results come back in
// the backend's insertion order where it has one.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Snapshot is one document returned by a query.
type Snapshot interface {
	Key() string
	DataTo(dst any) error
}

// Store is implemented by every backend.
type Store interface {
	// Get decodes the document at key into dst. A nil dst only checks existence.
	Get(ctx context.Context, collection, key string, dst any) error
	// Set creates or overwrites the document at key.
	Set(ctx context.Context, collection, key string, doc any) error
	// Create writes the document only if key is free, atomically.
	Create(ctx context.Context, collection, key string, doc any) error
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Validate checks field names and operators before a backend sees them.
func (q Query) Validate() error {
	if q.Collection == "" {
		return errors.New("docstore: collection required")
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("docstore: invalid field %q", f.Field)
		}
		if f.Op != OpEqual && f.Op != OpArrayContains {
			return fmt.Errorf("docstore: unsupported operator %q", f.Op)
		}
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return fmt.Errorf("docstore: invalid order field %q", q.OrderBy)
	}
	if q.Limit < 0 {
		return errors.New("docstore: negative limit")
	}
	return nil
}

func checkKey(collection, key string) error {
	if collection == "" || key == "" {
		return errors.New("docstore: collection and key required")
	}
	return nil
}
