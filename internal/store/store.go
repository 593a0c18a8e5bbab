// Package store persists session records and page documents as JSON
// under the application home directory.
package store

import (
	"context"
	"errors"
)

// Collection names used by the pipeline and API layers.
const (
	CollectionSessions = "sessions"
	CollectionPages    = "pages"
)

// ErrNotFound reports a missing document. Callers test with errors.Is.
var ErrNotFound = errors.New("document not found")

// Store is a collection-keyed JSON document store. Put has upsert
// semantics.
type Store interface {
	Put(ctx context.Context, collection, id string, doc any) error
	Get(ctx context.Context, collection, id string, out any) error
	List(ctx context.Context, collection string) ([]string, error)
	Delete(ctx context.Context, collection, id string) error
}
