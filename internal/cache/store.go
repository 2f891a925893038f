package cache

import (
	"context"
	"errors"
)

// ErrStoreNotFound is returned when a named store does not exist.
var ErrStoreNotFound = errors.New("cache: store not found")

// Store is one named key→response mapping.
type Store interface {
	// Name returns the store name (the VersionID it belongs to).
	Name() string
	// Match returns a copy of the cached response, or nil on a miss.
	Match(ctx context.Context, req Request) (*Response, error)
	// Put stores a copy of resp under req's key.
	Put(ctx context.Context, req Request, resp *Response) error
	// Delete removes req's key, reporting whether it existed.
	Delete(ctx context.Context, req Request) (bool, error)
	// Keys returns the cached requests, oldest insertion first.
	Keys(ctx context.Context) ([]Request, error)
	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)
}

// Storage is the set of named stores.
type Storage interface {
	// Open returns the named store, creating it if absent.
	Open(ctx context.Context, name string) (Store, error)
	// Has reports whether the named store exists.
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named store and all its entries.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists the existing stores in creation order.
	Names(ctx context.Context) ([]string, error)
	// Close releases the backing resources.
	Close() error
}
