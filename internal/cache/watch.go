package cache

import (
	"context"
	"errors"

	"github.com/roach88/watchpatch/internal/ir"
)

// ErrNotFound is returned by ReadQuery when the store holds no data for a
// watch. Reconciliation skips such watches.
var ErrNotFound = errors.New("cache: no data for watch")

// Watch identifies one cached query: the query document and its variables.
type Watch struct {
	Query     string
	Variables ir.IRObject
}

// Key is the canonical identity of the watch. Two watches with the same
// query text and semantically equal variables share a key.
func (w Watch) Key() (string, error) {
	return ir.WatchKey(w.Query, w.Variables)
}

// Terms returns the declarative terms for the watch, looked up first at
// variables.input.terms and then at variables.terms. A watch without terms
// yields an empty object.
func (w Watch) Terms() ir.IRObject {
	if input, ok := w.Variables.Object("input"); ok {
		if terms, ok := input.Object("terms"); ok {
			return terms
		}
	}
	if terms, ok := w.Variables.Object("terms"); ok {
		return terms
	}
	return ir.IRObject{}
}

// Store is the cache capability consumed by reconciliation.
//
// ReadQuery returns ErrNotFound (possibly wrapped) when nothing is cached
// for w. Implementations must return data the caller may mutate freely.
type Store interface {
	Watches(ctx context.Context) ([]Watch, error)
	ReadQuery(ctx context.Context, w Watch) (ir.IRObject, error)
	WriteQuery(ctx context.Context, w Watch, data ir.IRObject) error
}
