package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/watchpatch/internal/registry"
)

// Journal logs mutations and keeps the documents table current.
//
// Each record is appended to the mutation log, then applied to the stored
// documents when its type is registered. ApplyMutation is idempotent, so
// re-journaling a logged record after a crash between the two writes
// converges.
type Journal struct {
	store    *Store
	registry *registry.Registry
}

// Journal returns a Journal over s resolving types with reg.
func (s *Store) Journal(reg *registry.Registry) *Journal {
	return &Journal{store: s, registry: reg}
}

// AppendMutation logs rec and applies it to the documents table.
func (j *Journal) AppendMutation(ctx context.Context, rec MutationRecord) error {
	if err := j.store.AppendMutation(ctx, rec); err != nil {
		return err
	}

	coll, ok := j.registry.Lookup(rec.Result.TypeName)
	if !ok {
		slog.Debug("journal: type not registered, documents untouched", "type", rec.Result.TypeName, "seq", rec.Seq)
		return nil
	}
	if err := j.store.ApplyMutation(ctx, coll, rec.Result, rec.Seq); err != nil {
		return fmt.Errorf("journal seq %d: %w", rec.Seq, err)
	}
	return nil
}
