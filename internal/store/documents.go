package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/querysql"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/selector"
)

// DefaultImportBatchSize is the number of documents written per transaction
// by ImportDocuments when the caller passes a non-positive batch size.
const DefaultImportBatchSize = 200

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrMissingID is returned for documents without a usable id.
	ErrMissingID = errors.New("document has no id")
)

// PutDocument inserts or replaces a document. seq records the mutation that
// wrote it (0 for imports).
func (s *Store) PutDocument(ctx context.Context, coll *registry.Collection, doc ir.IRObject, seq int64) error {
	return putDocument(ctx, s.db, coll, doc, seq)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putDocument(ctx context.Context, db execer, coll *registry.Collection, doc ir.IRObject, seq int64) error {
	key, data, err := documentRow(coll, doc)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, seq = excluded.seq
	`, coll.Name, key, data, seq)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// documentRow returns the id key and canonical data of doc.
func documentRow(coll *registry.Collection, doc ir.IRObject) (string, string, error) {
	id, ok := coll.ID(doc)
	if !ok {
		return "", "", fmt.Errorf("%w: field %s", ErrMissingID, coll.IDKey())
	}
	key, err := marshalID(id)
	if err != nil {
		return "", "", err
	}
	data, err := marshalDocument(doc)
	if err != nil {
		return "", "", err
	}
	return key, data, nil
}

// DeleteDocument removes a document. Returns false if it did not exist.
func (s *Store) DeleteDocument(ctx context.Context, coll *registry.Collection, id ir.IRValue) (bool, error) {
	key, err := marshalID(id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND id = ?
	`, coll.Name, key)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return n > 0, nil
}

// ReadDocument retrieves a document by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadDocument(ctx context.Context, coll *registry.Collection, id ir.IRValue) (ir.IRObject, error) {
	key, err := marshalID(id)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var data string
	err = s.db.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE collection = ? AND id = ?
	`, coll.Name, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read document %s/%s: %w", coll.Name, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return unmarshalDocument(data)
}

// CountDocuments returns the number of documents in a collection.
func (s *Store) CountDocuments(ctx context.Context, coll *registry.Collection) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE collection = ?
	`, coll.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// ApplyMutation keeps the documents table in step with a mutation result:
// create replaces, update and upsert merge over the stored document,
// delete removes. A result without a document is a no-op.
//
// The update merge mirrors what the reconciler does to cached pages, so a
// page recomputed from the store matches the patched one.
func (s *Store) ApplyMutation(ctx context.Context, coll *registry.Collection, m mutation.Result, seq int64) error {
	if !m.HasDocument() {
		return nil
	}

	switch m.Kind {
	case mutation.KindCreate:
		return s.PutDocument(ctx, coll, m.Document, seq)

	case mutation.KindUpdate, mutation.KindUpsert:
		id, ok := coll.ID(m.Document)
		if !ok {
			return fmt.Errorf("apply %s: %w", m, ErrMissingID)
		}
		current, err := s.ReadDocument(ctx, coll, id)
		switch {
		case errors.Is(err, ErrNotFound):
			current = ir.IRObject{}
		case err != nil:
			return fmt.Errorf("apply %s: %w", m, err)
		}
		return s.PutDocument(ctx, coll, current.Merge(m.Document), seq)

	case mutation.KindDelete:
		id, ok := coll.ID(m.Document)
		if !ok {
			return fmt.Errorf("apply %s: %w", m, ErrMissingID)
		}
		if _, err := s.DeleteDocument(ctx, coll, id); err != nil {
			return fmt.Errorf("apply %s: %w", m, err)
		}
		return nil

	default:
		return fmt.Errorf("apply %s: %w", m, mutation.ErrMalformed)
	}
}

// FindDocuments evaluates a view's parameters against the stored
// collection: filter, sort, then limit.
//
// Selectors in the pushdown fragment are filtered in SQL; the rest fall
// back to scanning the collection. Either way every row is re-checked
// with selector.Match, so results are identical. Returns an empty slice,
// never nil.
func (s *Store) FindDocuments(ctx context.Context, coll *registry.Collection, params registry.Parameters) ([]ir.IRObject, error) {
	query, args, err := s.compiler.Compile(coll.Name, params.Selector)
	if errors.Is(err, querysql.ErrNotPushdown) {
		slog.Debug("selector evaluated in memory", "collection", coll.Name, "reason", err)
		query, args = s.compiler.CompileScan(coll.Name)
	} else if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer rows.Close()

	var matched []ir.IRValue
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("find documents: scan: %w", err)
		}
		doc, err := unmarshalDocument(data)
		if err != nil {
			return nil, fmt.Errorf("find documents: %s: %w", key, err)
		}
		if selector.Match(params.Selector, doc) {
			matched = append(matched, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}

	params.Sort.Sort(matched)
	if params.Limit > 0 && len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}

	out := make([]ir.IRObject, 0, len(matched))
	for _, v := range matched {
		out = append(out, v.(ir.IRObject))
	}
	return out, nil
}

// ImportResult summarizes an ImportDocuments run.
type ImportResult struct {
	Imported int      // rows written
	Skipped  int      // ids already present, left untouched
	Failed   []string // ids (or "#<index>" when the id is unusable) that could not be written
}

// ImportDocuments bulk-loads documents in batches of batchSize, one
// transaction per batch. Existing ids are skipped, not overwritten.
//
// A document that fails to insert is recorded in Failed and the import
// continues; only a failure to begin or commit a batch aborts the run.
func (s *Store) ImportDocuments(ctx context.Context, coll *registry.Collection, docs []ir.IRObject, batchSize int) (ImportResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultImportBatchSize
	}
	result := ImportResult{Failed: []string{}}

	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return result, fmt.Errorf("import batch at %d: begin: %w", start, err)
		}

		imported, skipped := 0, 0
		for i := start; i < end; i++ {
			inserted, err := insertDocument(ctx, tx, coll, docs[i])
			if err != nil {
				label := failureLabel(coll, docs[i], i)
				slog.Warn("document import failed", "collection", coll.Name, "id", label, "error", err)
				result.Failed = append(result.Failed, label)
				continue
			}
			if inserted {
				imported++
			} else {
				skipped++
			}
		}

		if err := tx.Commit(); err != nil {
			return result, fmt.Errorf("import batch at %d: commit: %w", start, err)
		}
		result.Imported += imported
		result.Skipped += skipped

		slog.Debug("import batch committed",
			"collection", coll.Name,
			"start", start,
			"end", end,
			"imported", imported,
		)
	}

	if len(result.Failed) > 0 {
		slog.Warn("import finished with errors", "collection", coll.Name, "failed", len(result.Failed))
	}
	return result, nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, coll *registry.Collection, doc ir.IRObject) (bool, error) {
	key, data, err := documentRow(coll, doc)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, seq)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(collection, id) DO NOTHING
	`, coll.Name, key, data)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// failureLabel names a failed document by its id, or by position when the
// id itself is the problem.
func failureLabel(coll *registry.Collection, doc ir.IRObject, index int) string {
	if id, ok := coll.ID(doc); ok {
		if s, ok := id.(ir.IRString); ok {
			return string(s)
		}
		if key, err := marshalID(id); err == nil {
			return key
		}
	}
	return fmt.Sprintf("#%d", index)
}
