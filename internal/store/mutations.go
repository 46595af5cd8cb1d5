package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/watchpatch/internal/mutation"
)

// ErrSeqConflict is returned when a seq is already logged with a different
// mutation.
var ErrSeqConflict = errors.New("seq already logged with a different mutation")

// MutationRecord is one entry of the mutation log.
type MutationRecord struct {
	Seq    int64
	Batch  string
	Result mutation.Result
	Digest string
}

// NewMutationRecord stamps a result with its seq and batch token.
func NewMutationRecord(seq int64, batch string, m mutation.Result) (MutationRecord, error) {
	digest, err := m.Digest()
	if err != nil {
		return MutationRecord{}, err
	}
	return MutationRecord{Seq: seq, Batch: batch, Result: m, Digest: digest}, nil
}

// AppendMutation writes a record to the mutation log.
// Writing the same record twice is a no-op; reusing a seq for a different
// mutation returns ErrSeqConflict.
func (s *Store) AppendMutation(ctx context.Context, rec MutationRecord) error {
	if rec.Seq <= 0 {
		return fmt.Errorf("append mutation: seq must be positive, got %d", rec.Seq)
	}
	if rec.Digest == "" {
		digest, err := rec.Result.Digest()
		if err != nil {
			return fmt.Errorf("append mutation: %w", err)
		}
		rec.Digest = digest
	}

	doc, err := marshalOptionalDocument(rec.Result.Document)
	if err != nil {
		return fmt.Errorf("append mutation: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mutations (seq, batch, kind, type_name, document, digest)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		rec.Seq,
		rec.Batch,
		string(rec.Result.Kind),
		rec.Result.TypeName,
		doc,
		rec.Digest,
	)
	if err != nil {
		return fmt.Errorf("append mutation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append mutation: %w", err)
	}
	if n > 0 {
		return nil
	}

	var existing string
	if err := s.db.QueryRowContext(ctx, `
		SELECT digest FROM mutations WHERE seq = ?
	`, rec.Seq).Scan(&existing); err != nil {
		return fmt.Errorf("append mutation: %w", err)
	}
	if existing != rec.Digest {
		return fmt.Errorf("append mutation seq %d: %w", rec.Seq, ErrSeqConflict)
	}
	return nil
}

// ReadMutations returns log records with seq > after, oldest first.
// Returns an empty slice, never nil.
func (s *Store) ReadMutations(ctx context.Context, after int64) ([]MutationRecord, error) {
	records, err := s.queryMutations(ctx, "seq > ?", after)
	if err != nil {
		return nil, fmt.Errorf("read mutations: %w", err)
	}
	return records, nil
}

// ReadBatch returns the records of one batch in seq order.
func (s *Store) ReadBatch(ctx context.Context, batch string) ([]MutationRecord, error) {
	records, err := s.queryMutations(ctx, "batch = ?", batch)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", batch, err)
	}
	return records, nil
}

// ReadMutationsForType returns the records of one type in seq order.
func (s *Store) ReadMutationsForType(ctx context.Context, typeName string) ([]MutationRecord, error) {
	records, err := s.queryMutations(ctx, "type_name = ?", typeName)
	if err != nil {
		return nil, fmt.Errorf("read mutations for %s: %w", typeName, err)
	}
	return records, nil
}

// queryMutations runs a filtered log read. where is a fixed clause from
// this file, never caller input.
func (s *Store) queryMutations(ctx context.Context, where string, args ...any) ([]MutationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, batch, kind, type_name, document, digest
		FROM mutations
		WHERE `+where+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []MutationRecord{}
	for rows.Next() {
		var rec MutationRecord
		var kind string
		var doc sql.NullString
		if err := rows.Scan(&rec.Seq, &rec.Batch, &kind, &rec.Result.TypeName, &doc, &rec.Digest); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec.Result.Kind = mutation.Kind(kind)
		rec.Result.Document, err = unmarshalOptionalDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("seq %d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// LastSeq returns the highest logged seq, or 0 for an empty log.
// Used to resume the logical clock after a restart.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM mutations
	`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// VerifyDigests recomputes each record's digest and returns the seqs whose
// stored digest no longer matches.
func (s *Store) VerifyDigests(ctx context.Context) ([]int64, error) {
	records, err := s.ReadMutations(ctx, 0)
	if err != nil {
		return nil, err
	}
	bad := []int64{}
	for _, rec := range records {
		digest, err := rec.Result.Digest()
		if err != nil {
			return nil, fmt.Errorf("verify seq %d: %w", rec.Seq, err)
		}
		if digest != rec.Digest {
			bad = append(bad, rec.Seq)
		}
	}
	return bad, nil
}
