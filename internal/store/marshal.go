package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/watchpatch/internal/ir"
)

// marshalDocument converts IRObject to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalDocument(doc ir.IRObject) (string, error) {
	if doc == nil {
		doc = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// marshalID converts a document id to the canonical JSON key stored in
// documents.id. Only strings and integers are valid ids.
func marshalID(id ir.IRValue) (string, error) {
	switch id.(type) {
	case ir.IRString, ir.IRInt:
	default:
		return "", fmt.Errorf("marshal id: unsupported id type %s", ir.TypeName(id))
	}
	data, err := ir.MarshalCanonical(id)
	if err != nil {
		return "", fmt.Errorf("marshal id: %w", err)
	}
	return string(data), nil
}

// marshalOptionalDocument stores a nil document as SQL NULL.
func marshalOptionalDocument(doc ir.IRObject) (sql.NullString, error) {
	if doc == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalDocument(doc)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// unmarshalDocument parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which properly handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalDocument(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	obj, err := ir.UnmarshalIRObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return obj, nil
}

// unmarshalOptionalDocument maps SQL NULL back to a nil document.
func unmarshalOptionalDocument(data sql.NullString) (ir.IRObject, error) {
	if !data.Valid {
		return nil, nil
	}
	return unmarshalDocument(data.String)
}

