package selector

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
)

// Direction is a sort direction.
type Direction int

const (
	Asc  Direction = 1
	Desc Direction = -1
)

// SortKey orders documents by one field.
type SortKey struct {
	Field     string
	Direction Direction
}

// SortSpec is an ordered list of sort keys; earlier keys take precedence.
type SortSpec []SortKey

// String renders the sort as "field:asc,field:desc".
func (s SortSpec) String() string {
	parts := make([]string, len(s))
	for i, k := range s {
		dir := "asc"
		if k.Direction == Desc {
			dir = "desc"
		}
		parts[i] = k.Field + ":" + dir
	}
	return strings.Join(parts, ",")
}

// ParseDirection accepts 1/-1 or "asc"/"desc" (case-insensitive).
func ParseDirection(v ir.IRValue) (Direction, error) {
	switch d := v.(type) {
	case ir.IRInt:
		switch d {
		case 1:
			return Asc, nil
		case -1:
			return Desc, nil
		}
	case ir.IRString:
		switch strings.ToLower(string(d)) {
		case "asc", "ascending":
			return Asc, nil
		case "desc", "descending":
			return Desc, nil
		}
	}
	return 0, fmt.Errorf("invalid sort direction %s", describe(v))
}

// ParseSort builds a SortSpec from a list of {field, direction} objects or
// single-key {field: direction} objects. A bare object with one key is
// accepted as a one-element list.
func ParseSort(v ir.IRValue) (SortSpec, error) {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return nil, nil
	case ir.IRObject:
		return ParseSort(ir.IRArray{val})
	case ir.IRArray:
		spec := make(SortSpec, 0, len(val))
		for i, elem := range val {
			obj, ok := elem.(ir.IRObject)
			if !ok {
				return nil, fmt.Errorf("sort[%d]: expected object, got %s", i, ir.TypeName(elem))
			}
			key, err := parseSortKey(obj)
			if err != nil {
				return nil, fmt.Errorf("sort[%d]: %w", i, err)
			}
			spec = append(spec, key)
		}
		return spec, nil
	default:
		return nil, fmt.Errorf("sort: expected array, got %s", ir.TypeName(v))
	}
}

func parseSortKey(obj ir.IRObject) (SortKey, error) {
	if f, ok := obj["field"]; ok {
		field, ok := f.(ir.IRString)
		if !ok || field == "" {
			return SortKey{}, fmt.Errorf("field must be a non-empty string")
		}
		dir := Asc
		if d, ok := obj["direction"]; ok {
			var err error
			if dir, err = ParseDirection(d); err != nil {
				return SortKey{}, err
			}
		}
		return SortKey{Field: string(field), Direction: dir}, nil
	}

	if len(obj) != 1 {
		return SortKey{}, fmt.Errorf("expected exactly one field, got %d", len(obj))
	}
	for field, d := range obj {
		dir, err := ParseDirection(d)
		if err != nil {
			return SortKey{}, err
		}
		return SortKey{Field: field, Direction: dir}, nil
	}
	panic("unreachable")
}

// Compare orders a and b under spec. Missing fields sort as null; an
// array field sorts by its smallest element ascending and its largest
// element descending.
func (s SortSpec) Compare(a, b ir.IRValue) int {
	for _, key := range s {
		ka := sortValue(a, key)
		kb := sortValue(b, key)
		if c := ir.Compare(ka, kb); c != 0 {
			if key.Direction == Desc {
				return -c
			}
			return c
		}
	}
	return 0
}

// Sort orders docs in place. The sort is stable, so documents with equal
// keys keep their relative order.
func (s SortSpec) Sort(docs []ir.IRValue) {
	if len(s) == 0 {
		return
	}
	slices.SortStableFunc(docs, s.Compare)
}

func sortValue(doc ir.IRValue, key SortKey) ir.IRValue {
	leaves := lookup(doc, splitPath(key.Field))
	if len(leaves) == 0 {
		return ir.IRNull{}
	}

	var vals []ir.IRValue
	for _, leaf := range leaves {
		if arr, ok := leaf.(ir.IRArray); ok {
			if len(arr) == 0 {
				vals = append(vals, leaf)
				continue
			}
			vals = append(vals, arr...)
			continue
		}
		vals = append(vals, leaf)
	}
	if len(vals) == 1 {
		return vals[0]
	}
	if key.Direction == Desc {
		return slices.MaxFunc(vals, ir.Compare)
	}
	return slices.MinFunc(vals, ir.Compare)
}

func describe(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return ir.TypeName(v)
	}
	return string(b)
}
