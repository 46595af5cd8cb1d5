package ir

import "strings"

// typeRank orders value kinds the way the document query engine sorts
// mixed-type fields: missing/null, numbers, strings, objects, arrays, bools.
func typeRank(v IRValue) int {
	switch v.(type) {
	case nil, IRNull:
		return 1
	case IRInt, IRFloat:
		return 2
	case IRString:
		return 3
	case IRObject:
		return 4
	case IRArray:
		return 5
	case IRBool:
		return 6
	default:
		return 7
	}
}

// SameKind reports whether a and b belong to the same comparison class.
// Range operators ($gt, $lt, ...) only match within one class.
func SameKind(a, b IRValue) bool {
	return typeRank(a) == typeRank(b)
}

// IsNumber reports whether v is an IRInt or IRFloat.
func IsNumber(v IRValue) bool {
	switch v.(type) {
	case IRInt, IRFloat:
		return true
	}
	return false
}

// Equal reports deep equality. Numbers compare by value across IRInt and
// IRFloat; a missing value (nil) equals IRNull.
func Equal(a, b IRValue) bool {
	return Compare(a, b) == 0
}

// Compare defines a total order over IR values: first by kind rank, then
// by value. Objects compare by sorted keys then values; arrays element-wise.
func Compare(a, b IRValue) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case nil, IRNull:
		return 0
	case IRInt:
		switch bv := b.(type) {
		case IRInt:
			return cmpOrdered(int64(av), int64(bv))
		case IRFloat:
			return cmpOrdered(float64(av), float64(bv))
		}
	case IRFloat:
		switch bv := b.(type) {
		case IRInt:
			return cmpOrdered(float64(av), float64(bv))
		case IRFloat:
			return cmpOrdered(float64(av), float64(bv))
		}
	case IRString:
		return strings.Compare(string(av), string(b.(IRString)))
	case IRBool:
		bv := b.(IRBool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case IRArray:
		bv := b.(IRArray)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return cmpOrdered(len(av), len(bv))
	case IRObject:
		bv := b.(IRObject)
		ak, bk := av.SortedKeys(), bv.SortedKeys()
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := compareKeysRFC8785(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := Compare(av[ak[i]], bv[bk[i]]); c != 0 {
				return c
			}
		}
		return cmpOrdered(len(ak), len(bk))
	}
	return 0
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
