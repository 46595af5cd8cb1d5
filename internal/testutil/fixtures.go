package testutil

import (
	"testing"

	"github.com/roach88/watchpatch/internal/ir"
)

// JSONObject parses a JSON object literal into an ir.IRObject, failing the
// test on malformed input.
func JSONObject(t testing.TB, src string) ir.IRObject {
	t.Helper()
	obj, err := ir.UnmarshalIRObject([]byte(src))
	if err != nil {
		t.Fatalf("testutil: invalid JSON object %q: %v", src, err)
	}
	return obj
}

// IDs builds a list of integer document ids.
func IDs(ns ...int) []ir.IRValue {
	out := make([]ir.IRValue, len(ns))
	for i, n := range ns {
		out[i] = ir.IRInt(n)
	}
	return out
}
