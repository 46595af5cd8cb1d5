package ir

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQuery = `query PostsList($input: MultiPostInput) { posts(input: $input) { results { _id } } }`

func TestWatchKeyDeterminism(t *testing.T) {
	vars := IRObject{"input": IRObject{"terms": IRObject{"view": IRString("top"), "limit": IRInt(10)}}}

	k1, err := WatchKey(testQuery, vars)
	require.NoError(t, err)
	k2, err := WatchKey(testQuery, vars.Clone())
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
	_, err = hex.DecodeString(k1)
	assert.NoError(t, err)
}

func TestWatchKeyChangesWithInput(t *testing.T) {
	a := MustWatchKey(testQuery, IRObject{"input": IRObject{"terms": IRObject{"view": IRString("top")}}})
	b := MustWatchKey(testQuery, IRObject{"input": IRObject{"terms": IRObject{"view": IRString("new")}}})
	c := MustWatchKey(testQuery+" ", IRObject{"input": IRObject{"terms": IRObject{"view": IRString("top")}}})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestWatchKeyNilVariablesEqualsEmpty(t *testing.T) {
	assert.Equal(t, MustWatchKey(testQuery, nil), MustWatchKey(testQuery, IRObject{}))
}

func TestPageDigestDomainSeparation(t *testing.T) {
	page := IRObject{"results": IRArray{}}

	digest, err := PageDigest(page)
	require.NoError(t, err)

	canonical, err := MarshalCanonical(page)
	require.NoError(t, err)
	assert.NotEqual(t, hashWithDomain(DomainWatch, canonical), digest)
	assert.Equal(t, hashWithDomain(DomainPage, canonical), digest)
}

func TestMutationDigestNilDocument(t *testing.T) {
	d1, err := MutationDigest("delete", "Post", nil)
	require.NoError(t, err)
	d2, err := MutationDigest("delete", "Post", IRNull{})
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	d3, err := MutationDigest("update", "Post", IRNull{})
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestMustWatchKeyPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustWatchKey(testQuery, IRObject{"bad": IRFloat(nan())})
	})
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
