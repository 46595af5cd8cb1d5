package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     IRValue
		expected int
	}{
		{"ints", IRInt(1), IRInt(2), -1},
		{"int vs float equal", IRInt(3), IRFloat(3), 0},
		{"float vs int", IRFloat(3.5), IRInt(3), 1},
		{"strings", IRString("b"), IRString("a"), 1},
		{"null before numbers", IRNull{}, IRInt(-100), -1},
		{"missing equals null", nil, IRNull{}, 0},
		{"numbers before strings", IRInt(100), IRString("0"), -1},
		{"strings before objects", IRString("z"), IRObject{}, -1},
		{"arrays before bools", IRArray{}, IRBool(false), -1},
		{"false before true", IRBool(false), IRBool(true), -1},
		{"arrays elementwise", IRArray{IRInt(1), IRInt(2)}, IRArray{IRInt(1), IRInt(3)}, -1},
		{"shorter array first", IRArray{IRInt(1)}, IRArray{IRInt(1), IRInt(0)}, -1},
		{"objects by key", IRObject{"a": IRInt(1)}, IRObject{"b": IRInt(0)}, -1},
		{"objects by value", IRObject{"a": IRInt(2)}, IRObject{"a": IRInt(1)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.expected, Compare(tt.b, tt.a), "order must be antisymmetric")
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(IRInt(2), IRFloat(2)))
	assert.True(t, Equal(IRObject{"a": IRArray{IRInt(1)}}, IRObject{"a": IRArray{IRInt(1)}}))
	assert.False(t, Equal(IRString("1"), IRInt(1)))
	assert.False(t, Equal(IRObject{"a": IRInt(1)}, IRObject{"a": IRInt(1), "b": IRInt(2)}))
}

func TestSameKind(t *testing.T) {
	assert.True(t, SameKind(IRInt(1), IRFloat(2.5)))
	assert.False(t, SameKind(IRInt(1), IRString("1")))
	assert.True(t, IsNumber(IRFloat(0)))
	assert.False(t, IsNumber(IRBool(true)))
}
