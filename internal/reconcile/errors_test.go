package reconcile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := &Error{Code: CodeUnknownType, Message: "no collection registered for type Tag"}
	assert.Equal(t, "UNKNOWN_TYPE: no collection registered for type Tag", err.Error())

	err = &Error{
		Code:     CodeMalformedPage,
		Message:  "cached page has unexpected shape",
		WatchKey: "0123456789abcdef",
		DataKey:  "posts",
		Err:      errors.New("missing results"),
	}
	assert.Equal(t, "MALFORMED_PAGE: cached page has unexpected shape (watch=0123456789ab, key=posts): missing results", err.Error())
}

func TestErrorHelpers_Wrapped(t *testing.T) {
	base := &Error{Code: CodeMalformedPage, Message: "x"}
	wrapped := fmt.Errorf("apply: %w", base)
	joined := errors.Join(&Error{Code: CodeStore, Message: "y"}, wrapped)

	assert.True(t, IsMalformedPage(wrapped))
	assert.True(t, IsMalformedPage(joined), "joined errors are searched past the first match")
	assert.False(t, IsUnknownType(joined))
	assert.False(t, IsConfigError(joined))
	assert.False(t, IsMalformedPage(nil))
}
