package reconcile

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes reconciliation errors.
type ErrorCode string

const (
	// CodeUnknownType means no collection is registered for the mutated type.
	CodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// CodeUnknownView means a watch's terms name a view the collection lacks.
	CodeUnknownView ErrorCode = "UNKNOWN_VIEW"

	// CodeInvalidTerms means a watch's terms carry a value of the wrong type.
	CodeInvalidTerms ErrorCode = "INVALID_TERMS"

	// CodeInvalidSelector means a view's selector did not parse.
	CodeInvalidSelector ErrorCode = "INVALID_SELECTOR"

	// CodeInvalidQuery means a watch's query document did not parse.
	CodeInvalidQuery ErrorCode = "INVALID_QUERY"

	// CodeMalformedPage means the cached page does not have the list shape.
	CodeMalformedPage ErrorCode = "MALFORMED_PAGE"

	// CodeStore means the cache store failed to read or write.
	CodeStore ErrorCode = "STORE"
)

// ErrUnknownType is wrapped by errors with CodeUnknownType.
var ErrUnknownType = errors.New("unknown type")

// Error is a reconciliation failure with enough context to locate the
// affected watch.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// TypeName is the mutated type.
	TypeName string

	// WatchKey identifies the affected watch, if any.
	WatchKey string

	// DataKey is the response key of the affected page, if any.
	DataKey string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.WatchKey != "" {
		msg += fmt.Sprintf(" (watch=%s, key=%s)", shortKey(e.WatchKey), e.DataKey)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnknownType reports whether err carries CodeUnknownType.
// Uses errors.As to handle wrapped and joined errors.
func IsUnknownType(err error) bool {
	return hasCode(err, CodeUnknownType)
}

// IsMalformedPage reports whether err carries CodeMalformedPage.
func IsMalformedPage(err error) bool {
	return hasCode(err, CodeMalformedPage)
}

// IsConfigError reports whether err stems from a schema or registration
// mismatch rather than from cache contents.
func IsConfigError(err error) bool {
	return hasCode(err, CodeUnknownType) ||
		hasCode(err, CodeUnknownView) ||
		hasCode(err, CodeInvalidSelector)
}

// hasCode walks err, including errors.Join trees, for an *Error with code.
func hasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var re *Error
	if errors.As(err, &re) && re.Code == code {
		return true
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if hasCode(e, code) {
				return true
			}
		}
	}
	return false
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
