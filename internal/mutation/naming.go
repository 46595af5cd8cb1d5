package mutation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MutationName returns the server field name for a mutation, e.g.
// MutationName(KindCreate, "Post") == "createPost".
func MutationName(kind Kind, typeName string) string {
	return string(kind) + typeName
}

// MultiResolverName returns the list-query field for typeName:
// "Post" -> "posts", "Category" -> "categories".
func MultiResolverName(typeName string) string {
	return Pluralize(camelCase(typeName))
}

// ResultMarker returns the __typename of a cached list page.
func ResultMarker(typeName string) string {
	return "Multi" + typeName + "Output"
}

// TypeNameFromMarker inverts ResultMarker.
func TypeNameFromMarker(marker string) (string, bool) {
	if !strings.HasPrefix(marker, "Multi") || !strings.HasSuffix(marker, "Output") {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(marker, "Multi"), "Output")
	return name, name != ""
}

// Pluralize applies the English suffix rules used by the schema generator.
// Irregular plurals are not handled; collections with one should set an
// explicit resolver name.
func Pluralize(word string) string {
	if word == "" {
		return word
	}
	lower := strings.ToLower(word)
	switch {
	case strings.HasSuffix(lower, "y") && len(word) > 1 && !isVowel(lower[len(lower)-2]):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"), strings.HasSuffix(lower, "z"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}

func isVowel(b byte) bool {
	return strings.IndexByte("aeiou", b) >= 0
}

func camelCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
