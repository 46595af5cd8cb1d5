// Package ir provides the value model shared by every watchpatch package.
//
// Documents, selectors, query variables and cached pages are all expressed
// as IRValue trees. This package imports nothing internal so that it stays
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - IRValue is sealed: only the types in this package implement it
//   - JSON null decodes to IRNull, never to a Go nil
//   - Integers decode to IRInt; only numbers with a fraction or exponent
//     decode to IRFloat
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only encoding
//     used for cache keys and digests
package ir
