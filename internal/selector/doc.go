// Package selector implements the declarative filter language used to decide
// whether a document belongs to a cached page.
//
// Selectors arrive as Mongo-style objects (the same shape the server-side
// query engine consumes) and are parsed once into a Predicate tree:
//
//	{"status": 2, "score": {"$gte": 10}, "$or": [{"draft": false}, {"userId": "u1"}]}
//
// becomes
//
//	And{
//	  Or{Compare{draft = false}, Compare{userId = "u1"}},
//	  Compare{score >= 10},
//	  Compare{status = 2},
//	}
//
// SEALED INTERFACE:
//
// Predicate is sealed with a marker method. Match, Validate and the SQL
// compiler in querysql switch exhaustively over the concrete types, so a new
// operator cannot be added without every evaluator learning about it.
//
// MATCHING SEMANTICS:
//
// Field paths use dot notation. Arrays met along a path are expanded: a
// condition on "tags" holds if it holds for the array itself or for any of
// its elements. Range operators only compare values of the same kind
// (numbers with numbers, strings with strings). Equality with null matches
// both an explicit null and a missing field.
//
// SORTING:
//
// SortSpec orders documents with the total order defined by ir.Compare.
// Sorting is stable, so documents with equal keys keep their page order.
package selector
