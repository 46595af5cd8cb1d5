// Package compiler turns CUE collection specs into registry collections.
//
// A spec file declares collections under the top-level "collection" field:
//
//	collection: Posts: {
//		type_name: "Post"
//		id_field:  "_id"
//		default_view: selector: status: 2
//		view: top: {
//			sort: [{field: "score", direction: "desc"}]
//			limit: 20
//		}
//	}
//
// CompileCollection reports problems as *CompileError carrying the CUE
// source position. Validate runs cross-collection checks on the result.
package compiler
