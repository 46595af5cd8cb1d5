// Package harness runs reconciliation scenarios.
//
// A scenario seeds a cache with query results, applies a sequence of
// mutation results through the pipeline, and asserts on the patched pages.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	specs:
//	  - specs/posts.cue
//	batch: test-batch
//	cache:
//	  - name: top
//	    query: "query Top($input: PostsInput) { posts(input: $input) { results { _id score } totalCount } }"
//	    variables: { input: { terms: { view: top } } }
//	    data: { posts: { __typename: MultiPostOutput, results: [...], totalCount: 2 } }
//	mutations:
//	  - kind: create
//	    type: Post
//	    document: { _id: 3, score: 4 }
//	    expect: { changed: 1 }
//	assertions:
//	  - type: page_ids
//	    entry: top
//	    field: posts
//	    ids: [1, 3, 2]
//
// # Assertion Types
//
//   - page_ids: the page's result ids, in order
//   - total_count: the page's totalCount
//   - unchanged: the entry's data equals what it was seeded with
//   - trace_count: the number of mutations that changed at least one page
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory cache with a deterministic
// logical clock and a fixed batch token, so the trace and final pages are
// byte-identical across runs and can be compared against golden files.
package harness
