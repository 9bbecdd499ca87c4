// Package harness runs YAML scenarios against a real semantic package.
//
// # Scenario Format
//
//	name: employment
//	description: "Hiring links a person to a workplace"
//	ontology: ontology        # CUE directory, relative to this file
//	package: acme
//	steps:
//	  - op: create
//	    as: richard
//	    type: Person
//	    fields: { name: Richard }
//	  - op: link
//	    as: job
//	    source: richard
//	    predicate: worksFor
//	    target: hooli
//	    payload: { position: CEO }
//	    keys: { since: 2019 }
//	  - op: update
//	    ref: richard
//	    fields: { age: "thirty" }
//	    expect_error: validation
//	assertions:
//	  - type: entity_field
//	    ref: richard
//	    field: status
//	    value: active
//	  - type: predicate_count
//	    ref: richard
//	    predicate: worksFor
//	    count: 1
//
// Steps are create, update, link, erase, set_parent, query and
// delete_by_query. A step with expect_error passes only when it fails with
// that kind (see ErrorKind). Assertions are entity_field, entity_absent and
// predicate_count.
//
// # Deterministic Testing
//
// Every run gets a fresh in-memory SQLite store whose physical ids come
// from testutil.SequenceIDGenerator and whose timestamps come from
// testutil.DeterministicClock, so the trace of a scenario is the same on
// every run and can be compared against a golden file.
package harness
