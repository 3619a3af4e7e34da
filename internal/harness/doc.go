// Package harness runs end-to-end conformance scenarios against the ORM.
//
// A scenario loads model definitions, executes a list of CRUD and search
// steps in a single transaction on a fresh in-memory database, and checks
// each step against its expectations.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: hierarchy_moves
//	description: "Moving a subtree keeps the nested set consistent"
//	models: partners.yaml
//	check_parent_store: [res.partner]
//	steps:
//	  - create: res.partner
//	    values: { name: Root }
//	    as: root
//	  - create: res.partner
//	    values: { name: Kid, parent_id: $root }
//	    as: kid
//	  - search: res.partner
//	    domain: [["id", "child_of", "$root"]]
//	    expect:
//	      ids: [$root, $kid]
//	  - write: res.partner
//	    ids: [$root]
//	    values: { parent_id: $kid }
//	    expect_error: RECURSION
//
// Each step names exactly one operation (create, write, unlink, search,
// read, copy) with the model it applies to. A string "$alias" anywhere in
// ids, values or domains is replaced by the id bound with "as". The
// models path is relative to the scenario file.
//
// # Expectations
//
//   - ids: search result in order, or created ids for create and copy
//   - count: number of ids returned
//   - values: rows of a read, compared on the listed keys only
//   - expect_error: the code of the error the step must fail with
//
// Steps without expect_error must succeed. When check_parent_store lists
// models, their nested-set intervals are verified after every mutating
// step.
//
// # Deterministic Testing
//
// Every scenario runs with a deterministic clock and transaction id, so
// traces are reproducible and can be compared against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/hierarchy.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario, harness.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
