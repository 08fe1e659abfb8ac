// Package harness runs YAML sync scenarios against the real engine.
//
// A scenario declares the source feed, the platforms of one account, the
// store state before the first run, and a sequence of runs. Each run is one
// post pass with the run mode derived from the store, exactly as the daemon
// would do it. Platforms are in-memory fakes that record which posts reached
// the network and which were answered from a stored entry.
//
// # Scenario Format
//
//	name: cutoff_after_two_cached
//	description: "Three cached posts in a row stop the pass after two"
//	config:
//	  max_consecutive_cached: 2
//	platforms:
//	  - id: alpha
//	    fail: ["3"]
//	feed:
//	  - id: "4"
//	    text: "newest"
//	setup:
//	  synced: ["4", "3"]
//	  entries:
//	    - { post: "1", platform: alpha, value: '{"id":"1"}' }
//	runs:
//	  - expect: { pulled: 2, cached: 2, caught_up: true }
//	  - force_resync: true
//	assertions:
//	  - type: posted
//	    platform: alpha
//	    posts: ["1"]
//	  - type: entry
//	    post: "1"
//	    platform: alpha
//	    value: '{"id":"1"}'
//
// # Assertion Types
//
//   - posted: the posts that reached platform's network, in order
//   - entry: the stored value of (post, platform), compared as JSON
//   - no_entry: no value is stored for (post, platform)
//   - synced / not_synced: the synced flag of each listed post
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory store with fixed run ids and
// sequential dispatch, so RunWithGolden snapshots are stable.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/cutoff.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
package harness
