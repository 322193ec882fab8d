// Package flags is the core of flagkit: durable flag storage, the
// evaluation engine with its precedence chain, and the administrative
// write path with audit history and change propagation.
//
// Evaluation is reliability-first. Evaluate never returns an error and
// never panics: a store outage, a circuit-open rejection, a corrupt
// definition or a misconfigured prerequisite chain all resolve to a
// disabled Result carrying a machine-readable Reason. Identical inputs
// always produce identical outcomes, so a user's feature set is stable
// across requests and across instances.
//
// The precedence chain, highest first: resolution, the global enabled
// switch, the start/end date window, prerequisites, per-subject
// overrides, targeting rules, the percentage rollout, and the typed
// default value.
//
// Writes go through Service, which records exactly one history entry and
// publishes exactly one change message per operation. Evaluator instances
// apply change messages as they arrive and fully resync on an interval,
// so propagation gaps heal within one resync period.
package flags
