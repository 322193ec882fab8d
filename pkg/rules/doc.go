// Package rules implements the targeting-rule evaluation engine for feature
// flags.
//
// A Rule is a single predicate over an evaluation Context: attribute
// comparison, date/time window, geography, device class, dotted version
// compare, percentage bucket, or a named custom predicate. Rules are pure
// and perform no I/O; anything that needs a lookup (geo location, parsed
// user agent data beyond what the engine derives itself) is resolved into
// the Context before evaluation starts.
//
// Rule lists are evaluated left to right with short-circuit semantics: the
// first unconditioned match wins, "and" rules can veto, "or" rules can pass
// early, and "not" rules invert into a veto. An empty list matches every
// context. See Engine.EvaluateAll.
//
// Evaluation is fail-closed per rule: a malformed rule (bad regex, invalid
// timestamp, unknown operator) evaluates to false with a warning log, and
// never takes down the rest of the flag.
//
// Custom rules reference predicates by name in a registry populated at
// startup via Engine.RegisterPredicate or the WithPredicate option. Rule
// data is configuration, never code.
package rules
