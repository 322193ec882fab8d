// Package breaker implements a per-key circuit breaker.
//
// Each key (a flag key, in this module) carries its own failure counter.
// After a configurable number of consecutive failures the circuit opens and
// callers are rejected immediately, without touching the failing dependency.
// Once a cooldown has elapsed a single probe call is admitted (half-open);
// its success closes the circuit, its failure re-opens it with a fresh
// cooldown.
//
// The caller drives the breaker explicitly:
//
//	if !b.Allow(key) {
//		return fallback
//	}
//	if err := callStore(); err != nil {
//		b.Failure(key)
//		return fallback
//	}
//	b.Success(key)
package breaker
