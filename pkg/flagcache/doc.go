// Package flagcache provides the two-tier cache used by flag evaluation:
// a bounded in-process tier with lazy TTL expiry, optionally backed by a
// shared Redis tier so a fleet of processes converges on the same cached
// flag state.
//
// The cache is deliberately forgiving: shared-tier failures never propagate
// to the caller, they degrade to a miss and a warning log. The in-process
// tier is bounded by entry count and evicts the oldest-inserted entry on
// overflow rather than maintaining strict LRU order.
package flagcache
