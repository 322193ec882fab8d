// Package broadcast provides type-safe fan-out messaging used to propagate
// flag changes across process instances.
//
// Two transports implement the Broadcaster interface: MemoryBroadcaster for
// a single process, and RedisBroadcaster for a fleet sharing a Redis pub/sub
// channel. Both promise only at-least-once, unordered delivery and drop
// messages for slow consumers; consumers reconcile via periodic resync.
package broadcast
