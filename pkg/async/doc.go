// Package async provides a small Future abstraction for fan-out work, used
// by batched flag evaluation to evaluate many keys concurrently with
// per-key isolation.
package async
