// Package bucketing provides deterministic hash-based bucket assignment for
// percentage rollouts.
//
// An identifier (user ID, session ID) is mapped to a stable bucket in [1, 100]
// using a seeded 128-bit digest. The mapping has no randomness: the same
// (identifier, seed) pair always lands in the same bucket, across calls and
// across process restarts, so a user who is inside a 20% rollout stays inside
// it as the percentage grows.
//
// Usage:
//
//	if bucketing.InRollout(userID, flagKey, flag.RolloutPercentage) {
//		// feature is on for this user
//	}
package bucketing
