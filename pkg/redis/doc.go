// Package redis provides connection helpers for the Redis instance backing
// the shared flag cache tier and cross-instance change propagation.
package redis
