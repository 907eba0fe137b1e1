// Package gleamy provides duplicate suppression for function calls that share a key.
//
// This package implements a single flight mechanism to avoid "thundering herd"
// problems when multiple goroutines request the same expensive work simultaneously.
// When multiple concurrent calls for the same key are made, only one of them executes
// the work function, and the result is shared among all callers. Results are not
// retained after the call completes, so the group is a coordination primitive rather
// than a cache.
//
// The Group can be configured with options:
//   - WithCloner: Allows setting a value cloner to use when copying a shared result to multiple callers
//
// For workloads with many hot keys, the shardedgroup subpackage distributes keys
// over several independent groups to reduce lock contention.
package gleamy
