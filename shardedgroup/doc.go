// Package shardedgroup provides a sharded implementation of the gleamy.Registry interface.
//
// The group distributes keys across multiple independent groups for improved performance and
// concurrency under many simultaneously in-flight keys. It supports various configuration
// options like custom key hashing, shard sizing, and value cloning strategies.
//
// Calls for the same key are always routed to the same shard, so duplicate suppression
// behaves exactly like a single group for any given key.
package shardedgroup
