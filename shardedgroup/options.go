package shardedgroup

import (
	"github.com/binc4t/gleamy"
)

// DefaultShards is the default number of shards in the group.
var DefaultShards = 32

// Option is the interface for the options of the sharded group.
type Option[K gleamy.KeyConstraint, V gleamy.ValueConstraint] interface {
	apply(*options[K, V])
}

type optionFunc[K gleamy.KeyConstraint, V gleamy.ValueConstraint] func(*options[K, V])

func (f optionFunc[K, V]) apply(o *options[K, V]) {
	f(o)
}

// WithKeyHash sets the key hash function to the group.
// Keys of kinds the default hash does not support need one.
func WithKeyHash[K gleamy.KeyConstraint, V gleamy.ValueConstraint](f func(K) uint64) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.hashKey = f
	})
}

// WithShards sets the number of shards in the group.
// The number of shards must be a natural number.
func WithShards[K gleamy.KeyConstraint, V gleamy.ValueConstraint](shards int) Option[K, V] {
	if shards <= 0 {
		panic("shards must be natural number")
	}
	return optionFunc[K, V](func(o *options[K, V]) {
		o.shards = shards
	})
}

// WithCloner sets the value cloner to every shard of the group.
func WithCloner[K gleamy.KeyConstraint, V gleamy.ValueConstraint](cloner gleamy.ValueCloner[V]) Option[K, V] {
	return optionFunc[K, V](func(o *options[K, V]) {
		o.cloner = cloner
	})
}

type options[K gleamy.KeyConstraint, V gleamy.ValueConstraint] struct {
	hashKey func(K) uint64
	shards  int
	cloner  gleamy.ValueCloner[V]
}

func defaultOptions[K gleamy.KeyConstraint, V gleamy.ValueConstraint]() options[K, V] {
	return options[K, V]{
		shards: DefaultShards,
	}
}
