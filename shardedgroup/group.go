package shardedgroup

import (
	"github.com/binc4t/gleamy"
	"github.com/binc4t/gleamy/internal/keyhash"
)

type group[K gleamy.KeyConstraint, V gleamy.ValueConstraint] struct {
	shards  []*gleamy.Group[K, V]
	hashKey func(K) uint64
}

// New creates a sharded call deduplication group.
// The group distributes keys across multiple independent groups for improved
// performance under many simultaneously in-flight keys. Calls for one key are
// always routed to the same shard, so the deduplication guarantees hold per
// key exactly as they do for a single group.
func New[K gleamy.KeyConstraint, V gleamy.ValueConstraint](opts ...Option[K, V]) gleamy.Registry[K, V] {
	options := defaultOptions[K, V]()
	for _, opt := range opts {
		opt.apply(&options)
	}

	var groupOpts []gleamy.Option[K, V]
	if options.cloner != nil {
		groupOpts = append(groupOpts, gleamy.WithCloner[K, V](options.cloner))
	}
	if options.shards == 1 {
		return gleamy.NewGroup[K, V](groupOpts...)
	}

	hashKey := options.hashKey
	if hashKey == nil {
		// The default hash panics for key kinds it cannot hash, so resolve it
		// only when no custom hash is given.
		hashKey = keyhash.For[K]()
	}

	shards := make([]*gleamy.Group[K, V], options.shards)
	for i := range shards {
		shards[i] = gleamy.NewGroup[K, V](groupOpts...)
	}

	return &group[K, V]{
		shards:  shards,
		hashKey: hashKey,
	}
}

var _ gleamy.Registry[uint8, struct{}] = (*group[uint8, struct{}])(nil)

// resolveShard returns the shard that corresponds to the given key.
func (g *group[K, V]) resolveShard(key K) *gleamy.Group[K, V] {
	return g.shards[g.hashKey(key)%uint64(len(g.shards))]
}

func (g *group[K, V]) Do(key K, fn func() (V, error)) (V, error, bool) {
	return g.resolveShard(key).Do(key, fn)
}

func (g *group[K, V]) DoChan(key K, fn func() (V, error)) <-chan gleamy.Result[V] {
	return g.resolveShard(key).DoChan(key, fn)
}

func (g *group[K, V]) Forget(key K) {
	g.resolveShard(key).Forget(key)
}

func (g *group[K, V]) ForgetUnshared(key K) bool {
	return g.resolveShard(key).ForgetUnshared(key)
}

func (g *group[K, V]) Len() int {
	var n int
	for _, shard := range g.shards {
		n += shard.Len()
	}
	return n
}
