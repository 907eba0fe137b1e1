package gleamy

// Option is the interface for the options of the group.
type Option[K KeyConstraint, V ValueConstraint] interface {
	apply(*Group[K, V])
}

type optionFunc[K KeyConstraint, V ValueConstraint] func(*Group[K, V])

func (f optionFunc[K, V]) apply(g *Group[K, V]) {
	f(g)
}

// WithCloner sets the value cloner of the group. When set, a successful shared
// result is cloned before it is delivered to callers other than the blocking
// executor. The default is no cloning: every caller receives the identical
// value.
func WithCloner[K KeyConstraint, V ValueConstraint](cloner ValueCloner[V]) Option[K, V] {
	return optionFunc[K, V](func(g *Group[K, V]) {
		g.cloner = cloner
	})
}
