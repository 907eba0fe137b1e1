package gleamy

// KeyConstraint is an interface for key constraints.
type KeyConstraint interface {
	comparable
}

// ValueConstraint is an interface for value constraints.
type ValueConstraint interface {
	any
}

// Registry is an interface for a registry of in-flight calls with duplicate
// suppression. Implementations must be thread-safe.
type Registry[K KeyConstraint, V ValueConstraint] interface {
	// Do executes and returns the results of the given function, making sure
	// that only one execution is in-flight for a given key at a time.
	// The return value shared indicates whether v was given to multiple callers.
	Do(key K, fn func() (V, error)) (v V, err error, shared bool)

	// DoChan is like Do but returns a channel that will receive the result
	// when it is ready. Each call gets its own channel, resolved exactly once.
	DoChan(key K, fn func() (V, error)) <-chan Result[V]

	// Forget tells the registry to forget about a key. Future calls to Do for
	// this key will call the function rather than waiting for an earlier call
	// to complete.
	Forget(key K)

	// ForgetUnshared is like Forget, but only if no other caller is attached
	// to the in-flight call. It reports whether the key is now unclaimed.
	ForgetUnshared(key K) bool

	// Len reports the number of currently registered keys.
	Len() int
}
