package gleamy

import (
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/binc4t/gleamy/internal/panicutil"
)

// Result holds the results of Do, so they can be passed on a channel.
type Result[V ValueConstraint] struct {
	Val    V
	Err    error
	Shared bool
}

// call is an in-flight or completed call for one key.
type call[V ValueConstraint] struct {
	// done is closed exactly once, after val, err, panicked and goexit are
	// settled. Waiters observe completion by receiving from it, before or
	// after the fact, without consuming it.
	done chan struct{}

	// val and err are written by the executor before done is closed and read
	// by waiters only after done is closed.
	val V
	err error

	// panicked holds the captured panic when the work function panicked
	// instead of returning. The blocking executor re-raises it to its own
	// caller once the call has been finished and cleaned up.
	panicked *panics.Recovered

	// goexit records that the work function terminated by calling
	// runtime.Goexit. Waiters test this field, not err: ErrGoexit is
	// exported, and a work function returning it is just a failed call.
	goexit bool

	// The fields below are guarded by the group mutex.

	// waiters counts the callers sharing this call, the executor included.
	waiters int

	// forgotten reports that Forget removed this call's registration while it
	// was still in flight, so cleanup must leave the map alone: the entry for
	// the key may already belong to a newer call.
	forgotten bool

	// chans holds the per-caller delivery channels handed out by DoChan.
	chans []chan<- Result[V]
}

func newCall[V ValueConstraint]() *call[V] {
	return &call[V]{
		done:    make(chan struct{}),
		waiters: 1,
	}
}

// Group deduplicates function calls by key: for each key at most one work
// function is executing at any time, and every caller that arrives while it
// runs receives the outcome of that single execution. Results are not
// retained, so a call that arrives after the execution completed starts a
// fresh one.
//
// The zero value is ready to use.
type Group[K KeyConstraint, V ValueConstraint] struct {
	mu     sync.Mutex
	m      map[K]*call[V] // lazily initialized
	cloner ValueCloner[V]
}

var _ Registry[uint8, struct{}] = (*Group[uint8, struct{}])(nil)

// NewGroup creates a group with the given options.
func NewGroup[K KeyConstraint, V ValueConstraint](opts ...Option[K, V]) *Group[K, V] {
	g := &Group[K, V]{}
	for _, opt := range opts {
		opt.apply(g)
	}
	return g
}

// Do executes and returns the results of the given function, making sure that
// only one execution is in-flight for a given key at a time. If a duplicate
// comes in, the duplicate caller waits for the original to complete and
// receives the same results. The return value shared indicates whether v was
// given to multiple callers.
//
// If fn panics, the panic is captured and delivered to every other caller as
// a *panics.ErrRecovered error, and re-raised to the executing caller after
// the key has been cleaned up. If fn calls runtime.Goexit, waiting callers
// follow it with a runtime.Goexit of their own.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.waiters++
		g.mu.Unlock()
		<-c.done

		if c.goexit {
			runtime.Goexit()
		}
		if c.err != nil {
			return c.val, c.err, true
		}
		return g.cloneValue(c.val), nil, true
	}
	c := newCall[V]()
	g.m[key] = c
	g.mu.Unlock()

	g.doCall(c, key, fn)
	if c.panicked != nil {
		panic(c.panicked)
	}
	return c.val, c.err, c.waiters > 1
}

// DoChan is like Do but returns a channel that will receive the result when it
// is ready. Every call gets its own channel with a buffer of one, resolved
// exactly once; the channel is not closed. Callers that need a bounded wait
// can race the channel against their own timeout or context: giving up on the
// channel does not cancel the execution, which still completes and is
// delivered to any other caller.
//
// If fn panics or calls runtime.Goexit, the fault is delivered through the
// channel as the Result error, so no caller is left waiting.
func (g *Group[K, V]) DoChan(key K, fn func() (V, error)) <-chan Result[V] {
	ch := make(chan Result[V], 1)
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.waiters++
		c.chans = append(c.chans, ch)
		g.mu.Unlock()
		return ch
	}
	c := newCall[V]()
	c.chans = append(c.chans, ch)
	g.m[key] = c
	g.mu.Unlock()

	go g.doCall(c, key, fn)
	return ch
}

// Forget tells the group to forget about a key. Future calls to Do for this
// key will call the function rather than waiting for an earlier call to
// complete. Waiters already attached to the in-flight call are unaffected and
// still receive its outcome. Forgetting an idle key is a no-op.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		c.forgotten = true
	}
	delete(g.m, key)
}

// ForgetUnshared tells the group to forget about a key unless another caller
// is attached to its in-flight call. It reports whether the key is now
// unclaimed: true when nothing was in flight or an unshared call was
// forgotten, false when the in-flight call is shared.
func (g *Group[K, V]) ForgetUnshared(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.m[key]
	if !ok {
		return true
	}
	if c.waiters == 1 {
		c.forgotten = true
		delete(g.m, key)
		return true
	}
	return false
}

// Len reports the number of currently registered keys. Calls forgotten while
// in flight keep executing but are not counted.
func (g *Group[K, V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

// doCall handles the single call for a key. It runs fn inside an execution
// boundary that guarantees the call is finished on every exit path: a normal
// return, a panic, or runtime.Goexit.
func (g *Group[K, V]) doCall(c *call[V], key K, fn func() (V, error)) {
	boundary := panicutil.Boundary{
		OnGoexit: func() {
			c.goexit = true
			c.err = ErrGoexit
			g.finish(c, key)
		},
	}
	err, panicked := boundary.Invoke(func() (err error) {
		c.val, err = fn()
		return
	})
	c.err = err
	c.panicked = panicked
	g.finish(c, key)
}

// finish publishes the call outcome: it wakes every waiter, removes the key
// from the map unless the call was forgotten, and feeds the DoChan channels.
func (g *Group[K, V]) finish(c *call[V], key K) {
	close(c.done)

	g.mu.Lock()
	defer g.mu.Unlock()
	if !c.forgotten {
		delete(g.m, key)
	}
	shared := c.waiters > 1
	for _, ch := range c.chans {
		r := Result[V]{Val: c.val, Err: c.err, Shared: shared}
		if c.err == nil {
			r.Val = g.cloneValue(c.val)
		}
		ch <- r
	}
}

func (g *Group[K, V]) cloneValue(v V) V {
	if g.cloner == nil {
		return v
	}
	return g.cloner.CloneValue(v)
}
