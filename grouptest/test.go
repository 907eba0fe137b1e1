// grouptest package provides generic test cases for call deduplication group implementations.
package grouptest

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/binc4t/gleamy"
)

// BenchmarkDo benchmarks the Do method of the group.
func BenchmarkDo[K gleamy.KeyConstraint, V gleamy.ValueConstraint](b *testing.B, group gleamy.Registry[K, V], keys []K) {
	var zero V
	fn := func() (V, error) { return zero, nil }
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		group.Do(keys[i%len(keys)], fn)
	}
}

type TestClonerStruct struct {
	value int8
}

func (s *TestClonerStruct) Clone() *TestClonerStruct {
	return &TestClonerStruct{value: s.value}
}

// TestClonedDelivery tests the cloning behavior for shared results.
func TestClonedDelivery(t *testing.T, provider func() (gleamy.Registry[uint8, *TestClonerStruct], func())) {
	t.Run("ClonedDelivery", func(t *testing.T) {
		t.Parallel()

		group, release := provider()
		defer release()

		original := &TestClonerStruct{value: 1}
		started := make(chan struct{})
		releaseWork := make(chan struct{})

		var wg sync.WaitGroup
		var executorGot *TestClonerStruct
		wg.Add(1)
		go func() {
			defer wg.Done()
			executorGot, _, _ = group.Do(1, func() (*TestClonerStruct, error) {
				close(started)
				<-releaseWork
				return original, nil
			})
		}()
		<-started

		waiter := group.DoChan(1, func() (*TestClonerStruct, error) { return nil, nil })
		close(releaseWork)
		wg.Wait()

		// The executing caller receives the original value as-is.
		if executorGot != original {
			t.Error("expected the executing caller to receive the original value")
		}

		got := <-waiter
		if got.Err != nil {
			t.Fatal(got.Err)
		}
		if got.Val == original {
			t.Error("struct must be cloned, but got same that")
		}
		if df := cmp.Diff(original, got.Val, cmp.AllowUnexported(TestClonerStruct{})); df != "" {
			t.Errorf("struct diff=%s", df)
		}
	})
}

// TestDeduplication tests that concurrent calls for one key share a single execution.
func TestDeduplication(t *testing.T, provider func() (gleamy.Registry[uint8, int8], func())) {
	t.Run("Deduplication", func(t *testing.T) {
		t.Parallel()

		group, release := provider()
		defer release()

		var callCount uint32
		fn := func() (int8, error) {
			time.Sleep(100 * time.Millisecond)
			atomic.AddUint32(&callCount, 1)
			return 42, nil
		}

		var exec sync.WaitGroup
		const numGoroutines = 50
		results := make([]int8, numGoroutines)
		shared := make([]bool, numGoroutines)
		exec.Add(1)
		var eg errgroup.Group
		for i := 0; i < numGoroutines; i++ {
			i := i
			eg.Go(func() error {
				exec.Wait()
				v, err, s := group.Do(1, fn)
				if err != nil {
					return err
				}
				results[i] = v
				shared[i] = s
				return nil
			})
		}

		// Give enough time for all goroutines to reach the exec.Wait()
		time.Sleep(300 * time.Millisecond)
		exec.Done()
		if err := eg.Wait(); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < numGoroutines; i++ {
			if results[i] != 42 {
				t.Errorf("unexpected value for goroutine %d: %d (expected: 42)", i, results[i])
			}
			if !shared[i] {
				t.Errorf("expected goroutine %d to share the result", i)
			}
		}
		if callCount != 1 {
			t.Errorf("expected the function to be called once, but it was called %d times", callCount)
		}
		if got := group.Len(); got != 0 {
			t.Errorf("expected no in-flight keys after the calls, got %d", got)
		}
	})
}

// TestDistinctKeys tests that calls for distinct keys do not share executions
// and do not block each other.
func TestDistinctKeys(t *testing.T, provider func() (gleamy.Registry[uint8, int8], func())) {
	t.Run("DistinctKeys", func(t *testing.T) {
		t.Parallel()

		t.Run("EachKeyExecutes", func(t *testing.T) {
			t.Parallel()

			group, release := provider()
			defer release()

			keys := []uint8{0, 1, 2, 3, 4, 251, 252, 253, 254, 255}
			var callCount uint32
			var exec sync.WaitGroup
			exec.Add(len(keys))

			results := make([]int8, len(keys))
			var eg errgroup.Group
			for i, key := range keys {
				i, key := i, key
				eg.Go(func() error {
					exec.Done()
					v, err, s := group.Do(key, func() (int8, error) {
						exec.Wait()
						atomic.AddUint32(&callCount, 1)
						return int8(i), nil
					})
					if err != nil {
						return err
					}
					if s {
						return fmt.Errorf("unexpected shared result for key %d", key)
					}
					results[i] = v
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				t.Fatal(err)
			}

			for i, key := range keys {
				if results[i] != int8(i) {
					t.Errorf("unexpected value for key %d: %d (expected: %d)", key, results[i], i)
				}
			}
			if callCount != uint32(len(keys)) {
				t.Errorf("expected the function to be called %d times, but it was called %d times", len(keys), callCount)
			}
			if got := group.Len(); got != 0 {
				t.Errorf("expected no in-flight keys after the calls, got %d", got)
			}
		})

		t.Run("SlowKeyDoesNotBlockOthers", func(t *testing.T) {
			t.Parallel()

			group, release := provider()
			defer release()

			fastDone := make(chan struct{})
			var eg errgroup.Group
			eg.Go(func() error {
				v, err, _ := group.Do(1, func() (int8, error) {
					// Returns only after the call for the other key completed.
					<-fastDone
					return 1, nil
				})
				if err != nil {
					return err
				}
				if v != 1 {
					return fmt.Errorf("unexpected value: %d (expected: 1)", v)
				}
				return nil
			})

			v, err, _ := group.Do(2, func() (int8, error) { return 2, nil })
			if err != nil {
				t.Fatal(err)
			}
			if v != 2 {
				t.Errorf("unexpected value: %d (expected: 2)", v)
			}

			close(fastDone)
			if err := eg.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	})
}

// TestErrorPropagation tests that a failure is delivered to every caller of the
// shared execution and is not retained afterwards.
func TestErrorPropagation(t *testing.T, provider func() (gleamy.Registry[uint8, int8], func())) {
	t.Run("ErrorPropagation", func(t *testing.T) {
		t.Parallel()

		group, release := provider()
		defer release()

		workErr := errors.New("work error")
		var callCount uint32
		fn := func() (int8, error) {
			time.Sleep(100 * time.Millisecond)
			atomic.AddUint32(&callCount, 1)
			return 0, workErr
		}

		var exec sync.WaitGroup
		var wg sync.WaitGroup
		const numGoroutines = 10
		errs := make([]error, numGoroutines)
		exec.Add(1)
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(index int) {
				defer wg.Done()
				exec.Wait()
				_, errs[index], _ = group.Do(7, fn)
			}(i)
		}

		// Give enough time for all goroutines to reach the exec.Wait()
		time.Sleep(300 * time.Millisecond)
		exec.Done()
		wg.Wait()

		for i := 0; i < numGoroutines; i++ {
			if !errors.Is(errs[i], workErr) {
				t.Errorf("unexpected error for goroutine %d: %v (expected: %v)", i, errs[i], workErr)
			}
		}
		if callCount != 1 {
			t.Errorf("expected the function to be called once, but it was called %d times", callCount)
		}
		if got := group.Len(); got != 0 {
			t.Errorf("expected no in-flight keys after the calls, got %d", got)
		}

		// The failure is not retained: the next call executes again.
		v, err, _ := group.Do(7, func() (int8, error) { return 42, nil })
		if err != nil {
			t.Fatal(err)
		}
		if v != 42 {
			t.Errorf("unexpected value: %d (expected: 42)", v)
		}
	})
}

// TestForget tests the eviction of in-flight calls.
func TestForget(t *testing.T, provider func() (gleamy.Registry[uint8, int8], func())) {
	t.Run("Forget", func(t *testing.T) {
		t.Parallel()

		t.Run("IdleKey", func(t *testing.T) {
			t.Parallel()

			group, release := provider()
			defer release()

			group.Forget(1)
			if got := group.Len(); got != 0 {
				t.Errorf("expected no in-flight keys, got %d", got)
			}

			v, err, _ := group.Do(1, func() (int8, error) { return 1, nil })
			if err != nil {
				t.Fatal(err)
			}
			if v != 1 {
				t.Errorf("unexpected value: %d (expected: 1)", v)
			}
		})

		t.Run("InFlight", func(t *testing.T) {
			t.Parallel()

			group, release := provider()
			defer release()

			started := make(chan struct{})
			releaseWork := make(chan struct{})

			var wg sync.WaitGroup
			var oldV int8
			var oldErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				oldV, oldErr, _ = group.Do(1, func() (int8, error) {
					close(started)
					<-releaseWork
					return 1, nil
				})
			}()
			<-started

			// Attach a waiter to the call in flight, then forget the key.
			waiter := group.DoChan(1, func() (int8, error) { return 0, nil })
			group.Forget(1)

			// A caller arriving after the forget starts a fresh execution
			// instead of attaching to the old one, which is still in flight.
			newV, err, shared := group.Do(1, func() (int8, error) { return 2, nil })
			if err != nil {
				t.Fatal(err)
			}
			if newV != 2 {
				t.Errorf("unexpected value: %d (expected: 2)", newV)
			}
			if shared {
				t.Error("expected the fresh execution not to share the result")
			}

			// Callers attached before the forget still receive the outcome of
			// the old execution.
			close(releaseWork)
			wg.Wait()
			if oldErr != nil {
				t.Errorf("unexpected error: %v", oldErr)
			}
			if oldV != 1 {
				t.Errorf("unexpected value: %d (expected: 1)", oldV)
			}
			if r := <-waiter; r.Err != nil || r.Val != 1 {
				t.Errorf("unexpected waiter result: %+v (expected value: 1)", r)
			}
			if got := group.Len(); got != 0 {
				t.Errorf("expected no in-flight keys after the calls, got %d", got)
			}
		})
	})
}

// TestForgetUnshared tests the eviction of in-flight calls that have no other caller attached.
func TestForgetUnshared(t *testing.T, provider func() (gleamy.Registry[uint8, int8], func())) {
	t.Run("ForgetUnshared", func(t *testing.T) {
		t.Parallel()

		t.Run("IdleKey", func(t *testing.T) {
			t.Parallel()

			group, release := provider()
			defer release()

			if !group.ForgetUnshared(1) {
				t.Error("expected an idle key to be reported as unclaimed")
			}
		})

		t.Run("UnsharedCall", func(t *testing.T) {
			t.Parallel()

			group, release := provider()
			defer release()

			started := make(chan struct{})
			releaseWork := make(chan struct{})

			var wg sync.WaitGroup
			var oldV int8
			var oldErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				oldV, oldErr, _ = group.Do(1, func() (int8, error) {
					close(started)
					<-releaseWork
					return 1, nil
				})
			}()
			<-started

			if !group.ForgetUnshared(1) {
				t.Error("expected an unshared call to be forgotten")
			}

			// The next caller starts a fresh execution while the old one is
			// still in flight.
			newV, err, _ := group.Do(1, func() (int8, error) { return 2, nil })
			if err != nil {
				t.Fatal(err)
			}
			if newV != 2 {
				t.Errorf("unexpected value: %d (expected: 2)", newV)
			}

			close(releaseWork)
			wg.Wait()
			if oldErr != nil {
				t.Errorf("unexpected error: %v", oldErr)
			}
			if oldV != 1 {
				t.Errorf("unexpected value: %d (expected: 1)", oldV)
			}
		})

		t.Run("SharedCall", func(t *testing.T) {
			t.Parallel()

			group, release := provider()
			defer release()

			started := make(chan struct{})
			releaseWork := make(chan struct{})

			var callCount uint32
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				group.Do(1, func() (int8, error) {
					close(started)
					<-releaseWork
					atomic.AddUint32(&callCount, 1)
					return 1, nil
				})
			}()
			<-started

			waiter := group.DoChan(1, func() (int8, error) { return 0, nil })
			if group.ForgetUnshared(1) {
				t.Error("expected a shared call not to be forgotten")
			}

			// The key stays claimed: later callers still attach to the call
			// in flight instead of executing.
			second := group.DoChan(1, func() (int8, error) { return 0, nil })

			close(releaseWork)
			wg.Wait()
			for i, ch := range []<-chan gleamy.Result[int8]{waiter, second} {
				r := <-ch
				if r.Err != nil {
					t.Errorf("unexpected error for waiter %d: %v", i, r.Err)
				}
				if r.Val != 1 {
					t.Errorf("unexpected value for waiter %d: %d (expected: 1)", i, r.Val)
				}
				if !r.Shared {
					t.Errorf("expected waiter %d to share the result", i)
				}
			}
			if callCount != 1 {
				t.Errorf("expected the function to be called once, but it was called %d times", callCount)
			}
		})
	})
}

// TestPanicContainment tests that a panicking execution is contained: the
// executing caller re-panics, attached callers receive the panic as an error,
// and the group stays usable.
func TestPanicContainment(t *testing.T, provider func() (gleamy.Registry[uint8, int8], func())) {
	t.Run("PanicContainment", func(t *testing.T) {
		t.Parallel()

		group, release := provider()
		defer release()

		panicErr := errors.New("work exploded")
		started := make(chan struct{})
		releaseWork := make(chan struct{})

		var wg sync.WaitGroup
		var recovered any
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { recovered = recover() }()
			group.Do(3, func() (int8, error) {
				close(started)
				<-releaseWork
				panic(panicErr)
			})
		}()
		<-started

		// Attach waiters to the call in flight before it blows up.
		first := group.DoChan(3, func() (int8, error) { return 0, nil })
		second := group.DoChan(3, func() (int8, error) { return 0, nil })
		close(releaseWork)
		wg.Wait()

		if recovered == nil {
			t.Fatal("expected the executing caller to re-panic")
		}
		rec, ok := recovered.(*panics.Recovered)
		if !ok {
			t.Fatalf("unexpected panic value type: %T", recovered)
		}
		if rec.Value != panicErr {
			t.Errorf("unexpected panic value: %v (expected: %v)", rec.Value, panicErr)
		}

		for i, ch := range []<-chan gleamy.Result[int8]{first, second} {
			r := <-ch
			var recoveredErr *panics.ErrRecovered
			if !errors.As(r.Err, &recoveredErr) {
				t.Errorf("expected waiter %d to receive a recovered panic error, got: %v", i, r.Err)
				continue
			}
			if recoveredErr.Value != panicErr {
				t.Errorf("unexpected panic value for waiter %d: %v (expected: %v)", i, recoveredErr.Value, panicErr)
			}
		}

		if got := group.Len(); got != 0 {
			t.Errorf("expected no in-flight keys after the failure, got %d", got)
		}

		// The key is usable again after the failure.
		v, err, _ := group.Do(3, func() (int8, error) { return 42, nil })
		if err != nil {
			t.Fatal(err)
		}
		if v != 42 {
			t.Errorf("unexpected value: %d (expected: 42)", v)
		}
	})
}

// TestNonBlocking tests the channel-based variant of Do.
func TestNonBlocking(t *testing.T, provider func() (gleamy.Registry[uint8, int8], func())) {
	t.Run("NonBlocking", func(t *testing.T) {
		t.Parallel()

		group, release := provider()
		defer release()

		releaseWork := make(chan struct{})
		ch := group.DoChan(5, func() (int8, error) {
			<-releaseWork
			return 5, nil
		})

		// The handle is pending while the work is still in flight.
		select {
		case r := <-ch:
			t.Fatalf("unexpected early result: %+v", r)
		default:
		}
		if got := group.Len(); got != 1 {
			t.Errorf("expected one in-flight key, got %d", got)
		}

		close(releaseWork)
		r := <-ch
		if r.Err != nil {
			t.Fatal(r.Err)
		}
		if r.Val != 5 {
			t.Errorf("unexpected value: %d (expected: 5)", r.Val)
		}
		if r.Shared {
			t.Error("expected a single caller not to share the result")
		}
		if got := group.Len(); got != 0 {
			t.Errorf("expected no in-flight keys after the call, got %d", got)
		}
	})
}

// TestNoResidualEntries tests that completed calls leave nothing behind,
// whether they succeed or fail.
func TestNoResidualEntries(t *testing.T, provider func() (gleamy.Registry[uint8, int8], func())) {
	t.Run("NoResidualEntries", func(t *testing.T) {
		t.Parallel()

		group, release := provider()
		defer release()

		keys := []uint8{0, 1, 2, 3, 4, 251, 252, 253, 254, 255}
		rand.Shuffle(len(keys), func(i, j int) {
			keys[i], keys[j] = keys[j], keys[i]
		})

		workErr := errors.New("work error")
		var eg errgroup.Group
		for _, key := range keys {
			key := key
			eg.Go(func() error {
				for i := 0; i < 10; i++ {
					v, err, _ := group.Do(key, func() (int8, error) { return int8(key), nil })
					if err != nil {
						return err
					}
					if v != int8(key) {
						return fmt.Errorf("unexpected value for key %d: %d", key, v)
					}
					if _, err, _ := group.Do(key, func() (int8, error) { return 0, workErr }); !errors.Is(err, workErr) {
						return fmt.Errorf("unexpected error for key %d: %v", key, err)
					}
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatal(err)
		}
		if got := group.Len(); got != 0 {
			t.Errorf("expected no in-flight keys after the calls, got %d", got)
		}
	})
}
