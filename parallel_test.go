package gleamy_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/binc4t/gleamy"
)

func TestDo_Parallel(t *testing.T) {
	t.Parallel()

	var g gleamy.Group[string, string]

	var callCount uint32
	fn := func() (string, error) {
		time.Sleep(100 * time.Millisecond)
		atomic.AddUint32(&callCount, 1)
		return "testValue", nil
	}

	var exec sync.WaitGroup
	var wg sync.WaitGroup
	const numGoroutines = 50
	results := make([]string, numGoroutines)
	errors := make([]error, numGoroutines)
	shared := make([]bool, numGoroutines)
	exec.Add(1)
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(index int) {
			defer wg.Done()
			exec.Wait()
			results[index], errors[index], shared[index] = g.Do("key", fn)
		}(i)
	}

	// Give enough time for all goroutines to reach the exec.Wait()
	time.Sleep(300 * time.Millisecond)
	exec.Done()
	wg.Wait()

	for i := 0; i < numGoroutines; i++ {
		if errors[i] != nil {
			t.Errorf("unexpected error: %v", errors[i])
		}
		if results[i] != "testValue" {
			t.Errorf("unexpected value: %v (expected: testValue)", results[i])
		}
		if !shared[i] {
			t.Errorf("expected goroutine %d to share the result", i)
		}
	}

	if callCount != 1 {
		t.Errorf("expected the function to be called once, but it was called %d times", callCount)
	}
	if got := g.Len(); got != 0 {
		t.Errorf("expected no in-flight keys after the calls, got %d", got)
	}
}

func TestDo_Parallel_EachKey(t *testing.T) {
	t.Parallel()

	var g gleamy.Group[int, string]

	var exec sync.WaitGroup
	var callCount uint32

	var wg sync.WaitGroup
	const numGoroutines = 3
	results := make([]string, numGoroutines)
	errors := make([]error, numGoroutines)
	shared := make([]bool, numGoroutines)
	exec.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			exec.Done()
			results[index], errors[index], shared[index] = g.Do(index, func() (string, error) {
				exec.Wait()
				atomic.AddUint32(&callCount, 1)
				return "testValue", nil
			})
		}(i)
	}

	wg.Wait()

	for i := 0; i < numGoroutines; i++ {
		if errors[i] != nil {
			t.Errorf("unexpected error: %v", errors[i])
		}
		if results[i] != "testValue" {
			t.Errorf("unexpected value: %v (expected: testValue)", results[i])
		}
		if shared[i] {
			t.Errorf("expected goroutine %d not to share the result", i)
		}
	}

	if callCount != numGoroutines {
		t.Errorf("expected the function to be called %d times, but it was called %d times", numGoroutines, callCount)
	}
}

func TestDo_Parallel_ClonedSharedResult(t *testing.T) {
	t.Parallel()

	g := gleamy.NewGroup[string, *TestClonerStruct](
		gleamy.WithCloner[string](gleamy.DefaultValueCloner[*TestClonerStruct]()),
	)

	original := &TestClonerStruct{Value: 42}
	var callCount uint32
	fn := func() (*TestClonerStruct, error) {
		time.Sleep(100 * time.Millisecond)
		atomic.AddUint32(&callCount, 1)
		return original, nil
	}

	var exec sync.WaitGroup
	var wg sync.WaitGroup
	const numGoroutines = 3
	results := make([]*TestClonerStruct, numGoroutines)
	errors := make([]error, numGoroutines)
	exec.Add(1)
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(index int) {
			defer wg.Done()
			exec.Wait()
			results[index], errors[index], _ = g.Do("key", fn)
		}(i)
	}

	// Give enough time for all goroutines to reach the exec.Wait()
	time.Sleep(300 * time.Millisecond)
	exec.Done()
	wg.Wait()

	if callCount != 1 {
		t.Errorf("expected the function to be called once, but it was called %d times", callCount)
	}

	originals := 0
	for i := 0; i < numGoroutines; i++ {
		if errors[i] != nil {
			t.Errorf("unexpected error: %v", errors[i])
		}
		if results[i] == original {
			originals++
			continue
		}
		if diff := cmp.Diff(original, results[i]); diff != "" {
			t.Errorf("unexpected value for goroutine %d (-want +got):\n%s", i, diff)
		}
	}

	// Only the executing caller receives the original value, every attached
	// caller gets its own clone.
	if originals != 1 {
		t.Errorf("expected exactly one caller to receive the original value, got %d", originals)
	}
}

func TestDo_IndependentKeys(t *testing.T) {
	t.Parallel()

	var g gleamy.Group[string, int]

	slowDone := make(chan struct{})
	var wg sync.WaitGroup
	var slowV int
	var slowErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		slowV, slowErr, _ = g.Do("slow", func() (int, error) {
			// Returns only after the call for the other key completed, so a
			// slow key must not block an unrelated one.
			<-slowDone
			return 1, nil
		})
	}()

	fastV, fastErr, _ := g.Do("fast", func() (int, error) { return 2, nil })
	close(slowDone)
	wg.Wait()

	if fastErr != nil {
		t.Errorf("unexpected error: %v", fastErr)
	}
	if fastV != 2 {
		t.Errorf("unexpected value: %d (expected: 2)", fastV)
	}
	if slowErr != nil {
		t.Errorf("unexpected error: %v", slowErr)
	}
	if slowV != 1 {
		t.Errorf("unexpected value: %d (expected: 1)", slowV)
	}
}

func TestDoChan_Parallel(t *testing.T) {
	t.Parallel()

	var g gleamy.Group[string, int]

	var callCount uint32
	release := make(chan struct{})
	fn := func() (int, error) {
		<-release
		atomic.AddUint32(&callCount, 1)
		return 42, nil
	}

	const numGoroutines = 10
	channels := make([]<-chan gleamy.Result[int], numGoroutines)
	for i := range channels {
		channels[i] = g.DoChan("key", fn)
	}
	close(release)

	for i, ch := range channels {
		r := <-ch
		if r.Err != nil {
			t.Errorf("unexpected error: %v", r.Err)
		}
		if r.Val != 42 {
			t.Errorf("unexpected value for goroutine %d: %d (expected: 42)", i, r.Val)
		}
		if !r.Shared {
			t.Errorf("expected goroutine %d to share the result", i)
		}
	}

	if callCount != 1 {
		t.Errorf("expected the function to be called once, but it was called %d times", callCount)
	}
	if got := g.Len(); got != 0 {
		t.Errorf("expected no in-flight keys after the calls, got %d", got)
	}
}
