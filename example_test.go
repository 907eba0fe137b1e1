package gleamy_test

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/binc4t/gleamy"
)

type Profile struct {
	ID   int
	Name string
}

func (p Profile) Clone() Profile {
	return Profile{
		ID:   p.ID,
		Name: p.Name,
	}
}

func ExampleGroup() {
	// Create a counter to track how many times the work function is called
	var callCount int
	var mu sync.Mutex

	var g gleamy.Group[int, Profile]

	// Function to look up a profile, simulating slow database access
	fetchProfile := func() (Profile, error) {
		// Simulate database lookup with delay
		time.Sleep(50 * time.Millisecond)

		// Count the number of calls
		mu.Lock()
		callCount++
		mu.Unlock()

		return Profile{ID: 1, Name: "Alice"}, nil
	}

	// Create a wait group to coordinate multiple goroutines
	var wg sync.WaitGroup
	wg.Add(3)

	// Function to make a request
	makeRequest := func() {
		defer wg.Done()
		profile, err, _ := g.Do(1, fetchProfile)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		fmt.Printf("Goroutine found profile: %s\n", profile.Name)
	}

	// Launch three concurrent requests for the same profile
	go makeRequest()
	go makeRequest()
	go makeRequest()

	// Wait for all goroutines to complete
	wg.Wait()

	// Print how many times the work function was called
	fmt.Printf("Work function was called %d time(s)\n", callCount)

	// Because we can't guarantee the order of goroutine execution,
	// we don't include this in the Output block for testing
}

func ExampleGroup_Do() {
	var g gleamy.Group[string, string]

	v, err, shared := g.Do("user:1", func() (string, error) {
		return "Alice", nil
	})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Println(v, shared)
	// Output:
	// Alice false
}

func ExampleGroup_DoChan() {
	var g gleamy.Group[string, int]

	release := make(chan struct{})
	first := g.DoChan("answer", func() (int, error) {
		<-release
		return 42, nil
	})

	// A second caller for the same key attaches to the call in flight
	// instead of starting a second execution.
	second := g.DoChan("answer", func() (int, error) {
		return 0, errors.New("never runs")
	})
	close(release)

	r1, r2 := <-first, <-second
	fmt.Println(r1.Val, r1.Shared)
	fmt.Println(r2.Val, r2.Shared)
	// Output:
	// 42 true
	// 42 true
}

func ExampleGroup_Forget() {
	var g gleamy.Group[string, string]

	release := make(chan struct{})
	inflight := g.DoChan("config", func() (string, error) {
		<-release
		return "stale", nil
	})

	// Forget the key: the next caller starts a fresh execution instead of
	// attaching to the one still in flight.
	g.Forget("config")
	fresh, _, _ := g.Do("config", func() (string, error) {
		return "fresh", nil
	})
	fmt.Println("fresh caller got:", fresh)

	// The caller that attached before the forget still receives the outcome
	// of the old execution.
	close(release)
	r := <-inflight
	fmt.Println("earlier caller got:", r.Val)
	// Output:
	// fresh caller got: fresh
	// earlier caller got: stale
}

func ExampleNewGroup() {
	// Create a group that clones shared results, so callers cannot mutate
	// each other's copy
	g := gleamy.NewGroup(
		gleamy.WithCloner[int](gleamy.DefaultValueCloner[Profile]()),
	)

	_ = g
}
