package panicutil

import (
	"github.com/sourcegraph/conc/panics"
)

// Invoke runs f inside a zero Boundary. It recovers from panics and returns them
// without re-raising. If f returns normally, it returns f's error and a nil
// recovered panic. If f calls runtime.Goexit, it never returns.
func Invoke(f func() error) (error, *panics.Recovered) {
	var b Boundary
	return b.Invoke(f)
}

// Boundary guards the execution of an untrusted function and classifies how the
// invocation terminated: a normal return, a panic, or runtime.Goexit. It uses
// the double defer sandwich: an inner defer captures the panic, and an outer
// defer inspects which progress markers were reached before the stack unwound.
type Boundary struct {
	// OnGoexit is called while the goroutine is unwinding because the invoked
	// function called runtime.Goexit. It is not called otherwise.
	OnGoexit func()
}

// Invoke runs f. If f returns normally, Invoke returns f's error and a nil
// recovered panic. If f panics, Invoke captures the panic and returns it both
// as a *panics.ErrRecovered error and as the recovered value. If f calls
// runtime.Goexit, Invoke calls OnGoexit and never returns: the goroutine keeps
// unwinding.
func (b *Boundary) Invoke(f func() error) (err error, recovered *panics.Recovered) {
	var (
		normalReturn bool
		panicked     bool
		panicValue   panics.Recovered
	)
	defer func() {
		switch {
		case normalReturn:
		case panicked:
			err = panicValue.AsError()
			recovered = &panicValue
		default:
			if b.OnGoexit != nil {
				b.OnGoexit()
			}
		}
	}()
	func() {
		defer func() {
			if !normalReturn {
				panicValue = panics.NewRecovered(2, recover())
			}
		}()
		err = f()
		normalReturn = true
	}()
	if !normalReturn {
		panicked = true
	}
	return
}
