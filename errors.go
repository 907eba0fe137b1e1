package gleamy

import "errors"

// ErrGoexit is the failure outcome recorded when a work function terminates by
// calling runtime.Goexit instead of returning. DoChan channels deliver it as
// the Result error; blocking Do callers follow the Goexit with one of their
// own. A work function that returns ErrGoexit as a value has merely failed,
// and every caller receives it as an ordinary error.
var ErrGoexit = errors.New("runtime.Goexit is called")
