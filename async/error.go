// Package async provides tools for running slow calls in goroutines and
// folding their results back into a single-writer event loop.
package async

// AsyncError is an async value that will eventually hold an error, similar
// to a future. The producing goroutine supplies the value with SetValue;
// the owning loop polls it with TryGetValue.
type AsyncError struct {
	errCh     chan error
	val       error
	completed bool
}

func newAsyncError() *AsyncError {
	return &AsyncError{
		errCh: make(chan error, 1),
	}
}

// SetValue completes the AsyncError. It must be called exactly once;
// a second call panics on the closed channel.
func (e *AsyncError) SetValue(err error) {
	e.errCh <- err
	close(e.errCh)
}

// TryGetValue returns (true, value) once the AsyncError has completed and
// (false, nil) while it is still pending. Safe to call repeatedly.
func (e *AsyncError) TryGetValue() (bool, error) {
	if e.completed {
		return true, e.val
	}
	select {
	case err := <-e.errCh:
		e.val = err
		e.completed = true
		return true, err
	default:
		return false, nil
	}
}
