package async

// The function type of the callback invoked when an AsyncError completes.
type AsyncErrorResponseHandler func(error)

type message struct {
	err      *AsyncError
	callback AsyncErrorResponseHandler
}

// Mailbox tracks in-progress AsyncErrors and their callbacks, and invokes a
// callback once its AsyncError completes.
//
// A Mailbox is not a concurrent structure: it must only be accessed from a
// single goroutine, which guarantees that callbacks always run one at a time
// in that goroutine's context. A control loop typically spawns goroutines for
// slow network calls (an agent launch, a kill) against AsyncErrors from this
// mailbox, then calls ProcessMessages once per loop iteration to apply the
// results to its own state without any locking.
type Mailbox struct {
	msgs []message
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		msgs: make([]message, 0),
	}
}

// Count returns the number of in-progress messages.
func (bx *Mailbox) Count() int {
	return len(bx.msgs)
}

// NewAsyncError creates an AsyncError tracked by this mailbox and associates
// the callback with it. The callback runs during a later ProcessMessages,
// after SetValue has been called on the AsyncError.
func (bx *Mailbox) NewAsyncError(cb AsyncErrorResponseHandler) *AsyncError {
	msg := message{err: newAsyncError(), callback: cb}
	bx.msgs = append(bx.msgs, msg)
	return msg.err
}

// ProcessMessages invokes the callbacks of all completed AsyncErrors and
// removes them from the mailbox. Callbacks may register new AsyncErrors;
// those are kept for a later ProcessMessages rather than dropped.
func (bx *Mailbox) ProcessMessages() {
	snapshot := len(bx.msgs)
	var pending []message
	for _, msg := range bx.msgs[:snapshot] {
		ok, err := msg.err.TryGetValue()
		if ok {
			msg.callback(err)
		} else {
			pending = append(pending, msg)
		}
	}
	bx.msgs = append(pending, bx.msgs[snapshot:]...)
}

// Runner spawns goroutines for async functions and associates callbacks with
// them, building on Mailbox.
//
//	runner := async.NewRunner()
//	runner.RunAsync(
//		func() error { return agent.Launch(instanceID, image, cmd, req) },
//		func(err error) { s.handleLaunchResult(instanceID, err) })
//	...
//	runner.ProcessMessages() // on the owning loop, applies handleLaunchResult
type Runner struct {
	bx *Mailbox
}

func NewRunner() Runner {
	return Runner{
		bx: NewMailbox(),
	}
}

func (r *Runner) NumRunning() int {
	return r.bx.Count()
}

// RunAsync runs f in a new goroutine. The callback cb is invoked with f's
// result during a ProcessMessages call after f completes.
func (r *Runner) RunAsync(f func() error, cb AsyncErrorResponseHandler) {
	asyncErr := r.bx.NewAsyncError(cb)
	go func(rsp *AsyncError) {
		rsp.SetValue(f())
	}(asyncErr)
}

// ProcessMessages invokes the callbacks of all completed async functions,
// synchronously on the calling goroutine.
func (r *Runner) ProcessMessages() {
	r.bx.ProcessMessages()
}
