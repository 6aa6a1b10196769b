package dispatch

import "context"

// Completion is the fire-and-forget result returned by Ping, GoAway, and
// WriteSettings: a completion the core may or may not wait on. It
// resolves exactly once.
type Completion struct {
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolve(err error) {
	c.err = err
	close(c.done)
}

// satisfied returns a Completion that has already resolved to err.
func satisfied(err error) *Completion {
	c := newCompletion()
	c.resolve(err)
	return c
}

// Wait blocks until the completion resolves or ctx is done, whichever
// comes first.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the completion has resolved, without blocking.
func (c *Completion) Ready() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
