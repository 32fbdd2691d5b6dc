// File: internal/engine/controller.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAborted is returned from every check point once the controller has
// been aborted. It propagates through all levels unchanged.
var ErrAborted = errors.New("execution aborted")

// Controller is the process-wide abort signal for one tab run.
type Controller struct {
	mu     sync.Mutex
	done   chan struct{}
	reason string
}

// NewController returns a controller that has not been aborted.
func NewController() *Controller {
	return &Controller{done: make(chan struct{})}
}

// Abort signals every check point. Repeated calls keep the first reason.
func (c *Controller) Abort(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		c.reason = reason
		close(c.done)
	}
}

// Aborted reports whether Abort was called since the last Reset.
func (c *Controller) Aborted() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Done is closed on abort.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Check returns ErrAborted once aborted.
func (c *Controller) Check() error {
	if !c.Aborted() {
		return nil
	}
	c.mu.Lock()
	reason := c.reason
	c.mu.Unlock()
	if reason == "" {
		return ErrAborted
	}
	return fmt.Errorf("%w: %s", ErrAborted, reason)
}

// Reset clears a previous abort.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		c.done = make(chan struct{})
		c.reason = ""
	default:
	}
}

// Bind derives a context that is cancelled when the controller aborts.
func (c *Controller) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := c.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
