// internal/browser/session/context.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context carrying tab's values (the chromedp
// target) that is cancelled when either tab or op is done. Callers must
// call the returned cancel.
func CombineContext(tab, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tab)
	if deadline, ok := op.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// detached keeps a parent's values but not its cancellation, so shutdown
// work can still reach the browser after the run context is gone.
type detached struct{ context.Context }

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }

// Detach returns a context with ctx's values and no cancellation.
func Detach(ctx context.Context) context.Context { return detached{ctx} }
