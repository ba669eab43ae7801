package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
)

type result struct {
	frame *frame.Frame
	err   error
}

// Dispatcher turns a Request into a frame with a blocking call. Platform
// sessions are serialized: at most one runs at a time, including sessions
// whose caller already gave up.
type Dispatcher struct {
	capturer Capturer
	session  sync.Mutex
}

// NewDispatcher creates a dispatcher over capturer
func NewDispatcher(capturer Capturer) *Dispatcher {
	return &Dispatcher{capturer: capturer}
}

// Capturer returns the backend used by the dispatcher
func (d *Dispatcher) Capturer() Capturer {
	return d.capturer
}

// Dispatch validates req and blocks until the platform delivers a frame,
// fails, or ctx is done. A deadline yields ErrTimeout.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*frame.Frame, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	log := logger.WithComponent("dispatcher")
	start := time.Now()

	// Buffered so a worker that outlives its caller never blocks.
	done := make(chan result, 1)
	go func() {
		d.session.Lock()
		defer d.session.Unlock()
		if ender, ok := d.capturer.(SessionEnder); ok {
			defer ender.EndSession()
		}

		var r result
		func() {
			defer func() {
				if p := recover(); p != nil {
					r = result{err: fmt.Errorf("capture backend panic: %v", p)}
				}
			}()
			if err := ctx.Err(); err != nil {
				// Gave up while queued behind another session.
				r = result{err: err}
				return
			}
			r.frame, r.err = d.run(ctx, req)
		}()
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, timeoutError(ctx)
			}
			return nil, r.err
		}
		if r.frame.Empty() {
			return nil, ErrEmptyFrame
		}
		log.Debug().
			Str("kind", req.Kind.String()).
			Int("width", r.frame.Width).
			Int("height", r.frame.Height).
			Dur("elapsed", time.Since(start)).
			Msg("Capture complete")
		return r.frame, nil
	case <-ctx.Done():
		log.Warn().
			Str("kind", req.Kind.String()).
			Dur("elapsed", time.Since(start)).
			Msg("Capture did not complete in time")
		return nil, timeoutError(ctx)
	}
}

func timeoutError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
}

// run performs the platform calls for req while holding the session
func (d *Dispatcher) run(ctx context.Context, req Request) (*frame.Frame, error) {
	switch req.Kind {
	case KindFullscreen:
		bounds, err := d.capturer.Bounds(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read display bounds: %w", err)
		}
		if bounds.Empty() {
			return nil, ErrEmptyFrame
		}
		return d.capturer.CaptureRect(ctx, bounds)

	case KindRegion:
		bounds, err := d.capturer.Bounds(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read display bounds: %w", err)
		}
		r, err := Clamp(req.Region, bounds)
		if err != nil {
			return nil, err
		}
		return d.capturer.CaptureRect(ctx, r)

	case KindWindow:
		return d.capturer.CaptureWindow(ctx, req.WindowID)

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, req.Kind)
	}
}
