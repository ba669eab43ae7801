// Package capturetest provides an in-memory capture backend for tests.
package capturetest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/ScreenBridge/internal/capture"
	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
)

// Fake serves frames cut from a generated screen image. Windows are
// rectangles on that screen keyed by id.
type Fake struct {
	Screen  *image.RGBA
	Windows map[uint32]image.Rectangle

	// Delay blocks each capture until it elapses or ctx is done.
	Delay time.Duration
	// Err, when set, is returned by every capture.
	Err error

	available atomic.Bool
	calls     atomic.Int64
	sessions  atomic.Int64
	active    atomic.Int64
	maxActive atomic.Int64

	mu sync.Mutex
}

// New returns an available fake with a w x h gradient screen
func New(w, h int) *Fake {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	f := &Fake{Screen: img, Windows: make(map[uint32]image.Rectangle)}
	f.available.Store(true)
	return f
}

// SetAvailable changes what IsAvailable reports
func (f *Fake) SetAvailable(v bool) { f.available.Store(v) }

// Calls returns how many captures reached the backend
func (f *Fake) Calls() int64 { return f.calls.Load() }

// Sessions returns how many dispatch sessions were ended
func (f *Fake) Sessions() int64 { return f.sessions.Load() }

// EndSession implements capture.SessionEnder
func (f *Fake) EndSession() { f.sessions.Add(1) }

// MaxConcurrent returns the highest number of overlapping captures seen
func (f *Fake) MaxConcurrent() int64 { return f.maxActive.Load() }

func (f *Fake) Start() error      { return nil }
func (f *Fake) Stop() error       { return nil }
func (f *Fake) Name() string      { return "fake" }
func (f *Fake) IsAvailable() bool { return f.available.Load() }

func (f *Fake) Bounds(ctx context.Context) (image.Rectangle, error) {
	return f.Screen.Bounds(), nil
}

func (f *Fake) CaptureRect(ctx context.Context, r image.Rectangle) (*frame.Frame, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	defer f.active.Add(-1)

	if !r.In(f.Screen.Bounds()) {
		return nil, fmt.Errorf("rectangle %v outside screen", r)
	}
	return f.cut(r), nil
}

func (f *Fake) CaptureWindow(ctx context.Context, id uint32) (*frame.Frame, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	defer f.active.Add(-1)

	f.mu.Lock()
	r, ok := f.Windows[id]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: 0x%x", capture.ErrWindowNotFound, id)
	}
	r = r.Intersect(f.Screen.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("%w: 0x%x", capture.ErrWindowNotCapturable, id)
	}
	return f.cut(r), nil
}

func (f *Fake) enter(ctx context.Context) error {
	f.calls.Add(1)
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			f.active.Add(-1)
			return ctx.Err()
		}
	}
	if f.Err != nil {
		f.active.Add(-1)
		return f.Err
	}
	return nil
}

// cut copies r so callers never share pixels
func (f *Fake) cut(r image.Rectangle) *frame.Frame {
	sub := f.Screen.SubImage(r).(*image.RGBA)
	return frame.FromImage(sub)
}
