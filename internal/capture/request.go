package capture

import (
	"fmt"
	"image"
	"math"
)

// Kind identifies the capture target
type Kind int

const (
	KindFullscreen Kind = iota + 1
	KindRegion
	KindWindow
)

func (k Kind) String() string {
	switch k {
	case KindFullscreen:
		return "fullscreen"
	case KindRegion:
		return "region"
	case KindWindow:
		return "window"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RectF is a rectangle in screen coordinates as supplied by the caller
type RectF struct {
	X, Y, W, H float64
}

func (r RectF) finite() bool {
	for _, v := range []float64{r.X, r.Y, r.W, r.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Request is one capture target. Only the field matching Kind is meaningful.
type Request struct {
	Kind     Kind
	Region   RectF
	WindowID uint32
}

// Fullscreen requests the primary display
func Fullscreen() Request {
	return Request{Kind: KindFullscreen}
}

// Region requests a rectangle in screen coordinates
func Region(x, y, w, h float64) Request {
	return Request{Kind: KindRegion, Region: RectF{X: x, Y: y, W: w, H: h}}
}

// Window requests a single window by platform window id
func Window(id uint32) Request {
	return Request{Kind: KindWindow, WindowID: id}
}

// Validate rejects requests that must not reach the platform
func (r Request) Validate() error {
	switch r.Kind {
	case KindFullscreen:
		return nil
	case KindRegion:
		if !r.Region.finite() || r.Region.W <= 0 || r.Region.H <= 0 {
			return fmt.Errorf("%w: %gx%g at (%g,%g)", ErrEmptyRegion,
				r.Region.W, r.Region.H, r.Region.X, r.Region.Y)
		}
		return nil
	case KindWindow:
		if r.WindowID == 0 {
			return fmt.Errorf("%w: id 0", ErrWindowNotFound)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, r.Kind)
	}
}

// Clamp snaps region outwards to whole pixels and intersects it with bounds.
func Clamp(region RectF, bounds image.Rectangle) (image.Rectangle, error) {
	x0 := math.Max(math.Floor(region.X), float64(bounds.Min.X))
	y0 := math.Max(math.Floor(region.Y), float64(bounds.Min.Y))
	x1 := math.Min(math.Ceil(region.X+region.W), float64(bounds.Max.X))
	y1 := math.Min(math.Ceil(region.Y+region.H), float64(bounds.Max.Y))

	// NaN compares false everywhere, so test for the valid case.
	if !(x0 < x1 && y0 < y1) {
		return image.Rectangle{}, fmt.Errorf("%w: %gx%g at (%g,%g) outside %v", ErrOutOfBounds,
			region.W, region.H, region.X, region.Y, bounds)
	}
	return image.Rect(int(x0), int(y0), int(x1), int(y1)), nil
}
