package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
	"github.com/kbinani/screenshot"
)

// NativeCapturer uses the OS screenshot API through kbinani/screenshot
// (CoreGraphics on macOS, GDI on Windows, XShm on Linux).
type NativeCapturer struct {
	display int
}

// NewNativeCapturer captures from the given display index, 0 being primary
func NewNativeCapturer(display int) *NativeCapturer {
	return &NativeCapturer{display: display}
}

func (n *NativeCapturer) Start() error { return nil }
func (n *NativeCapturer) Stop() error  { return nil }

// Name returns the capturer name
func (n *NativeCapturer) Name() string {
	return BackendNative
}

// IsAvailable reports whether the configured display is active
func (n *NativeCapturer) IsAvailable() bool {
	return n.display >= 0 && n.display < screenshot.NumActiveDisplays()
}

// Bounds returns the configured display's rectangle
func (n *NativeCapturer) Bounds(ctx context.Context) (image.Rectangle, error) {
	if !n.IsAvailable() {
		return image.Rectangle{}, fmt.Errorf("display %d is not active", n.display)
	}
	return screenshot.GetDisplayBounds(n.display), nil
}

// CaptureRect captures r in screen coordinates
func (n *NativeCapturer) CaptureRect(ctx context.Context, r image.Rectangle) (*frame.Frame, error) {
	img, err := screenshot.CaptureRect(r)
	if err != nil {
		return nil, fmt.Errorf("native capture failed: %w", err)
	}
	return frame.FromRGBA(img), nil
}

// CaptureWindow is not offered by the native API wrapper
func (n *NativeCapturer) CaptureWindow(ctx context.Context, id uint32) (*frame.Frame, error) {
	return nil, fmt.Errorf("%w: native backend cannot capture window 0x%x", ErrUnsupported, id)
}
