// Package capture turns capture requests into raw frames from the platform.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"

	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
)

var (
	ErrEmptyRegion         = errors.New("region has no area")
	ErrInvalidRequest      = errors.New("invalid capture request")
	ErrOutOfBounds         = errors.New("region outside display bounds")
	ErrWindowNotFound      = errors.New("window not found")
	ErrWindowNotCapturable = errors.New("window not capturable")
	ErrTimeout             = errors.New("capture timed out")
	ErrEmptyFrame          = errors.New("platform returned an empty frame")
	ErrUnsupported         = errors.New("capture target not supported by backend")
)

// Capturer defines the interface for screen capture backends
type Capturer interface {
	// Start initializes the capturer and any required resources
	Start() error

	// Stop releases resources
	Stop() error

	// Name returns a short name for this capturer
	Name() string

	// IsAvailable checks if the platform facility is reachable right now
	IsAvailable() bool

	// Bounds returns the primary display rectangle in screen coordinates
	Bounds(ctx context.Context) (image.Rectangle, error)

	// CaptureRect captures r, which lies within Bounds
	CaptureRect(ctx context.Context, r image.Rectangle) (*frame.Frame, error)

	// CaptureWindow captures the contents of a specific window
	CaptureWindow(ctx context.Context, id uint32) (*frame.Frame, error)
}

// SessionEnder is implemented by capturers that keep state between the
// calls of one dispatch. The dispatcher calls EndSession, still holding the
// session, after every platform session whether it succeeded, failed or
// panicked.
type SessionEnder interface {
	EndSession()
}

// Backend names accepted by NewCapturer
const (
	BackendAuto   = "auto"
	BackendX11    = "x11"
	BackendPortal = "portal"
	BackendNative = "native"
)

// Options configures backend construction
type Options struct {
	// Display is the native backend's display index
	Display int
}

// ResolveBackend maps "auto" (or "") to a concrete backend for this session.
func ResolveBackend(name string) (string, error) {
	return resolveBackend(name, runtime.GOOS, os.Getenv)
}

func resolveBackend(name, goos string, getenv func(string) string) (string, error) {
	switch name {
	case BackendX11, BackendPortal, BackendNative:
		return name, nil
	case "", BackendAuto:
	default:
		return "", fmt.Errorf("unknown capture backend %q", name)
	}

	if goos != "linux" {
		return BackendNative, nil
	}
	if getenv("DISPLAY") != "" {
		return BackendX11, nil
	}
	if getenv("WAYLAND_DISPLAY") != "" {
		return BackendPortal, nil
	}
	// Headless: X11 reports unavailable, which the probe turns into -1.
	return BackendX11, nil
}

// NewCapturer builds the capturer for name. Construction never touches the
// display server; connecting happens in Start.
func NewCapturer(name string, opts Options) (Capturer, error) {
	resolved, err := ResolveBackend(name)
	if err != nil {
		return nil, err
	}
	switch resolved {
	case BackendX11:
		return NewX11Capturer(), nil
	case BackendPortal:
		return NewPortalCapturer(), nil
	default:
		return NewNativeCapturer(opts.Display), nil
	}
}
