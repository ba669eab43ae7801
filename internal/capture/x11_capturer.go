package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"github.com/bryanchriswhite/ScreenBridge/internal/window"
)

// DefaultAvailabilityTimeout bounds one IsAvailable check against the X server.
const DefaultAvailabilityTimeout = 2 * time.Second

// X11Capturer captures the screen and windows using X11/XWayland
type X11Capturer struct {
	mu               sync.Mutex
	conn             *xgb.Conn
	setup            *xproto.SetupInfo
	screen           *xproto.ScreenInfo
	windows          *window.X11Backend
	compositeEnabled bool
	randrEnabled     bool

	// At most one availability check talks to the server at a time; callers
	// that arrive meanwhile share its answer.
	checkMu      sync.Mutex
	inflight     *availabilityCheck
	checkTimeout time.Duration
	startFn      func() error
	pingFn       func() error
}

type availabilityCheck struct {
	done chan struct{}
	ok   bool
}

// NewX11Capturer creates an X11 capturer. The connection is opened by Start.
func NewX11Capturer() *X11Capturer {
	return &X11Capturer{}
}

// Start connects to the X server and initializes extensions
func (c *X11Capturer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	log := logger.WithComponent("x11-capturer")

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	if err := composite.Init(conn); err != nil {
		log.Warn().
			Err(err).
			Msg("Composite extension not available - window screenshots may fail for obscured windows")
	} else {
		c.compositeEnabled = true
	}

	if err := randr.Init(conn); err != nil {
		log.Debug().Err(err).Msg("RandR not available, using root window as primary display")
	} else {
		c.randrEnabled = true
	}

	c.conn = conn
	c.setup = xproto.Setup(conn)
	c.screen = c.setup.DefaultScreen(conn)
	c.windows = window.NewX11BackendWithConn(conn)

	log.Debug().
		Bool("composite", c.compositeEnabled).
		Bool("randr", c.randrEnabled).
		Uint8("root_depth", c.screen.RootDepth).
		Msg("X11 capturer initialized")
	return nil
}

// Stop closes the X11 connection
func (c *X11Capturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Name returns the capturer name
func (c *X11Capturer) Name() string {
	return BackendX11
}

// IsAvailable checks that the X server answers within the availability
// timeout. A capturer whose Start failed earlier, for example because DISPLAY
// was not yet set, is started again here.
func (c *X11Capturer) IsAvailable() bool {
	timeout := c.checkTimeout
	if timeout <= 0 {
		timeout = DefaultAvailabilityTimeout
	}

	c.checkMu.Lock()
	check := c.inflight
	if check == nil {
		check = &availabilityCheck{done: make(chan struct{})}
		c.inflight = check
		go func() {
			check.ok = c.check()
			c.checkMu.Lock()
			c.inflight = nil
			c.checkMu.Unlock()
			close(check.done)
		}()
	}
	c.checkMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-check.done:
		return check.ok
	case <-timer.C:
		logger.WithComponent("x11-capturer").Warn().
			Dur("timeout", timeout).
			Msg("X server did not answer the availability check")
		return false
	}
}

func (c *X11Capturer) check() bool {
	start, ping := c.Start, c.roundTrip
	if c.startFn != nil {
		start = c.startFn
	}
	if c.pingFn != nil {
		ping = c.pingFn
	}

	if c.connection() == nil {
		if err := start(); err != nil {
			logger.WithComponent("x11-capturer").Debug().Err(err).Msg("X server still unreachable")
			return false
		}
	}
	return ping() == nil
}

func (c *X11Capturer) roundTrip() error {
	conn := c.connection()
	if conn == nil {
		return errors.New("X11 capturer not started")
	}
	_, err := xproto.GetInputFocus(conn).Reply()
	return err
}

// Windows returns the window lookup sharing this capturer's connection,
// or nil before Start.
func (c *X11Capturer) Windows() *window.X11Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windows
}

func (c *X11Capturer) connection() *xgb.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Bounds returns the primary output's CRTC rectangle, or the whole root
// window when RandR has no primary output.
func (c *X11Capturer) Bounds(ctx context.Context) (image.Rectangle, error) {
	conn := c.connection()
	if conn == nil {
		return image.Rectangle{}, errors.New("X11 capturer not started")
	}

	rootRect := image.Rect(0, 0, int(c.screen.WidthInPixels), int(c.screen.HeightInPixels))
	if !c.randrEnabled {
		return rootRect, nil
	}

	primary, err := randr.GetOutputPrimary(conn, c.screen.Root).Reply()
	if err != nil || primary.Output == 0 {
		return rootRect, nil
	}
	output, err := randr.GetOutputInfo(conn, primary.Output, xproto.TimeCurrentTime).Reply()
	if err != nil || output.Crtc == 0 {
		return rootRect, nil
	}
	crtc, err := randr.GetCrtcInfo(conn, output.Crtc, xproto.TimeCurrentTime).Reply()
	if err != nil || crtc.Width == 0 || crtc.Height == 0 {
		return rootRect, nil
	}

	r := image.Rect(int(crtc.X), int(crtc.Y), int(crtc.X)+int(crtc.Width), int(crtc.Y)+int(crtc.Height))
	return r.Intersect(rootRect), nil
}

// CaptureRect captures a region of the root window
func (c *X11Capturer) CaptureRect(ctx context.Context, r image.Rectangle) (*frame.Frame, error) {
	conn := c.connection()
	if conn == nil {
		return nil, errors.New("X11 capturer not started")
	}
	return c.getImage(conn, xproto.Drawable(c.screen.Root), r)
}

// CaptureWindow captures a top-level window by id
func (c *X11Capturer) CaptureWindow(ctx context.Context, id uint32) (*frame.Frame, error) {
	conn := c.connection()
	if conn == nil {
		return nil, errors.New("X11 capturer not started")
	}
	log := logger.WithComponent("x11-capturer")

	info, err := c.windows.Lookup(id)
	if err != nil {
		if errors.Is(err, window.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrWindowNotFound, err)
		}
		return nil, err
	}
	if !info.Mapped {
		return nil, fmt.Errorf("%w: window 0x%x is not mapped", ErrWindowNotCapturable, id)
	}

	screen := image.Rect(0, 0, int(c.screen.WidthInPixels), int(c.screen.HeightInPixels))
	visible := info.Geometry.Rect().Intersect(screen)
	if visible.Empty() {
		return nil, fmt.Errorf("%w: window 0x%x is off screen", ErrWindowNotCapturable, id)
	}

	win := xproto.Window(id)
	if c.compositeEnabled {
		f, err := c.captureComposited(conn, win, info.Geometry)
		if err == nil {
			return f, nil
		}
		log.Debug().
			Err(err).
			Uint32("window_id", id).
			Msg("Composite capture failed, falling back to root capture")
	}

	// Without an offscreen pixmap only the on-screen part can be read, and
	// overlapping windows show through.
	return c.getImage(conn, xproto.Drawable(c.screen.Root), visible)
}

// captureComposited reads the window's offscreen pixmap, which holds its
// full contents even when obscured or partly off screen.
func (c *X11Capturer) captureComposited(conn *xgb.Conn, win xproto.Window, geom window.Geometry) (*frame.Frame, error) {
	if err := composite.RedirectWindowChecked(conn, win, composite.RedirectAutomatic).Check(); err != nil {
		return nil, fmt.Errorf("failed to redirect window: %w", err)
	}
	defer composite.UnredirectWindow(conn, win, composite.RedirectAutomatic)

	pixmap, err := xproto.NewPixmapId(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate pixmap id: %w", err)
	}
	if err := composite.NameWindowPixmapChecked(conn, win, pixmap).Check(); err != nil {
		return nil, fmt.Errorf("failed to name window pixmap: %w", err)
	}
	defer xproto.FreePixmap(conn, pixmap)

	return c.getImage(conn, xproto.Drawable(pixmap), image.Rect(0, 0, geom.Width, geom.Height))
}

// getImage reads r from drawable as a ZPixmap
func (c *X11Capturer) getImage(conn *xgb.Conn, drawable xproto.Drawable, r image.Rectangle) (*frame.Frame, error) {
	reply, err := xproto.GetImage(
		conn,
		xproto.ImageFormatZPixmap,
		drawable,
		int16(r.Min.X), int16(r.Min.Y),
		uint16(r.Dx()), uint16(r.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	bpp, pad := pixmapFormat(c.setup, reply.Depth)
	return &frame.Frame{
		Width:  r.Dx(),
		Height: r.Dy(),
		Stride: scanlineStride(r.Dx(), bpp, pad),
		Format: pixelFormat(reply.Depth, bpp, c.setup.ImageByteOrder),
		Pix:    reply.Data,
	}, nil
}

// pixmapFormat returns bits per pixel and scanline pad for depth
func pixmapFormat(setup *xproto.SetupInfo, depth byte) (bpp, pad int) {
	for _, f := range setup.PixmapFormats {
		if f.Depth == depth {
			return int(f.BitsPerPixel), int(f.ScanlinePad)
		}
	}
	return 32, 32
}

func scanlineStride(width, bpp, pad int) int {
	if pad <= 0 {
		pad = 8
	}
	bits := width * bpp
	return (bits + pad - 1) / pad * pad / 8
}

// pixelFormat maps a ZPixmap layout to a frame format. Alpha from depth 32
// visuals is not trusted and is discarded.
func pixelFormat(depth byte, bpp int, byteOrder byte) frame.Format {
	if bpp != 32 || (depth != 24 && depth != 32) {
		return frame.FormatUnknown
	}
	if byteOrder == xproto.ImageOrderMSBFirst {
		return frame.FormatXRGB
	}
	return frame.FormatBGRX
}
