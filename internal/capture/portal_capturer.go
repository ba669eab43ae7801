package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"github.com/bryanchriswhite/ScreenBridge/internal/permission"
	"github.com/godbus/dbus/v5"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenshotIface = "org.freedesktop.portal.Screenshot"
	requestIface    = "org.freedesktop.portal.Request"
)

// Request.Response codes
const (
	portalResponseSuccess   = 0
	portalResponseCancelled = 1
)

// PortalResponseError is a non-success Request.Response. A cancelled
// request means the user refused, and matches permission.ErrDenied.
type PortalResponseError struct {
	Code uint32
}

func (e *PortalResponseError) Error() string {
	if e.Code == portalResponseCancelled {
		return "portal request cancelled by user"
	}
	return fmt.Sprintf("portal request failed (code %d)", e.Code)
}

// Is reports whether a cancelled response matches permission.ErrDenied
func (e *PortalResponseError) Is(target error) bool {
	return e.Code == portalResponseCancelled && target == permission.ErrDenied
}

var portalTokenSeq atomic.Uint64

// PortalCapturer takes screenshots through xdg-desktop-portal, which works
// on Wayland compositors where X11 capture only sees XWayland clients.
//
// The portal returns the whole desktop in one image and reports no geometry,
// so Bounds takes the screenshot and the following CaptureRect crops it. On a
// multi-monitor setup that image spans every output, not just the primary.
type PortalCapturer struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	pending *frame.Frame
}

// NewPortalCapturer creates a portal capturer. The bus is connected by Start.
func NewPortalCapturer() *PortalCapturer {
	return &PortalCapturer{}
}

// Start connects to the session bus and subscribes to request responses
func (p *PortalCapturer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("failed to add match rule: %w", err)
	}
	p.conn = conn
	return nil
}

// Stop closes the bus connection
func (p *PortalCapturer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = nil
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Name returns the capturer name
func (p *PortalCapturer) Name() string {
	return BackendPortal
}

// IsAvailable checks that the portal service is running on the session bus
func (p *PortalCapturer) IsAvailable() bool {
	conn := p.connection()
	if conn == nil {
		return false
	}
	var hasOwner bool
	err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, portalService).Store(&hasOwner)
	return err == nil && hasOwner
}

func (p *PortalCapturer) connection() *dbus.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Bounds takes a screenshot and returns its rectangle
func (p *PortalCapturer) Bounds(ctx context.Context) (image.Rectangle, error) {
	f, err := p.screenshot(ctx)
	if err != nil {
		return image.Rectangle{}, err
	}
	p.mu.Lock()
	p.pending = f
	p.mu.Unlock()
	return image.Rect(0, 0, f.Width, f.Height), nil
}

// CaptureRect crops the screenshot taken by Bounds, or takes a new one
func (p *PortalCapturer) CaptureRect(ctx context.Context, r image.Rectangle) (*frame.Frame, error) {
	p.mu.Lock()
	f := p.pending
	p.pending = nil
	p.mu.Unlock()

	if f == nil {
		var err error
		if f, err = p.screenshot(ctx); err != nil {
			return nil, err
		}
	}
	return f.Crop(r)
}

// EndSession drops a screenshot taken by Bounds that no CaptureRect consumed
func (p *PortalCapturer) EndSession() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// CaptureWindow is not offered by the Screenshot portal
func (p *PortalCapturer) CaptureWindow(ctx context.Context, id uint32) (*frame.Frame, error) {
	return nil, fmt.Errorf("%w: portal cannot select window 0x%x", ErrUnsupported, id)
}

// screenshot runs one non-interactive Screenshot request and decodes the
// file the portal wrote. The file is removed afterwards.
func (p *PortalCapturer) screenshot(ctx context.Context) (*frame.Frame, error) {
	conn := p.connection()
	if conn == nil {
		return nil, errors.New("portal capturer not started")
	}
	log := logger.WithComponent("portal")

	token := fmt.Sprintf("screenbridge%d_%d", os.Getpid(), portalTokenSeq.Add(1))
	var expected dbus.ObjectPath
	if names := conn.Names(); len(names) > 0 {
		expected = requestHandle(names[0], token)
	}

	// Subscribe before calling so a fast response is not missed.
	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token),
		"interactive":  dbus.MakeVariant(false),
	}
	var requestPath dbus.ObjectPath
	err := conn.Object(portalService, portalPath).
		CallWithContext(ctx, screenshotIface+".Screenshot", 0, "", options).
		Store(&requestPath)
	if err != nil {
		return nil, fmt.Errorf("Screenshot call failed: %w", err)
	}
	log.Debug().Str("request_path", string(requestPath)).Msg("Waiting for Screenshot response")

	for {
		select {
		case <-ctx.Done():
			// Ask the portal to drop the request; the dialog may be open.
			conn.Object(portalService, requestPath).Go(requestIface+".Close", dbus.FlagNoReplyExpected, nil)
			return nil, ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil, errors.New("session bus connection closed")
			}
			if sig.Name != requestIface+".Response" {
				continue
			}
			if sig.Path != requestPath && sig.Path != expected {
				continue
			}
			uri, err := parseScreenshotResponse(sig.Body)
			if err != nil {
				return nil, err
			}
			return loadScreenshot(uri)
		}
	}
}

// requestHandle predicts the Request object path the portal will use for
// token, from the caller's unique bus name.
func requestHandle(uniqueName, token string) dbus.ObjectPath {
	sender := strings.ReplaceAll(strings.TrimPrefix(uniqueName, ":"), ".", "_")
	return dbus.ObjectPath(portalPath + "/request/" + sender + "/" + token)
}

// parseScreenshotResponse extracts the image URI from a Response signal body
func parseScreenshotResponse(body []interface{}) (string, error) {
	if len(body) < 2 {
		return "", errors.New("invalid portal response")
	}
	code, ok := body[0].(uint32)
	if !ok {
		return "", fmt.Errorf("invalid portal response code type %T", body[0])
	}
	if code != portalResponseSuccess {
		return "", &PortalResponseError{Code: code}
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return "", fmt.Errorf("invalid portal results type %T", body[1])
	}
	v, ok := results["uri"]
	if !ok {
		return "", errors.New("no uri in portal response")
	}
	uri, ok := v.Value().(string)
	if !ok || uri == "" {
		return "", fmt.Errorf("invalid uri in portal response: %v", v)
	}
	return uri, nil
}

// loadScreenshot decodes and removes the file named by a file:// URI
func loadScreenshot(uri string) (*frame.Frame, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid screenshot uri: %w", err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("unsupported screenshot uri scheme %q", u.Scheme)
	}

	file, err := os.Open(u.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open screenshot: %w", err)
	}
	img, _, err := image.Decode(file)
	file.Close()
	if rmErr := os.Remove(u.Path); rmErr != nil {
		logger.WithComponent("portal").Debug().Err(rmErr).Str("path", u.Path).Msg("Failed to remove screenshot file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return frame.FromImage(img), nil
}
