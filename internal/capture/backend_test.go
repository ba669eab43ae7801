package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
	"github.com/bryanchriswhite/ScreenBridge/internal/permission"
	"github.com/godbus/dbus/v5"
)

func TestResolveBackend(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}
	cases := []struct {
		name string
		in   string
		goos string
		vars map[string]string
		want string
	}{
		{"explicit", BackendPortal, "linux", nil, BackendPortal},
		{"x11 session", BackendAuto, "linux", map[string]string{"DISPLAY": ":0"}, BackendX11},
		{"xwayland prefers x11", "", "linux", map[string]string{"DISPLAY": ":0", "WAYLAND_DISPLAY": "wayland-0"}, BackendX11},
		{"pure wayland", BackendAuto, "linux", map[string]string{"WAYLAND_DISPLAY": "wayland-0"}, BackendPortal},
		{"headless", BackendAuto, "linux", nil, BackendX11},
		{"macos", BackendAuto, "darwin", nil, BackendNative},
		{"windows", "", "windows", map[string]string{"DISPLAY": ":0"}, BackendNative},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveBackend(tc.in, tc.goos, env(tc.vars))
			if err != nil || got != tc.want {
				t.Fatalf("resolveBackend(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
			}
		})
	}
	if _, err := resolveBackend("gdi", "windows", env(nil)); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

func TestNewCapturerNames(t *testing.T) {
	for _, name := range []string{BackendX11, BackendPortal, BackendNative} {
		c, err := NewCapturer(name, Options{})
		if err != nil {
			t.Fatalf("NewCapturer(%q): %v", name, err)
		}
		if c.Name() != name {
			t.Fatalf("NewCapturer(%q).Name() = %q", name, c.Name())
		}
	}
}

func TestUnstartedBackendsAreUnavailable(t *testing.T) {
	x11 := NewX11Capturer()
	x11.startFn = func() error { return errors.New("no display") }
	if x11.IsAvailable() {
		t.Fatalf("x11 capturer available without a server")
	}
	if NewPortalCapturer().IsAvailable() {
		t.Fatalf("portal capturer available before Start")
	}
	if _, err := NewX11Capturer().CaptureRect(context.Background(), image.Rect(0, 0, 1, 1)); err == nil {
		t.Fatalf("expected error from unstarted x11 capturer")
	}
}

func TestPixelFormat(t *testing.T) {
	cases := []struct {
		depth byte
		bpp   int
		order byte
		want  frame.Format
	}{
		{24, 32, xproto.ImageOrderLSBFirst, frame.FormatBGRX},
		{32, 32, xproto.ImageOrderLSBFirst, frame.FormatBGRX},
		{24, 32, xproto.ImageOrderMSBFirst, frame.FormatXRGB},
		{24, 24, xproto.ImageOrderLSBFirst, frame.FormatUnknown},
		{16, 16, xproto.ImageOrderLSBFirst, frame.FormatUnknown},
		{30, 32, xproto.ImageOrderLSBFirst, frame.FormatUnknown},
	}
	for _, tc := range cases {
		if got := pixelFormat(tc.depth, tc.bpp, tc.order); got != tc.want {
			t.Fatalf("pixelFormat(%d, %d, %d) = %v, want %v", tc.depth, tc.bpp, tc.order, got, tc.want)
		}
	}
}

func TestScanlineStride(t *testing.T) {
	cases := []struct{ width, bpp, pad, want int }{
		{100, 32, 32, 400},
		{3, 24, 32, 12},
		{5, 16, 32, 12},
		{7, 8, 0, 7},
	}
	for _, tc := range cases {
		if got := scanlineStride(tc.width, tc.bpp, tc.pad); got != tc.want {
			t.Fatalf("scanlineStride(%d, %d, %d) = %d, want %d", tc.width, tc.bpp, tc.pad, got, tc.want)
		}
	}
}

func TestRequestHandle(t *testing.T) {
	got := requestHandle(":1.42", "screenbridge7_1")
	want := dbus.ObjectPath("/org/freedesktop/portal/desktop/request/1_42/screenbridge7_1")
	if got != want {
		t.Fatalf("requestHandle() = %q, want %q", got, want)
	}
}

func TestParseScreenshotResponse(t *testing.T) {
	ok := []interface{}{uint32(0), map[string]dbus.Variant{"uri": dbus.MakeVariant("file:///tmp/shot.png")}}
	uri, err := parseScreenshotResponse(ok)
	if err != nil || uri != "file:///tmp/shot.png" {
		t.Fatalf("parseScreenshotResponse() = %q, %v", uri, err)
	}

	_, err = parseScreenshotResponse([]interface{}{uint32(1), map[string]dbus.Variant{}})
	if !errors.Is(err, permission.ErrDenied) {
		t.Fatalf("cancelled response should be a denial, got %v", err)
	}

	_, err = parseScreenshotResponse([]interface{}{uint32(2), map[string]dbus.Variant{}})
	if err == nil || errors.Is(err, permission.ErrDenied) {
		t.Fatalf("failed response should be a plain error, got %v", err)
	}

	for _, body := range [][]interface{}{
		nil,
		{"0", map[string]dbus.Variant{}},
		{uint32(0), "results"},
		{uint32(0), map[string]dbus.Variant{}},
		{uint32(0), map[string]dbus.Variant{"uri": dbus.MakeVariant(42)}},
	} {
		if _, err := parseScreenshotResponse(body); err == nil {
			t.Fatalf("expected error for body %v", body)
		}
	}
}

func TestLoadScreenshotDecodesAndRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Screenshot.png")
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	img.SetRGBA(1, 2, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(file, img); err != nil {
		t.Fatal(err)
	}
	file.Close()

	f, err := loadScreenshot("file://" + path)
	if err != nil {
		t.Fatalf("loadScreenshot: %v", err)
	}
	if f.Width != 6 || f.Height != 4 {
		t.Fatalf("got %dx%d, want 6x4", f.Width, f.Height)
	}
	rgba, err := f.ToRGBA()
	if err != nil {
		t.Fatal(err)
	}
	if got := rgba.RGBAAt(1, 2); got != (color.RGBA{R: 200, G: 100, B: 50, A: 255}) {
		t.Fatalf("pixel = %v", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("screenshot file was not removed: %v", err)
	}
}

func TestLoadScreenshotRejectsRemoteURI(t *testing.T) {
	if _, err := loadScreenshot("https://example.com/shot.png"); err == nil {
		t.Fatalf("expected non-file uri to be rejected")
	}
}

func TestPortalAndNativeDoNotCaptureWindows(t *testing.T) {
	for _, c := range []Capturer{NewPortalCapturer(), NewNativeCapturer(0)} {
		if _, err := c.CaptureWindow(context.Background(), 1); !errors.Is(err, ErrUnsupported) {
			t.Fatalf("%s: expected ErrUnsupported, got %v", c.Name(), err)
		}
	}
}

func TestPortalEndSessionDropsPendingScreenshot(t *testing.T) {
	p := NewPortalCapturer()
	p.pending = frame.FromRGBA(image.NewRGBA(image.Rect(0, 0, 4, 4)))

	p.EndSession()
	if p.pending != nil {
		t.Fatalf("pending screenshot kept after EndSession")
	}
	var _ SessionEnder = p
}

func TestX11AvailabilityRetriesStart(t *testing.T) {
	var starts atomic.Int32
	c := NewX11Capturer()
	c.startFn = func() error {
		if starts.Add(1) == 1 {
			return errors.New("DISPLAY not set")
		}
		return nil
	}
	c.pingFn = func() error { return nil }

	if c.IsAvailable() {
		t.Fatalf("expected unavailable while Start fails")
	}
	if !c.IsAvailable() {
		t.Fatalf("expected a later Start to be retried")
	}
	if starts.Load() != 2 {
		t.Fatalf("Start called %d times, want 2", starts.Load())
	}
}

func TestX11AvailabilityIsBounded(t *testing.T) {
	release := make(chan struct{})
	var pings atomic.Int32
	c := NewX11Capturer()
	c.checkTimeout = 20 * time.Millisecond
	c.startFn = func() error { return nil }
	c.pingFn = func() error {
		pings.Add(1)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			if c.IsAvailable() {
				t.Errorf("expected a hung server to be unavailable")
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("IsAvailable blocked for %v", elapsed)
			}
		}()
	}
	wg.Wait()

	if n := pings.Load(); n != 1 {
		t.Fatalf("hung server pinged %d times, want 1", n)
	}
	close(release)
}
