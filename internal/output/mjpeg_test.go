package output

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 40, 40, 255
	}
	return img
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDeliversJPEGParts(t *testing.T) {
	var calls atomic.Int32
	m := NewMJPEG(func(context.Context) (*image.RGBA, error) {
		calls.Add(1)
		return solid(32, 24), nil
	}, Config{FPS: 50, Quality: 90})
	defer m.Stop()

	ts := httptest.NewServer(m.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	mr := multipart.NewReader(resp.Body, "frame")
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("part Content-Type = %q", ct)
	}
	img, err := jpeg.Decode(part)
	if err != nil {
		t.Fatalf("decoding part: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Fatalf("frame is %v, want 32x24", b)
	}
	r, _, _, _ := color.RGBAModel.Convert(img.At(4, 4)).RGBA()
	if r>>8 < 150 {
		t.Fatalf("unexpected red channel %d", r>>8)
	}
	if calls.Load() == 0 || m.Frames() == 0 {
		t.Fatalf("source not polled")
	}
}

func TestLoopStopsWithoutClients(t *testing.T) {
	var calls atomic.Int32
	m := NewMJPEG(func(context.Context) (*image.RGBA, error) {
		calls.Add(1)
		return solid(4, 4), nil
	}, Config{FPS: 100})
	defer m.Stop()

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("source polled with no clients")
	}

	ts := httptest.NewServer(m.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	waitFor(t, "first poll", func() bool { return calls.Load() > 0 })

	cancel()
	resp.Body.Close()
	waitFor(t, "client to leave", func() bool { return m.Clients() == 0 })

	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != settled {
		t.Fatalf("source still polled after the last client left")
	}
}

func TestSourceErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	m := NewMJPEG(func(context.Context) (*image.RGBA, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("capture failed")
		}
		return solid(8, 8), nil
	}, Config{FPS: 100})
	defer m.Stop()

	ts := httptest.NewServer(m.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	part, err := multipart.NewReader(resp.Body, "frame").NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	if _, err := jpeg.Decode(part); err != nil {
		t.Fatalf("decoding part: %v", err)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected failed polls to be retried, got %d calls", calls.Load())
	}
}

func TestStoppedStreamRejectsClients(t *testing.T) {
	m := NewMJPEG(func(context.Context) (*image.RGBA, error) { return solid(2, 2), nil }, Config{})
	m.Stop()
	m.Stop()

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if err := m.WriteFrame(solid(2, 2)); !errors.Is(err, ErrStopped) {
		t.Fatalf("WriteFrame after Stop = %v, want ErrStopped", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{FPS: -1, Quality: 400}.withDefaults()
	if c.FPS != 2 || c.Quality != 80 {
		t.Fatalf("withDefaults() = %+v", c)
	}
}
