package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
)

// ErrStopped is returned by WriteFrame after Stop
var ErrStopped = errors.New("mjpeg output stopped")

// MJPEG streams frames from a Source as Motion JPEG over HTTP. The source is
// polled at the configured rate only while at least one client is connected.
type MJPEG struct {
	config Config
	source Source

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	frameCount atomic.Uint64
}

// NewMJPEG creates a stream fed by source
func NewMJPEG(source Source, config Config) *MJPEG {
	return &MJPEG{
		config:  config.withDefaults(),
		source:  source,
		clients: make(map[chan []byte]struct{}),
	}
}

// Name returns the output type name
func (m *MJPEG) Name() string {
	return "mjpeg"
}

// Clients returns the number of connected viewers
func (m *MJPEG) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Frames returns how many frames have been broadcast
func (m *MJPEG) Frames() uint64 {
	return m.frameCount.Load()
}

// Stop disconnects every client and ends the capture loop
func (m *MJPEG) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	done := m.stopLoopLocked()
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	logger.WithComponent("output").Info().Uint64("frames", m.Frames()).Msg("MJPEG output stopped")
}

// WriteFrame encodes img and sends it to every connected client. Slow
// clients skip the frame.
func (m *MJPEG) WriteFrame(img *image.RGBA) error {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	data := buf.Bytes()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
		}
	}
	m.frameCount.Add(1)
	return nil
}

// Handler serves the multipart stream
func (m *MJPEG) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithComponent("output")

		frames, ok := m.register()
		if !ok {
			http.Error(w, "stream stopped", http.StatusServiceUnavailable)
			return
		}
		defer m.unregister(frames)

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		for {
			var data []byte
			select {
			case <-r.Context().Done():
				return
			case d, open := <-frames:
				if !open {
					return
				}
				data = d
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
				log.Debug().Err(err).Msg("MJPEG client write error")
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func (m *MJPEG) register() (chan []byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, false
	}

	ch := make(chan []byte, 2)
	m.clients[ch] = struct{}{}
	if m.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.done = make(chan struct{})
		go m.run(ctx, m.done)
	}

	logger.WithComponent("output").Info().Int("clients", len(m.clients)).Msg("MJPEG client connected")
	return ch, true
}

func (m *MJPEG) unregister(ch chan []byte) {
	m.mu.Lock()
	delete(m.clients, ch)
	remaining := len(m.clients)
	var done chan struct{}
	if remaining == 0 {
		done = m.stopLoopLocked()
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	logger.WithComponent("output").Info().Int("clients", remaining).Msg("MJPEG client disconnected")
}

// stopLoopLocked cancels the capture loop and returns a channel closed when it exits.
func (m *MJPEG) stopLoopLocked() chan struct{} {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	done := m.done
	m.cancel = nil
	m.done = nil
	return done
}

func (m *MJPEG) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("output")

	interval := time.Second / time.Duration(m.config.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Debug().Int("fps", m.config.FPS).Msg("MJPEG capture loop started")
	for ctx.Err() == nil {
		img, err := m.source(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Debug().Err(err).Msg("MJPEG source failed, retrying")
		} else if err := m.WriteFrame(img); err != nil {
			if errors.Is(err, ErrStopped) {
				return
			}
			log.Warn().Err(err).Msg("MJPEG frame dropped")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
