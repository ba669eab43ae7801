// Package bridge is the request/response core behind the C ABI: it runs the
// probe, permission gate, dispatcher, encoder and allocator in order and
// reduces every failure to a Code.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	"unsafe"

	"github.com/bryanchriswhite/ScreenBridge/internal/buffer"
	"github.com/bryanchriswhite/ScreenBridge/internal/capture"
	"github.com/bryanchriswhite/ScreenBridge/internal/config"
	"github.com/bryanchriswhite/ScreenBridge/internal/encode"
	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"github.com/bryanchriswhite/ScreenBridge/internal/permission"
	"github.com/bryanchriswhite/ScreenBridge/internal/probe"
)

// Buffer is an encoded image in caller-owned memory. It must be returned
// through Release exactly once.
type Buffer struct {
	Ptr unsafe.Pointer
	Len int
}

// Options wires a Bridge from its collaborators
type Options struct {
	Capturer  capture.Capturer
	Probe     *probe.Probe
	Gate      *permission.Gate
	Encoder   *encode.Encoder
	Allocator buffer.Allocator
	// Timeout bounds the permission check and capture of one call
	Timeout time.Duration
	// MaxLength is the largest buffer DeliverTo hands out (default math.MaxInt32,
	// the range of a C int length).
	MaxLength int
}

// Bridge serves capture calls. It is safe for concurrent use.
type Bridge struct {
	capturer   capture.Capturer
	probe      *probe.Probe
	gate       *permission.Gate
	dispatcher *capture.Dispatcher
	encoder    *encode.Encoder
	alloc      buffer.Allocator
	timeout    time.Duration
	maxLength  int
}

// New creates a bridge. Capturer, Probe and Gate are required.
func New(opts Options) (*Bridge, error) {
	if opts.Capturer == nil || opts.Probe == nil || opts.Gate == nil {
		return nil, errors.New("bridge requires a capturer, probe and permission gate")
	}
	if opts.Encoder == nil {
		enc, err := encode.New(encode.Options{})
		if err != nil {
			return nil, err
		}
		opts.Encoder = enc
	}
	if opts.Allocator == nil {
		opts.Allocator = buffer.NewCAllocator()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.Defaults().Capture.Timeout
	}
	if opts.MaxLength <= 0 || opts.MaxLength > math.MaxInt32 {
		opts.MaxLength = math.MaxInt32
	}
	return &Bridge{
		capturer:   opts.Capturer,
		probe:      opts.Probe,
		gate:       opts.Gate,
		dispatcher: capture.NewDispatcher(opts.Capturer),
		encoder:    opts.Encoder,
		alloc:      opts.Allocator,
		timeout:    opts.Timeout,
		maxLength:  opts.MaxLength,
	}, nil
}

// NewFromConfig builds the platform bridge described by cfg. A backend that
// fails to start is kept: the probe reports it unavailable.
func NewFromConfig(cfg *config.Config) (*Bridge, error) {
	log := logger.WithComponent("bridge")

	capturer, err := capture.NewCapturer(cfg.Capture.Backend, capture.Options{Display: cfg.Capture.Display})
	if err != nil {
		return nil, err
	}
	if err := capturer.Start(); err != nil {
		log.Debug().Err(err).Str("backend", capturer.Name()).Msg("Capture backend failed to start")
	}

	enc, err := encode.New(encode.Options{
		Format:      encode.Format(cfg.Encoding.Format),
		Compression: cfg.Encoding.Compression,
	})
	if err != nil {
		capturer.Stop()
		return nil, err
	}

	b, err := New(Options{
		Capturer:  capturer,
		Probe:     probe.New(capturer, probe.Options{MinOSVersion: cfg.Probe.MinOSVersion}),
		Gate:      permission.NewGate(permission.Platform(capturer.Name()), cfg.Permission.Prompt),
		Encoder:   enc,
		Allocator: buffer.NewCAllocator(),
		Timeout:   cfg.Capture.Timeout,
	})
	if err != nil {
		capturer.Stop()
		return nil, err
	}

	log.Debug().
		Str("backend", capturer.Name()).
		Str("format", string(enc.Format())).
		Dur("timeout", b.timeout).
		Msg("Bridge ready")
	return b, nil
}

// Close stops the capture backend
func (b *Bridge) Close() error {
	return b.capturer.Stop()
}

// Capturer returns the capture backend
func (b *Bridge) Capturer() capture.Capturer {
	return b.capturer
}

// Encoder returns the output encoder
func (b *Bridge) Encoder() *encode.Encoder {
	return b.encoder
}

// Available reports whether capture can work at all. It never fails.
func (b *Bridge) Available() bool {
	return b.probe.Available()
}

// Report returns the capability probe details
func (b *Bridge) Report() probe.Report {
	return b.probe.Report()
}

// Encode captures req and returns the encoded image in Go memory.
func (b *Bridge) Encode(ctx context.Context, req capture.Request) ([]byte, Code) {
	start := time.Now()
	data, err := b.encode(ctx, req)
	code := CodeOf(err)
	b.logCall(req, code, len(data), time.Since(start), err)
	if code != OK {
		return nil, code
	}
	return data, OK
}

func (b *Bridge) encode(ctx context.Context, req capture.Request) ([]byte, error) {
	f, err := b.frame(ctx, req)
	if err != nil {
		return nil, err
	}
	return b.encoder.Encode(f)
}

// Frame captures req and returns the raw pixels without encoding them.
func (b *Bridge) Frame(ctx context.Context, req capture.Request) (*frame.Frame, Code) {
	start := time.Now()
	f, err := b.frame(ctx, req)
	code := CodeOf(err)
	size := 0
	if f != nil {
		size = len(f.Pix)
	}
	b.logCall(req, code, size, time.Since(start), err)
	if code != OK {
		return nil, code
	}
	return f, OK
}

func (b *Bridge) frame(ctx context.Context, req capture.Request) (*frame.Frame, error) {
	if !b.probe.Available() {
		return nil, ErrNotAvailable
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.gate.Check(ctx); err != nil {
		return nil, err
	}
	return b.dispatcher.Dispatch(ctx, req)
}

// Capture captures req into a buffer allocated for a foreign caller. On
// success the buffer is non-nil; on failure nothing is allocated.
func (b *Bridge) Capture(ctx context.Context, req capture.Request) (Buffer, Code) {
	data, code := b.Encode(ctx, req)
	if code != OK {
		return Buffer{}, code
	}
	p, err := b.alloc.Alloc(data)
	if err != nil {
		logger.WithComponent("bridge").Warn().Err(err).Int("bytes", len(data)).Msg("Buffer allocation failed")
		return Buffer{}, CodeOf(fmt.Errorf("%w: %v", buffer.ErrOutOfMemory, err))
	}
	return Buffer{Ptr: p, Len: len(data)}, OK
}

// DeliverTo runs req for the C ABI and reports the result through
// out-params. Both are cleared first and written only on success. Checks run
// in this order: unavailable (including a nil bridge) is NotAvailable, then a
// nil out-param is CaptureFailed without capturing, then the capture itself.
// A buffer longer than MaxLength is freed and reported as EncodingFailed.
// Panics are recovered as CaptureFailed.
func (b *Bridge) DeliverTo(ctx context.Context, req capture.Request, outData *unsafe.Pointer, outLength *int32) (code Code) {
	if outData != nil {
		*outData = nil
	}
	if outLength != nil {
		*outLength = 0
	}

	var buf Buffer
	defer func() {
		if p := recover(); p != nil {
			logger.WithComponent("bridge").Error().
				Str("kind", req.Kind.String()).
				Interface("panic", p).
				Msg("Recovered from panic in capture call")
			if buf.Ptr != nil {
				b.Release(buf.Ptr)
			}
			if outData != nil {
				*outData = nil
			}
			if outLength != nil {
				*outLength = 0
			}
			code = CaptureFailed
		}
	}()

	if b == nil || !b.Available() {
		return NotAvailable
	}
	if outData == nil || outLength == nil {
		return CaptureFailed
	}

	buf, code = b.Capture(ctx, req)
	if code != OK {
		return code
	}
	if buf.Len > b.maxLength {
		logger.WithComponent("bridge").Warn().
			Int("bytes", buf.Len).
			Int("max", b.maxLength).
			Msg("Encoded image too large for the caller")
		p := buf.Ptr
		buf = Buffer{}
		b.Release(p)
		return EncodingFailed
	}

	*outData = buf.Ptr
	*outLength = int32(buf.Len)
	return OK
}

// Release frees a buffer returned by Capture. Release(nil) is a no-op.
func (b *Bridge) Release(p unsafe.Pointer) {
	b.alloc.Free(p)
}

func (b *Bridge) logCall(req capture.Request, code Code, size int, elapsed time.Duration, err error) {
	log := logger.WithComponent("bridge")

	// Unavailability is an expected answer, not a fault.
	ev := log.Debug()
	if err != nil && code != NotAvailable {
		ev = log.Warn().Err(err)
	}
	ev.Str("kind", req.Kind.String()).
		Int("code", int(code)).
		Int("bytes", size).
		Dur("elapsed", elapsed).
		Msg("Capture call finished")
}
