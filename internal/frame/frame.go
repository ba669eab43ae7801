// Package frame holds raw pixel data as delivered by a capture backend,
// before it is serialized by the encoder.
package frame

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Format describes the byte layout of a 32-bit pixel in Frame.Pix.
type Format int

const (
	FormatUnknown Format = iota
	// FormatRGBA is R, G, B, A in memory order (image.RGBA layout).
	FormatRGBA
	// FormatBGRA is B, G, R, A in memory order with a meaningful alpha.
	FormatBGRA
	// FormatBGRX is B, G, R, padding (X11 ZPixmap depth 24 on LSBFirst servers).
	FormatBGRX
	// FormatXRGB is padding, R, G, B (X11 ZPixmap depth 24 on MSBFirst servers).
	FormatXRGB
)

func (f Format) String() string {
	switch f {
	case FormatRGBA:
		return "RGBA"
	case FormatBGRA:
		return "BGRA"
	case FormatBGRX:
		return "BGRX"
	case FormatXRGB:
		return "XRGB"
	default:
		return "unknown"
	}
}

const bytesPerPixel = 4

var (
	// ErrUnsupportedFormat is returned when pixels cannot be converted to RGBA.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrShortBuffer is returned when Pix is too small for the declared geometry.
	ErrShortBuffer = errors.New("pixel buffer shorter than frame geometry")
)

// Frame is a rectangle of raw pixels. Row y starts at Pix[y*Stride].
type Frame struct {
	Width  int
	Height int
	Stride int
	Format Format
	Pix    []byte
}

// Empty reports whether the frame has no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.Width <= 0 || f.Height <= 0
}

// Validate checks that Pix covers Width x Height at Stride.
func (f *Frame) Validate() error {
	if f.Empty() {
		return fmt.Errorf("empty frame %dx%d", f.Width, f.Height)
	}
	if f.Stride < f.Width*bytesPerPixel {
		return fmt.Errorf("%w: stride %d < %d", ErrShortBuffer, f.Stride, f.Width*bytesPerPixel)
	}
	need := (f.Height-1)*f.Stride + f.Width*bytesPerPixel
	if len(f.Pix) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(f.Pix), need)
	}
	return nil
}

// FromRGBA wraps img without copying. The frame origin is img.Rect.Min.
func FromRGBA(img *image.RGBA) *Frame {
	r := img.Rect
	if r.Empty() {
		return &Frame{Format: FormatRGBA}
	}
	return &Frame{
		Width:  r.Dx(),
		Height: r.Dy(),
		Stride: img.Stride,
		Format: FormatRGBA,
		Pix:    img.Pix[img.PixOffset(r.Min.X, r.Min.Y):],
	}
}

// FromImage normalizes any decoded image to an 8-bit sRGB RGBA frame.
func FromImage(img image.Image) *Frame {
	if rgba, ok := img.(*image.RGBA); ok {
		return FromRGBA(rgba)
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return FromRGBA(dst)
}

// Crop returns a view of r, in frame coordinates, sharing Pix.
func (f *Frame) Crop(r image.Rectangle) (*Frame, error) {
	r = r.Intersect(image.Rect(0, 0, f.Width, f.Height))
	if r.Empty() {
		return nil, fmt.Errorf("crop rectangle outside frame %dx%d", f.Width, f.Height)
	}
	off := r.Min.Y*f.Stride + r.Min.X*bytesPerPixel
	return &Frame{
		Width:  r.Dx(),
		Height: r.Dy(),
		Stride: f.Stride,
		Format: f.Format,
		Pix:    f.Pix[off:],
	}, nil
}

// ToRGBA converts the frame into a freshly allocated *image.RGBA.
// Formats without an alpha channel come out opaque.
func (f *Frame) ToRGBA() (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var swizzle func(dst, src []byte)
	switch f.Format {
	case FormatRGBA:
		// rows are copied verbatim below
	case FormatBGRA:
		swizzle = func(dst, src []byte) {
			dst[0], dst[1], dst[2], dst[3] = src[2], src[1], src[0], src[3]
		}
	case FormatBGRX:
		swizzle = func(dst, src []byte) {
			dst[0], dst[1], dst[2], dst[3] = src[2], src[1], src[0], 0xff
		}
	case FormatXRGB:
		swizzle = func(dst, src []byte) {
			dst[0], dst[1], dst[2], dst[3] = src[1], src[2], src[3], 0xff
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	rowBytes := f.Width * bytesPerPixel
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride : y*f.Stride+rowBytes]
		dst := img.Pix[y*img.Stride : y*img.Stride+rowBytes]
		if swizzle == nil {
			copy(dst, src)
			continue
		}
		for x := 0; x < rowBytes; x += bytesPerPixel {
			swizzle(dst[x:x+bytesPerPixel], src[x:x+bytesPerPixel])
		}
	}
	return img, nil
}
