package encode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/bryanchriswhite/ScreenBridge/internal/frame"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrEncodingFailed wraps every failure to serialize a captured frame.
var ErrEncodingFailed = errors.New("encoding failed")

// Format is an output container. All supported containers are lossless.
type Format string

const (
	FormatPNG  Format = "png"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// Options configures an Encoder
type Options struct {
	Format Format
	// Compression is one of default, none, speed, best.
	Compression string
}

// Encoder serializes raw frames into an image container
type Encoder struct {
	format  Format
	png     png.Encoder
	tiffOpt tiff.Options
}

// pngBufferPool lets concurrent encodes reuse png scratch buffers
type pngBufferPool struct {
	pool sync.Pool
}

func (p *pngBufferPool) Get() *png.EncoderBuffer {
	b, _ := p.pool.Get().(*png.EncoderBuffer)
	return b
}

func (p *pngBufferPool) Put(b *png.EncoderBuffer) {
	p.pool.Put(b)
}

// New creates an encoder for the given options
func New(opts Options) (*Encoder, error) {
	if opts.Format == "" {
		opts.Format = FormatPNG
	}

	e := &Encoder{format: opts.Format}
	switch opts.Format {
	case FormatPNG:
		level, err := pngLevel(opts.Compression)
		if err != nil {
			return nil, err
		}
		e.png = png.Encoder{CompressionLevel: level, BufferPool: &pngBufferPool{}}
	case FormatTIFF:
		e.tiffOpt = tiff.Options{Compression: tiff.Deflate, Predictor: true}
		if opts.Compression == "none" {
			e.tiffOpt = tiff.Options{Compression: tiff.Uncompressed}
		}
	case FormatBMP:
	default:
		return nil, fmt.Errorf("unsupported output format %q", opts.Format)
	}
	return e, nil
}

func pngLevel(compression string) (png.CompressionLevel, error) {
	switch compression {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "speed":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", compression)
	}
}

// Format returns the container this encoder produces
func (e *Encoder) Format() Format {
	return e.format
}

// MIMEType returns the content type of the encoded bytes
func (e *Encoder) MIMEType() string {
	switch e.format {
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// Encode converts f to 8-bit sRGB RGBA and serializes it. The returned slice
// is exactly the encoded length.
func (e *Encoder) Encode(f *frame.Frame) ([]byte, error) {
	img, err := f.ToRGBA()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return e.EncodeImage(img)
}

// EncodeImage serializes an already converted image
func (e *Encoder) EncodeImage(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch e.format {
	case FormatPNG:
		err = e.png.Encode(&buf, img)
	case FormatBMP:
		err = bmp.Encode(&buf, img)
	case FormatTIFF:
		err = tiff.Encode(&buf, img, &e.tiffOpt)
	default:
		err = fmt.Errorf("unsupported output format %q", e.format)
	}
	if err != nil {
		logger.WithComponent("encoder").Debug().
			Err(err).
			Str("format", string(e.format)).
			Msg("Encode failed")
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	out := buf.Bytes()
	return out[:len(out):len(out)], nil
}
