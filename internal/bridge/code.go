package bridge

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/ScreenBridge/internal/buffer"
	"github.com/bryanchriswhite/ScreenBridge/internal/encode"
	"github.com/bryanchriswhite/ScreenBridge/internal/permission"
)

// Code is the result of a bridge call as seen by foreign callers. The
// values are part of the C ABI and never change.
type Code int

const (
	OK               Code = 0
	NotAvailable     Code = -1
	PermissionDenied Code = -2
	CaptureFailed    Code = -3
	EncodingFailed   Code = -4
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case NotAvailable:
		return "not available"
	case PermissionDenied:
		return "permission denied"
	case CaptureFailed:
		return "capture failed"
	case EncodingFailed:
		return "encoding failed"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Err returns the sentinel error for c, or nil for OK
func (c Code) Err() error {
	switch c {
	case OK:
		return nil
	case NotAvailable:
		return ErrNotAvailable
	case PermissionDenied:
		return permission.ErrDenied
	case EncodingFailed:
		return encode.ErrEncodingFailed
	default:
		return ErrCaptureFailed
	}
}

var (
	// ErrNotAvailable is reported when the capability probe fails.
	ErrNotAvailable = errors.New("screen capture not available")
	// ErrCaptureFailed classifies every failure that has no narrower code.
	ErrCaptureFailed = errors.New("capture failed")
)

// CodeOf maps an internal error onto the four-way ABI taxonomy.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrNotAvailable):
		return NotAvailable
	case errors.Is(err, permission.ErrDenied):
		return PermissionDenied
	case errors.Is(err, encode.ErrEncodingFailed), errors.Is(err, buffer.ErrOutOfMemory):
		return EncodingFailed
	default:
		return CaptureFailed
	}
}
