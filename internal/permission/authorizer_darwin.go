//go:build darwin && cgo

package permission

/*
#cgo LDFLAGS: -framework CoreGraphics
#include <CoreGraphics/CoreGraphics.h>
*/
import "C"

import "context"

// darwinAuthorizer wraps the CoreGraphics screen capture access API.
// Preflight cannot tell "never asked" from "denied", so a false preflight is
// undetermined and the request call settles it.
type darwinAuthorizer struct{}

func (darwinAuthorizer) Name() string {
	return "coregraphics"
}

func (darwinAuthorizer) Status(context.Context) (Status, error) {
	if bool(C.CGPreflightScreenCaptureAccess()) {
		return StatusAuthorized, nil
	}
	return StatusUndetermined, nil
}

// Request shows the system prompt the first time it is called for this
// process; afterwards it returns the stored answer without UI.
func (darwinAuthorizer) Request(context.Context) (Status, error) {
	if bool(C.CGRequestScreenCaptureAccess()) {
		return StatusAuthorized, nil
	}
	return StatusDenied, nil
}

func platformAuthorizer(string) Authorizer {
	return darwinAuthorizer{}
}
