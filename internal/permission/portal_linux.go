//go:build linux

package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// xdg-desktop-portal permission store, as used by the Screenshot portal
const (
	permissionStoreService = "org.freedesktop.impl.portal.PermissionStore"
	permissionStorePath    = "/org/freedesktop/impl/portal/PermissionStore"
	permissionStoreIface   = "org.freedesktop.impl.portal.PermissionStore"
	portalNotFoundError    = "org.freedesktop.portal.Error.NotFound"

	screenshotTable = "screenshot"
	screenshotID    = "screenshot"
)

// PortalAuthorizer reads the screenshot grant recorded by xdg-desktop-portal.
// Unsandboxed processes are stored under the empty application id.
type PortalAuthorizer struct {
	AppID   string
	connect func() (*dbus.Conn, error)
}

// NewPortalAuthorizer uses the shared session bus connection
func NewPortalAuthorizer() *PortalAuthorizer {
	return &PortalAuthorizer{connect: dbus.SessionBus}
}

func (p *PortalAuthorizer) Name() string {
	return "portal"
}

// Status looks up the stored grant. A missing table or entry is undetermined.
func (p *PortalAuthorizer) Status(ctx context.Context) (Status, error) {
	conn, err := p.connect()
	if err != nil {
		return "", fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var perms map[string][]string
	var data dbus.Variant
	err = conn.Object(permissionStoreService, permissionStorePath).
		CallWithContext(ctx, permissionStoreIface+".Lookup", 0, screenshotTable, screenshotID).
		Store(&perms, &data)
	if err != nil {
		if dbusErrorName(err) == portalNotFoundError {
			return StatusUndetermined, nil
		}
		return "", fmt.Errorf("permission store lookup failed: %w", err)
	}
	return statusFromPermissions(perms, p.AppID), nil
}

// Request defers to the portal: it shows its own dialog when the screenshot
// is taken, so the state stays undetermined here.
func (p *PortalAuthorizer) Request(ctx context.Context) (Status, error) {
	return StatusUndetermined, nil
}

func statusFromPermissions(perms map[string][]string, appID string) Status {
	values, ok := perms[appID]
	if !ok || len(values) == 0 {
		return StatusUndetermined
	}
	switch values[0] {
	case "yes":
		return StatusAuthorized
	case "no":
		return StatusDenied
	default:
		return StatusUndetermined
	}
}

func dbusErrorName(err error) string {
	var byValue dbus.Error
	if errors.As(err, &byValue) {
		return byValue.Name
	}
	var byPointer *dbus.Error
	if errors.As(err, &byPointer) {
		return byPointer.Name
	}
	return ""
}

func platformAuthorizer(backend string) Authorizer {
	if backend == "portal" {
		return NewPortalAuthorizer()
	}
	// X11 has no per-process screen recording permission
	return StaticAuthorizer{Label: "x11", State: StatusAuthorized}
}
