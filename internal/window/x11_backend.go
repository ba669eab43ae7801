package window

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
)

// X11Backend implements the Backend interface using X11
type X11Backend struct {
	conn  *xgb.Conn
	root  xproto.Window
	owned bool

	// The backend is shared by the capturer and the API, so the atom cache
	// is guarded.
	atomsMu sync.Mutex
	atoms   map[string]xproto.Atom
	intern  func(name string) (xproto.Atom, error)
}

// NewX11Backend opens its own connection to the X server
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	b := NewX11BackendWithConn(conn)
	b.owned = true
	return b, nil
}

// NewX11BackendWithConn shares an existing connection, such as the capturer's.
// Close does not close a shared connection.
func NewX11BackendWithConn(conn *xgb.Conn) *X11Backend {
	screen := xproto.Setup(conn).DefaultScreen(conn)
	b := &X11Backend{
		conn:  conn,
		root:  screen.Root,
		atoms: make(map[string]xproto.Atom),
	}
	b.intern = b.internAtom
	return b
}

// Close closes the X11 connection when the backend opened it
func (b *X11Backend) Close() error {
	if b.owned {
		b.conn.Close()
	}
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// ListWindows returns all visible windows using EWMH _NET_CLIENT_LIST with QueryTree fallback
func (b *X11Backend) ListWindows() ([]*Info, error) {
	log := logger.WithComponent("x11-backend")

	ids, source, err := b.topLevel()
	if err != nil {
		return nil, err
	}

	windows := make([]*Info, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		info, err := b.getWindowInfo(id)
		if err != nil {
			skipped++
			continue
		}
		// Skip windows without titles or class (usually not user windows)
		if info.Title == "" && info.Class == "" {
			skipped++
			continue
		}
		windows = append(windows, info)
	}

	log.Debug().
		Str("source", source).
		Int("found", len(windows)).
		Int("skipped", skipped).
		Msg("ListWindows: summary")
	return windows, nil
}

// Lookup returns a top-level window by id. Ids that are not in the client
// list (or, without EWMH, not children of the root) are ErrNotFound.
func (b *X11Backend) Lookup(id uint32) (*Info, error) {
	ids, _, err := b.topLevel()
	if err != nil {
		return nil, err
	}
	if !containsWindow(ids, xproto.Window(id)) {
		return nil, fmt.Errorf("%w: 0x%x", ErrNotFound, id)
	}

	info, err := b.getWindowInfo(xproto.Window(id))
	if err != nil {
		// The window was destroyed between listing and querying.
		return nil, fmt.Errorf("%w: 0x%x: %v", ErrNotFound, id, err)
	}
	return info, nil
}

// topLevel lists candidate windows, preferring the window manager's client list.
func (b *X11Backend) topLevel() ([]xproto.Window, string, error) {
	log := logger.WithComponent("x11-backend")

	ids, err := b.clientList()
	if err == nil && len(ids) > 0 {
		return ids, "ewmh", nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("EWMH client list unavailable, falling back to QueryTree")
	}

	tree, err := xproto.QueryTree(b.conn, b.root).Reply()
	if err != nil {
		return nil, "", fmt.Errorf("failed to query window tree: %w", err)
	}
	return tree.Children, "querytree", nil
}

// clientList reads _NET_CLIENT_LIST from the root window
func (b *X11Backend) clientList() ([]xproto.Window, error) {
	atom, err := b.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}

	reply, err := xproto.GetProperty(b.conn, false, b.root, atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}
	return decodeWindowList(reply.Value), nil
}

// getWindowInfo retrieves information about a window
func (b *X11Backend) getWindowInfo(win xproto.Window) (*Info, error) {
	attrs, err := xproto.GetWindowAttributes(b.conn, win).Reply()
	if err != nil {
		return nil, err
	}
	info := &Info{
		ID:     uint32(win),
		Mapped: attrs.MapState == xproto.MapStateViewable,
	}

	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, err
	}
	info.Geometry = Geometry{
		X:      int(geom.X),
		Y:      int(geom.Y),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}
	// Reparenting window managers place clients inside frames, so the
	// geometry origin is relative to the frame. Translate to root space.
	if pos, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply(); err == nil {
		info.Geometry.X = int(pos.DstX)
		info.Geometry.Y = int(pos.DstY)
	}

	if title, err := b.getStringProperty(win, "_NET_WM_NAME"); err == nil {
		info.Title = title
	}
	if info.Title == "" {
		if title, err := b.getStringProperty(win, "WM_NAME"); err == nil {
			info.Title = title
		}
	}
	if classRaw, err := b.getStringProperty(win, "WM_CLASS"); err == nil {
		info.Class = parseClass(classRaw)
	}
	if pid, ok := b.getCardinal(win, "_NET_WM_PID"); ok {
		info.PID = int(pid)
	}

	info.Desktop = 0
	if desktop, ok := b.getCardinal(win, "_NET_WM_DESKTOP"); ok {
		// 0xFFFFFFFF means the window is on all desktops (sticky)
		if desktop == 0xFFFFFFFF {
			info.Desktop = -1
		} else {
			info.Desktop = int(desktop)
		}
	}

	return info, nil
}

// getAtom gets an atom ID by name, caching successful lookups
func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	b.atomsMu.Lock()
	atom, ok := b.atoms[name]
	b.atomsMu.Unlock()
	if ok {
		return atom, nil
	}

	// Interned outside the lock; a concurrent miss just asks the server twice.
	atom, err := b.intern(name)
	if err != nil {
		return 0, err
	}

	b.atomsMu.Lock()
	b.atoms[name] = atom
	b.atomsMu.Unlock()
	return atom, nil
}

func (b *X11Backend) internAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(b.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	if reply.Atom == xproto.AtomNone {
		return 0, fmt.Errorf("atom %s does not exist", name)
	}
	return reply.Atom, nil
}

// getStringProperty gets a property value as a string
func (b *X11Backend) getStringProperty(win xproto.Window, name string) (string, error) {
	atom, err := b.getAtom(name)
	if err != nil {
		return "", err
	}
	reply, err := xproto.GetProperty(b.conn, false, win, atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}

func (b *X11Backend) getCardinal(win xproto.Window, name string) (uint32, bool) {
	atom, err := b.getAtom(name)
	if err != nil {
		return 0, false
	}
	reply, err := xproto.GetProperty(b.conn, false, win, atom,
		xproto.AtomCardinal, 0, 1).Reply()
	if err != nil || len(reply.Value) < 4 {
		return 0, false
	}
	return xgb.Get32(reply.Value), true
}

// decodeWindowList parses an array of 32-bit window ids
func decodeWindowList(value []byte) []xproto.Window {
	ids := make([]xproto.Window, 0, len(value)/4)
	for i := 0; i+4 <= len(value); i += 4 {
		ids = append(ids, xproto.Window(xgb.Get32(value[i:])))
	}
	return ids
}

// parseClass extracts the class from WM_CLASS, which holds
// instance\0class\0. The instance is used when the class is empty.
func parseClass(raw string) string {
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return parts[0]
}

func containsWindow(ids []xproto.Window, id xproto.Window) bool {
	for _, w := range ids {
		if w == id {
			return true
		}
	}
	return false
}
