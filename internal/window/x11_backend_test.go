package window

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
)

func TestDecodeWindowList(t *testing.T) {
	value := []byte{
		0x01, 0x00, 0x40, 0x02,
		0xff, 0x00, 0x00, 0x00,
		0x07, // trailing partial id is ignored
	}
	got := decodeWindowList(value)
	want := []xproto.Window{0x02400001, 0xff}
	if len(got) != len(want) {
		t.Fatalf("got %d ids, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("id %d = 0x%x, want 0x%x", i, got[i], want[i])
		}
	}
	if len(decodeWindowList(nil)) != 0 {
		t.Fatalf("expected no ids for empty property")
	}
}

func TestParseClass(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"navigator\x00Firefox\x00", "Firefox"},
		{"xterm\x00\x00", "xterm"},
		{"single", "single"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := parseClass(tc.raw); got != tc.want {
			t.Fatalf("parseClass(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestContainsWindow(t *testing.T) {
	ids := []xproto.Window{1, 5, 9}
	if !containsWindow(ids, 5) {
		t.Fatalf("expected 5 to be found")
	}
	if containsWindow(ids, 4) {
		t.Fatalf("did not expect 4 to be found")
	}
}

func TestGeometryRect(t *testing.T) {
	g := Geometry{X: -10, Y: 20, Width: 100, Height: 50}
	if got, want := g.Rect(), image.Rect(-10, 20, 90, 70); got != want {
		t.Fatalf("Rect() = %v, want %v", got, want)
	}
}

func TestErrNotFoundWraps(t *testing.T) {
	err := fmt.Errorf("%w: 0x%x", ErrNotFound, 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped ErrNotFound")
	}
}

func TestGetAtomConcurrentCallers(t *testing.T) {
	names := []string{"_NET_CLIENT_LIST", "_NET_WM_NAME", "_NET_WM_PID", "WM_CLASS", "_NET_WM_DESKTOP"}
	var interned atomic.Int32
	b := &X11Backend{atoms: make(map[string]xproto.Atom)}
	b.intern = func(name string) (xproto.Atom, error) {
		interned.Add(1)
		for i, n := range names {
			if n == name {
				return xproto.Atom(100 + i), nil
			}
		}
		return 0, fmt.Errorf("atom %s does not exist", name)
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				idx := (g + i) % len(names)
				atom, err := b.getAtom(names[idx])
				if err != nil {
					t.Errorf("getAtom(%s): %v", names[idx], err)
					return
				}
				if atom != xproto.Atom(100+idx) {
					t.Errorf("getAtom(%s) = %d, want %d", names[idx], atom, 100+idx)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if n := interned.Load(); n < int32(len(names)) || n > int32(16*len(names)) {
		t.Fatalf("interned %d times for %d names", n, len(names))
	}
	if _, err := b.getAtom("_MISSING"); err == nil {
		t.Fatalf("expected error for unknown atom")
	}
	b.atomsMu.Lock()
	_, cached := b.atoms["_MISSING"]
	b.atomsMu.Unlock()
	if cached {
		t.Fatalf("failed lookups must not be cached")
	}
}
