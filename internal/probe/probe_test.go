package probe

import (
	"errors"
	"sync/atomic"
	"testing"
)

type fakeFramework struct {
	available atomic.Bool
}

func (f *fakeFramework) Name() string      { return "fake" }
func (f *fakeFramework) IsAvailable() bool { return f.available.Load() }

func available() *fakeFramework {
	f := &fakeFramework{}
	f.available.Store(true)
	return f
}

func fixedVersion(v string) VersionFunc {
	return func() (string, error) { return v, nil }
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"12.3", "12.3", 0},
		{"12.3.1", "12.3", 1},
		{"12.2.9", "12.3", -1},
		{"14.0", "12.3", 1},
		{"10.0.19045 Build 19045", "10.0", 1},
		{"6.3.9600 Build 9600", "10.0", -1},
		{"12", "12.0.0", 0},
		{"", "12.3", -1},
		{"unknown", "1", -1},
		{"13.1-beta", "13.1", 0},
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Fatalf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestAvailableWhenGateAndFrameworkPass(t *testing.T) {
	p := New(available(), Options{GOOS: "darwin", Version: fixedVersion("14.2.1")})
	if !p.Available() {
		t.Fatalf("expected available, report: %+v", p.Report())
	}
}

func TestOldOSIsUnavailable(t *testing.T) {
	p := New(available(), Options{GOOS: "darwin", Version: fixedVersion("11.7")})
	r := p.Report()
	if r.Available {
		t.Fatalf("expected macOS 11.7 to fail the gate")
	}
	if r.MinVersion != "12.3" || r.Reason == "" {
		t.Fatalf("unexpected report %+v", r)
	}
}

func TestVersionErrorFailsClosed(t *testing.T) {
	p := New(available(), Options{GOOS: "windows", Version: func() (string, error) {
		return "", errors.New("wmi unavailable")
	}})
	if p.Available() {
		t.Fatalf("expected unreadable version to fail the gate")
	}
}

func TestLinuxHasNoVersionGate(t *testing.T) {
	p := New(available(), Options{GOOS: "linux", Version: func() (string, error) {
		return "", errors.New("no os-release")
	}})
	if !p.Available() {
		t.Fatalf("linux should not be version gated: %+v", p.Report())
	}
}

func TestFrameworkPresenceIsRecheckedEveryCall(t *testing.T) {
	f := available()
	calls := 0
	p := New(f, Options{GOOS: "darwin", Version: func() (string, error) {
		calls++
		return "13.0", nil
	}})

	if !p.Available() {
		t.Fatalf("expected available")
	}
	f.available.Store(false)
	if p.Available() {
		t.Fatalf("expected framework loss to be observed")
	}
	f.available.Store(true)
	if !p.Available() {
		t.Fatalf("expected framework recovery to be observed")
	}
	if calls != 1 {
		t.Fatalf("OS version should be read once, read %d times", calls)
	}
}

func TestNilFrameworkIsUnavailable(t *testing.T) {
	p := New(nil, Options{GOOS: "linux", Version: fixedVersion("6.1")})
	if p.Available() {
		t.Fatalf("expected unavailable without a backend")
	}
}

func TestMinVersionOverride(t *testing.T) {
	p := New(available(), Options{GOOS: "linux", MinOSVersion: "99", Version: fixedVersion("22.04")})
	if p.Available() {
		t.Fatalf("expected configured minimum to apply on linux")
	}
}
