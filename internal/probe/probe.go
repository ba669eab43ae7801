// Package probe answers whether screen capture can work on this system at all.
package probe

import (
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"github.com/shirou/gopsutil/v3/host"
)

// Framework is the platform capture facility the probe checks for presence.
type Framework interface {
	Name() string
	IsAvailable() bool
}

// VersionFunc returns the running OS version string.
type VersionFunc func() (string, error)

// HostVersion reads the OS version through gopsutil.
func HostVersion() (string, error) {
	_, _, version, err := host.PlatformInformation()
	return version, err
}

// DefaultMinVersion returns the oldest supported OS version for goos, or ""
// when the platform has no version gate.
func DefaultMinVersion(goos string) string {
	switch goos {
	case "darwin":
		return "12.3"
	case "windows":
		return "10.0"
	default:
		return ""
	}
}

// Options configures a Probe
type Options struct {
	GOOS         string
	MinOSVersion string
	Version      VersionFunc
}

// Report is a snapshot of the probe's inputs and verdict
type Report struct {
	Available  bool   `json:"available"`
	OS         string `json:"os"`
	Version    string `json:"version"`
	MinVersion string `json:"min_version,omitempty"`
	Backend    string `json:"backend"`
	Reason     string `json:"reason,omitempty"`
}

// Probe checks the OS version gate and framework presence
type Probe struct {
	goos       string
	minVersion string
	version    VersionFunc
	framework  Framework

	once      sync.Once
	osOK      bool
	osVersion string
	osReason  string
}

// New creates a probe for framework
func New(framework Framework, opts Options) *Probe {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.MinOSVersion == "" {
		opts.MinOSVersion = DefaultMinVersion(opts.GOOS)
	}
	if opts.Version == nil {
		opts.Version = HostVersion
	}
	return &Probe{
		goos:       opts.GOOS,
		minVersion: opts.MinOSVersion,
		version:    opts.Version,
		framework:  framework,
	}
}

// checkOS evaluates the version gate once; the OS cannot change under a running process.
func (p *Probe) checkOS() {
	p.once.Do(func() {
		if p.minVersion == "" {
			p.osOK = true
			if v, err := p.version(); err == nil {
				p.osVersion = v
			}
			return
		}

		v, err := p.version()
		if err != nil {
			p.osReason = "cannot read OS version: " + err.Error()
			return
		}
		p.osVersion = v
		if CompareVersions(v, p.minVersion) < 0 {
			p.osReason = "OS version " + v + " is older than " + p.minVersion
			return
		}
		p.osOK = true
	})
}

// Available reports whether capture is usable. It never fails.
func (p *Probe) Available() bool {
	return p.Report().Available
}

// Report returns the full probe result
func (p *Probe) Report() Report {
	p.checkOS()

	r := Report{
		OS:         p.goos,
		Version:    p.osVersion,
		MinVersion: p.minVersion,
	}
	if p.framework != nil {
		r.Backend = p.framework.Name()
	}

	switch {
	case !p.osOK:
		r.Reason = p.osReason
	case p.framework == nil:
		r.Reason = "no capture backend configured"
	case !p.framework.IsAvailable():
		r.Reason = "capture backend " + p.framework.Name() + " is not reachable"
	default:
		r.Available = true
	}

	if !r.Available {
		logger.WithComponent("probe").Debug().
			Str("os", r.OS).
			Str("version", r.Version).
			Str("reason", r.Reason).
			Msg("Capture unavailable")
	}
	return r
}

// CompareVersions compares dotted numeric versions such as "12.3" or
// "10.0.19045 Build 19045". Missing components count as zero and anything
// after the first non-numeric component is ignored. A version with no
// numeric prefix sorts before everything.
func CompareVersions(a, b string) int {
	pa, pb := parseVersion(a), parseVersion(b)
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		} else if len(pa) == 0 {
			x = -1
		}
		if i < len(pb) {
			y = pb[i]
		} else if len(pb) == 0 {
			y = -1
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func parseVersion(v string) []int {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return nil
	}
	var parts []int
	for _, s := range strings.Split(fields[0], ".") {
		end := 0
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == 0 {
			break
		}
		n, err := strconv.Atoi(s[:end])
		if err != nil {
			break
		}
		parts = append(parts, n)
		if end != len(s) {
			break
		}
	}
	return parts
}
