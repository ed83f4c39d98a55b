// Package device supplies the optional device metadata and geolocation
// attached to events.
package device

import (
	"bufio"
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/anonintent/pkg/anonintent/event"
)

// MetadataProvider supplies coarse device metadata.
type MetadataProvider interface {
	DeviceMeta() *event.DeviceMeta
}

// MetadataFunc adapts a function to MetadataProvider.
type MetadataFunc func() *event.DeviceMeta

// DeviceMeta implements MetadataProvider.
func (f MetadataFunc) DeviceMeta() *event.DeviceMeta {
	return f()
}

// HostProvider describes the Go host process: operating system,
// architecture, CPU count, locale and timezone. The result is computed once.
type HostProvider struct {
	// AppVersion is the host application's version, if known.
	AppVersion string
	// Model is a host-supplied device model, if known.
	Model string

	// getenv and osRelease are replaced in tests.
	getenv    func(string) string
	osRelease string

	once sync.Once
	meta *event.DeviceMeta
}

// NewHostProvider creates a provider for the running host.
func NewHostProvider(appVersion string) *HostProvider {
	return &HostProvider{
		AppVersion: appVersion,
		getenv:     os.Getenv,
		osRelease:  "/etc/os-release",
	}
}

// DeviceMeta implements MetadataProvider. Callers receive a copy.
func (h *HostProvider) DeviceMeta() *event.DeviceMeta {
	h.once.Do(func() {
		getenv := h.getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		zone, _ := time.Now().Zone()
		h.meta = &event.DeviceMeta{
			OS:         runtime.GOOS,
			OSVersion:  readOSVersion(h.osRelease),
			Arch:       runtime.GOARCH,
			Model:      h.Model,
			CPUCount:   runtime.NumCPU(),
			Locale:     locale(getenv),
			Timezone:   timezone(zone),
			AppVersion: h.AppVersion,
			Runtime:    runtime.Version(),
		}
	})
	m := *h.meta
	return &m
}

// locale reads the POSIX locale variables in precedence order and strips
// the encoding suffix ("en_US.UTF-8" becomes "en-US").
func locale(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}

func timezone(abbrev string) string {
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return abbrev
}

// readOSVersion returns VERSION_ID from an os-release file, or "".
func readOSVersion(path string) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "VERSION_ID="); ok {
			return strings.Trim(v, `"'`)
		}
	}
	return ""
}

// Geolocation errors. Either means "no geo on this event".
var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrPermissionDenied    = errors.New("location permission denied")
)

// Locator reads the device position.
type Locator interface {
	CurrentPosition(ctx context.Context) (*event.Position, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (*event.Position, error)

// CurrentPosition implements Locator.
func (f LocatorFunc) CurrentPosition(ctx context.Context) (*event.Position, error) {
	return f(ctx)
}

// StaticLocator always reports the same position, stamped with the time
// of the call. Useful for fixed installations such as kiosks.
type StaticLocator struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// CurrentPosition implements Locator.
func (s StaticLocator) CurrentPosition(ctx context.Context) (*event.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &event.Position{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Locate reads a position from l within timeout. Any failure yields nil.
func Locate(ctx context.Context, l Locator, timeout time.Duration) *event.Position {
	if l == nil {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	p, err := l.CurrentPosition(ctx)
	if err != nil {
		return nil
	}
	return p
}
