package device

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/anonintent/pkg/anonintent/event"
)

func TestHostProvider(t *testing.T) {
	release := filepath.Join(t.TempDir(), "os-release")
	require.NoError(t, os.WriteFile(release, []byte("NAME=\"Debian\"\nVERSION_ID=\"12\"\n"), 0o600))

	env := map[string]string{"LANG": "en_US.UTF-8"}
	h := NewHostProvider("2.3.0")
	h.getenv = func(k string) string { return env[k] }
	h.osRelease = release

	meta := h.DeviceMeta()
	assert.Equal(t, runtime.GOOS, meta.OS)
	assert.Equal(t, "12", meta.OSVersion)
	assert.Equal(t, runtime.GOARCH, meta.Arch)
	assert.Equal(t, runtime.NumCPU(), meta.CPUCount)
	assert.Equal(t, "en-US", meta.Locale)
	assert.Equal(t, "2.3.0", meta.AppVersion)
	assert.NotEmpty(t, meta.Runtime)

	// Callers get independent copies.
	meta.OS = "changed"
	assert.Equal(t, runtime.GOOS, h.DeviceMeta().OS)
}

func TestLocale(t *testing.T) {
	tests := []struct {
		env  map[string]string
		want string
	}{
		{map[string]string{}, ""},
		{map[string]string{"LANG": "C"}, ""},
		{map[string]string{"LANG": "de_DE.UTF-8"}, "de-DE"},
		{map[string]string{"LANG": "de_DE", "LC_ALL": "fr_FR@euro"}, "fr-FR"},
	}
	for _, tt := range tests {
		got := locale(func(k string) string { return tt.env[k] })
		assert.Equal(t, tt.want, got)
	}
}

func TestReadOSVersion_Missing(t *testing.T) {
	assert.Empty(t, readOSVersion(filepath.Join(t.TempDir(), "nope")))
	assert.Empty(t, readOSVersion(""))
}

func TestMetadataFunc(t *testing.T) {
	var p MetadataProvider = MetadataFunc(func() *event.DeviceMeta {
		return &event.DeviceMeta{Model: "kiosk"}
	})
	assert.Equal(t, "kiosk", p.DeviceMeta().Model)
}

func TestStaticLocator(t *testing.T) {
	l := StaticLocator{Latitude: 48.8566, Longitude: 2.3522, Accuracy: 5}
	p, err := l.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 48.8566, p.Latitude)
	assert.False(t, p.Timestamp.IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.CurrentPosition(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocate(t *testing.T) {
	assert.Nil(t, Locate(context.Background(), nil, time.Second))

	denied := LocatorFunc(func(context.Context) (*event.Position, error) {
		return nil, ErrPermissionDenied
	})
	assert.Nil(t, Locate(context.Background(), denied, time.Second))

	slow := LocatorFunc(func(ctx context.Context) (*event.Position, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	start := time.Now()
	assert.Nil(t, Locate(context.Background(), slow, 10*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)

	p := Locate(context.Background(), StaticLocator{Latitude: 1, Longitude: 2}, 0)
	require.NotNil(t, p)
	assert.Equal(t, 2.0, p.Longitude)
}
