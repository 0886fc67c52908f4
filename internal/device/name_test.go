package device

import (
	"errors"
	"testing"
	"time"

	"roomsync/internal/cache"

	"github.com/stretchr/testify/assert"
)

func TestNamerGuess(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		hostErr  error
		goos     string
		want     string
	}{
		{name: "linux host", hostname: "studio.local", goos: "linux", want: "studio (Linux PC)"},
		{name: "mac host", hostname: "mbp", goos: "darwin", want: "mbp (Mac)"},
		{name: "localhost", hostname: "localhost", goos: "windows", want: "Windows PC"},
		{name: "hostname error", hostErr: errors.New("no host"), goos: "android", want: "Android Device"},
		{name: "unknown os", hostname: "", goos: "plan9", want: "Desktop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cache.NewMemoryCache(time.Minute, nil)
			defer c.Stop()

			n := NewNamer("", c)
			n.goos = tt.goos
			n.hostname = func() (string, error) { return tt.hostname, tt.hostErr }

			assert.Equal(t, tt.want, n.Name())
		})
	}
}

func TestNamerConfiguredWins(t *testing.T) {
	n := NewNamer("  Living Room  ", nil)
	assert.Equal(t, "Living Room", n.Name())
}

func TestNamerCachesGuess(t *testing.T) {
	c := cache.NewMemoryCache(time.Minute, nil)
	defer c.Stop()

	calls := 0
	n := NewNamer("", c)
	n.goos = "linux"
	n.hostname = func() (string, error) {
		calls++
		return "box", nil
	}

	assert.Equal(t, "box (Linux PC)", n.Name())
	assert.Equal(t, "box (Linux PC)", n.Name())
	assert.Equal(t, 1, calls)
}
