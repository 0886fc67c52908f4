// Package device works out the display name a device announces when it joins
// a room.
package device

import (
	"os"
	"runtime"
	"strings"
	"time"

	"roomsync/internal/cache"
)

const (
	nameKey = "device_name"
	nameTTL = 10 * time.Minute
)

// Namer resolves the device display name. A configured name always wins;
// otherwise it is guessed from the host and cached.
type Namer struct {
	configured string
	hostname   func() (string, error)
	goos       string
	cache      *cache.MemoryCache
}

// NewNamer creates a namer. configured may be empty.
func NewNamer(configured string, c *cache.MemoryCache) *Namer {
	if c == nil {
		c = cache.NewMemoryCache(nameTTL, nil)
	}
	return &Namer{
		configured: strings.TrimSpace(configured),
		hostname:   os.Hostname,
		goos:       runtime.GOOS,
		cache:      c,
	}
}

// Name returns the display name
func (n *Namer) Name() string {
	if n.configured != "" {
		return n.configured
	}
	if name, ok := n.cache.GetString(nameKey); ok {
		return name
	}
	name := n.guess()
	n.cache.Set(nameKey, name)
	return name
}

// guess derives a name from the hostname and operating system
func (n *Namer) guess() string {
	kind := platformName(n.goos)

	host, err := n.hostname()
	if err != nil {
		return kind
	}
	host = strings.TrimSpace(host)
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	if host == "" || strings.EqualFold(host, "localhost") {
		return kind
	}
	return host + " (" + kind + ")"
}

func platformName(goos string) string {
	switch goos {
	case "android":
		return "Android Device"
	case "ios":
		return "iPhone"
	case "darwin":
		return "Mac"
	case "windows":
		return "Windows PC"
	case "linux":
		return "Linux PC"
	default:
		return "Desktop"
	}
}
