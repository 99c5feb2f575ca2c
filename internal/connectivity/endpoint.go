package connectivity

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Endpoint is the resolved address of the container engine's control API.
type Endpoint struct {
	Network string // "unix" or "tcp"
	Address string // socket path or host:port
	Source  string // config, DOCKER_HOST, probe or default
}

// String renders the endpoint in DOCKER_HOST form.
func (e Endpoint) String() string {
	if e.Address == "" {
		return ""
	}
	return e.Network + "://" + e.Address
}

// IsSocket reports whether the endpoint is a local unix socket.
func (e Endpoint) IsSocket() bool {
	return e.Network == "unix"
}

// ParseHost parses an engine host in DOCKER_HOST syntax. Bare absolute paths
// are treated as unix sockets.
func ParseHost(host string) (Endpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Endpoint{}, fmt.Errorf("empty engine host")
	}
	if filepath.IsAbs(host) {
		return Endpoint{Network: "unix", Address: host}, nil
	}

	u, err := url.Parse(host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parsing engine host %q: %w", host, err)
	}
	switch u.Scheme {
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return Endpoint{}, fmt.Errorf("engine host %q has no socket path", host)
		}
		return Endpoint{Network: "unix", Address: path}, nil
	case "tcp", "http":
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("engine host %q has no address", host)
		}
		return Endpoint{Network: "tcp", Address: u.Host}, nil
	default:
		return Endpoint{}, fmt.Errorf("engine host scheme %q is not supported (use unix:// or tcp://)", u.Scheme)
	}
}

// ResolveEndpoint picks the engine endpoint: the configured host, then
// DOCKER_HOST, then the first socket that exists among the Docker and
// Podman defaults. When nothing exists the Docker default is returned so
// the socket check can report it as missing.
func ResolveEndpoint(configured string, getenv func(string) string) (Endpoint, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	if configured != "" {
		ep, err := ParseHost(configured)
		ep.Source = "config"
		return ep, err
	}
	if env := getenv("DOCKER_HOST"); env != "" {
		ep, err := ParseHost(env)
		ep.Source = "DOCKER_HOST"
		return ep, err
	}

	candidates := defaultSockets(getenv)
	for _, path := range candidates {
		if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
			return Endpoint{Network: "unix", Address: path, Source: "probe"}, nil
		}
	}
	return Endpoint{Network: "unix", Address: candidates[0], Source: "default"}, nil
}

func defaultSockets(getenv func(string) string) []string {
	paths := []string{"/var/run/docker.sock"}
	if xdg := getenv("XDG_RUNTIME_DIR"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "podman", "podman.sock"))
	}
	if home := getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".docker", "run", "docker.sock"))
	}
	return paths
}
