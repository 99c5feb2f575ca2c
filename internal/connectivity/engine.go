package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// VersionInfo is the subset of the engine's /version payload we report.
// Docker and Podman both serve this shape.
type VersionInfo struct {
	Version    string `json:"Version"`
	APIVersion string `json:"ApiVersion"`
	Os         string `json:"Os"`
	Arch       string `json:"Arch"`
	Components []struct {
		Name    string `json:"Name"`
		Version string `json:"Version"`
	} `json:"Components"`
}

// Flavor returns "Podman" or "Docker Engine".
func (v VersionInfo) Flavor() string {
	for _, c := range v.Components {
		if strings.Contains(strings.ToLower(c.Name), "podman") {
			return "Podman"
		}
	}
	return "Docker Engine"
}

// engineClient talks to the engine API over its control socket.
type engineClient struct {
	endpoint Endpoint
	http     *http.Client
	baseURL  string
}

func newEngineClient(ep Endpoint) *engineClient {
	transport := &http.Transport{DisableKeepAlives: true}
	baseURL := "http://" + ep.Address
	if ep.IsSocket() {
		path := ep.Address
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		}
		// host is ignored when dialing a socket
		baseURL = "http://engine"
	}
	return &engineClient{
		endpoint: ep,
		http:     &http.Client{Transport: transport},
		baseURL:  baseURL,
	}
}

func (c *engineClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// ping calls /_ping; the engine answers "OK" when its API is up.
func (c *engineClient) ping(ctx context.Context) error {
	body, err := c.get(ctx, "/_ping")
	if err != nil {
		return err
	}
	if got := strings.TrimSpace(string(body)); got != "OK" {
		return fmt.Errorf("unexpected ping answer %q", got)
	}
	return nil
}

func (c *engineClient) version(ctx context.Context) (VersionInfo, error) {
	var info VersionInfo
	body, err := c.get(ctx, "/version")
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return info, fmt.Errorf("decoding /version: %w", err)
	}
	return info, nil
}
