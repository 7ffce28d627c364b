package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// pingTimeout bounds the daemon health check done by Connect.
const pingTimeout = 5 * time.Second

// windowsPipe is the Docker Desktop named pipe on Windows.
const windowsPipe = `//./pipe/docker_engine`

// Client is a Docker Engine connection used by the python_mod_req
// preprocessor. Obtain one with Connect and Close it when the preprocessor
// is done.
type Client struct {
	inner *client.Client
}

// Connect opens a client against the local daemon and pings it. Any
// failure, from a missing socket to an unresponsive daemon, is a
// model.CLIError with ExitDockerNotRunning, so a bundle that needs Docker
// fails before any container work starts.
//
// DOCKER_HOST wins when set. Otherwise the platform socket is located:
// /var/run/docker.sock on Linux, that or ~/.docker/run/docker.sock on
// macOS, and the docker_engine named pipe on Windows.
func Connect(ctx context.Context) (*Client, error) {
	host, err := resolveHost()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker socket not found", err)
	}

	inner, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}

	c := &Client{inner: inner}
	if err := c.ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func resolveHost() (string, error) {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host, nil
	}

	if runtime.GOOS == "windows" {
		// Named pipes cannot be stat'ed.
		conn, err := net.DialTimeout("pipe", windowsPipe, time.Second)
		if err != nil {
			return "", fmt.Errorf("Docker named pipe not found at %s: %w", windowsPipe, err)
		}
		_ = conn.Close()
		return "npipe://" + windowsPipe, nil
	}

	return firstSocket(socketCandidates(runtime.GOOS))
}

// socketCandidates lists the Unix socket paths to try on goos, most
// preferred first.
func socketCandidates(goos string) []string {
	paths := []string{"/var/run/docker.sock"}
	if goos == "darwin" {
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".docker", "run", "docker.sock"))
		}
	}
	return paths
}

// firstSocket returns the unix:// host for the first path that exists.
func firstSocket(paths []string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return "unix://" + p, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v; is Docker running?", paths)
}

func (c *Client) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(ctx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding; is Docker running?",
			err,
		)
	}
	return nil
}

// Close releases the connection. It is safe to call more than once.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
