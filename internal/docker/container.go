// container.go implements the image and container operations used by the
// python_mod_req preprocessor: pulling images, running one-shot commands,
// committing a container into a new image and removing images.
//
// Every container is created with bundle-pack labels (see label.go) and
// is force-removed once its command has finished, whether it succeeded
// or not.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// RunOptions describes a one-shot container.
type RunOptions struct {
	// Image is the image reference or ID to run.
	Image string

	// Cmd is the command to run, e.g. []string{"/bin/sh", "-c", "pip freeze"}.
	Cmd []string

	// Binds are volume bindings in "host:container[:mode]" form.
	Binds []string

	// Purpose is recorded in the bundle-pack.purpose label.
	Purpose string

	// Source is recorded in the bundle-pack.source label when set.
	Source string
}

// PullImage pulls ref from its registry. The progress stream is drained
// and discarded; only the final error matters.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to pull image %q", ref),
			err,
		)
	}
	defer func() { _ = rc.Close() }()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to read pull progress for %q: %w", ref, err)
	}
	return nil
}

// ImageExists reports whether ref is present in the local image store.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.inner.ImageInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect image %q: %w", ref, err)
}

// Run creates and starts a container, waits for it to exit and returns
// its stdout. A non-zero exit status is an error carrying the container's
// stderr. The container is removed afterwards.
func (c *Client) Run(ctx context.Context, opts RunOptions) (string, error) {
	id, err := c.create(ctx, opts)
	if err != nil {
		return "", err
	}
	defer c.remove(id)

	if err := c.startAndWait(ctx, id, opts); err != nil {
		return "", err
	}

	stdout, _, err := c.logs(ctx, id)
	if err != nil {
		return "", err
	}
	return stdout, nil
}

// RunAndCommit runs a container to completion and commits its filesystem
// as a new image tagged reference ("repository:tag"). It returns the new
// image ID. The container is removed afterwards.
func (c *Client) RunAndCommit(ctx context.Context, opts RunOptions, reference string) (string, error) {
	id, err := c.create(ctx, opts)
	if err != nil {
		return "", err
	}
	defer c.remove(id)

	if err := c.startAndWait(ctx, id, opts); err != nil {
		return "", err
	}

	resp, err := c.inner.ContainerCommit(ctx, id, container.CommitOptions{Reference: reference})
	if err != nil {
		return "", fmt.Errorf("failed to commit container %s as %q: %w", shortID(id), reference, err)
	}
	return resp.ID, nil
}

// RemoveImage deletes an image and its untagged parents.
func (c *Client) RemoveImage(ctx context.Context, id string) error {
	_, err := c.inner.ImageRemove(ctx, id, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil {
		return fmt.Errorf("failed to remove image %s: %w", shortID(id), err)
	}
	return nil
}

func (c *Client) create(ctx context.Context, opts RunOptions) (string, error) {
	resp, err := c.inner.ContainerCreate(ctx,
		&container.Config{
			Image:  opts.Image,
			Cmd:    opts.Cmd,
			Labels: BuildLabels(opts.Purpose, opts.Source, time.Now()),
		},
		&container.HostConfig{Binds: opts.Binds},
		nil, nil, "")
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create container from %q", opts.Image),
			err,
		)
	}
	return resp.ID, nil
}

func (c *Client) startAndWait(ctx context.Context, id string, opts RunOptions) error {
	if err := c.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", shortID(id), err)
	}

	statusCh, errCh := c.inner.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed waiting for container %s: %w", shortID(id), err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			_, stderr, _ := c.logs(ctx, id)
			return fmt.Errorf("command %q in %s exited with status %d: %s",
				strings.Join(opts.Cmd, " "), opts.Image, status.StatusCode, strings.TrimSpace(stderr))
		}
	}
	return nil
}

// logs returns the demultiplexed stdout and stderr of a container.
func (c *Client) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := c.inner.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("failed to read logs of container %s: %w", shortID(id), err)
	}
	defer func() { _ = rc.Close() }()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("failed to read logs of container %s: %w", shortID(id), err)
	}
	return stdout.String(), stderr.String(), nil
}

// remove force-removes a container. It uses its own context so cleanup
// still happens after the caller's context was cancelled.
func (c *Client) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = c.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// shortID truncates a container or image ID for messages.
func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ImageRepository returns the repository part of an image reference,
// dropping any tag or digest: "registry:5000/org/img:1.2" becomes
// "registry:5000/org/img".
func ImageRepository(ref string) string {
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	lastSlash := strings.LastIndex(ref, "/")
	if i := strings.LastIndex(ref, ":"); i > lastSlash {
		ref = ref[:i]
	}
	return ref
}
