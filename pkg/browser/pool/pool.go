// Package pool provides a docker-backed browser source: each checkout starts
// a disposable headless Chrome container, resolves its DevTools page
// websocket, and tears the container down on release.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"golang.org/x/sync/semaphore"

	"github.com/arji-ai/arji/pkg/browser"
	"github.com/arji-ai/arji/pkg/browser/cdp"
)

// Compile-time assertion that Pool satisfies browser.Source.
var _ browser.Source = (*Pool)(nil)

const (
	defaultImage    = "chromedp/headless-shell:latest"
	defaultCapacity = 2
	devtoolsPort    = "9222/tcp"
	readyRetries    = 40
	readyInterval   = 500 * time.Millisecond
)

// Option is a functional option for configuring a [Pool].
type Option func(*Pool)

// WithImage overrides the Chrome container image.
func WithImage(img string) Option {
	return func(p *Pool) {
		p.image = img
	}
}

// WithCapacity bounds the number of containers running at once (default 2).
func WithCapacity(n int64) Option {
	return func(p *Pool) {
		p.sem = semaphore.NewWeighted(n)
	}
}

// Pool checks browsers out of docker. Acquire blocks while the pool is at
// capacity; every container is stopped and removed when released.
type Pool struct {
	cli   *client.Client
	image string
	sem   *semaphore.Weighted
	hc    *http.Client
}

// New creates a pool using the docker daemon from the environment.
func New(opts ...Option) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("pool: docker client: %w", err)
	}

	p := &Pool{
		cli:   cli,
		image: defaultImage,
		sem:   semaphore.NewWeighted(defaultCapacity),
		hc:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// EnsureImage pulls the Chrome image unless it is already present.
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("pool: list images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	reader, err := p.cli.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pool: pull %s: %w", p.image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pool: pull %s: %w", p.image, err)
	}
	return nil
}

// Acquire implements [browser.Source]. The returned release function stops
// and removes the container; it must run on every exit path of the caller.
func (p *Pool) Acquire(ctx context.Context, id string) (browser.Automator, browser.ReleaseFunc, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("pool: acquire slot: %w", err)
	}

	if err := p.EnsureImage(ctx); err != nil {
		p.sem.Release(1)
		return nil, nil, err
	}

	containerID, port, err := p.startContainer(ctx, id)
	if err != nil {
		p.sem.Release(1)
		return nil, nil, err
	}

	teardown := func(ctx context.Context) error {
		defer p.sem.Release(1)
		return p.stopContainer(ctx, containerID)
	}

	base := "http://127.0.0.1:" + port
	if err := p.waitReady(ctx, base); err != nil {
		teardown(context.WithoutCancel(ctx))
		return nil, nil, err
	}
	pageURL, err := cdp.ResolvePageURL(ctx, p.hc, base)
	if err != nil {
		teardown(context.WithoutCancel(ctx))
		return nil, nil, err
	}
	auto, err := cdp.Dial(ctx, pageURL)
	if err != nil {
		teardown(context.WithoutCancel(ctx))
		return nil, nil, err
	}

	release := func(ctx context.Context) error {
		closeErr := auto.Close()
		return errors.Join(closeErr, teardown(ctx))
	}
	slog.Debug("browser checked out", "job_id", id, "container_id", containerID[:12], "port", port)
	return auto, release, nil
}

// Ping implements [browser.Source].
func (p *Pool) Ping(ctx context.Context) error {
	if _, err := p.cli.Ping(ctx); err != nil {
		return fmt.Errorf("pool: docker ping: %w", err)
	}
	return nil
}

// Close releases the docker client.
func (p *Pool) Close() error {
	return p.cli.Close()
}

func (p *Pool) startContainer(ctx context.Context, id string) (containerID, hostPort string, err error) {
	cfg := &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"job-id":     id,
			"managed-by": "arji",
		},
		ExposedPorts: nat.PortSet{devtoolsPort: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", "", fmt.Errorf("pool: create container: %w", err)
	}
	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.stopContainer(context.WithoutCancel(ctx), resp.ID)
		return "", "", fmt.Errorf("pool: start container: %w", err)
	}

	inspect, err := p.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.stopContainer(context.WithoutCancel(ctx), resp.ID)
		return "", "", fmt.Errorf("pool: inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		p.stopContainer(context.WithoutCancel(ctx), resp.ID)
		return "", "", fmt.Errorf("pool: no host binding for %s", devtoolsPort)
	}
	return resp.ID, bindings[0].HostPort, nil
}

func (p *Pool) stopContainer(ctx context.Context, id string) error {
	timeout := 10
	if err := p.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("container stop failed", "container_id", id[:12], "err", err)
	}
	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("pool: remove container: %w", err)
	}
	return nil
}

// waitReady polls the DevTools version endpoint until Chrome answers.
func (p *Pool) waitReady(ctx context.Context, base string) error {
	for i := 0; i < readyRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/version", nil)
		if err != nil {
			return fmt.Errorf("pool: readiness probe: %w", err)
		}
		resp, err := p.hc.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("pool: browser not ready: %w", ctx.Err())
		case <-time.After(readyInterval):
		}
	}
	return fmt.Errorf("pool: browser not ready after %d probes", readyRetries)
}
