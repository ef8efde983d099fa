package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/pywrap"
	"github.com/google/uuid"
)

// Name is the backend identifier used in configuration.
const Name = "docker"

// Defaults for Options.
const (
	DefaultImage       = "python:alpine"
	DefaultMemoryBytes = 512 * 1024 * 1024 // 512MB
)

// Options configures the Docker backend.
type Options struct {
	// Image is the Python image every handle's container runs.
	Image string
	// MemoryBytes is the cgroup memory limit of each container.
	MemoryBytes int64
}

func (o Options) withDefaults() Options {
	if o.Image == "" {
		o.Image = DefaultImage
	}
	if o.MemoryBytes <= 0 {
		o.MemoryBytes = DefaultMemoryBytes
	}
	return o
}

// Client wraps the official Docker SDK client.
type Client struct {
	cli  *client.Client
	opts Options
}

// NewClient initializes and returns a verified Docker client.
// It performs a connection check (Ping) upon initialization.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	// Ping Docker to ensure connection
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	slog.Info("Docker Client initialized successfully")
	return &Client{cli: cli, opts: opts.withDefaults()}, nil
}

// MustNewClient is NewClient for process startup.
// If the Docker daemon is unreachable, the function panics to prevent the service from starting in a broken state
// (Fail-Fast).
func MustNewClient(opts Options) *Client {
	c, err := NewClient(context.Background(), opts)
	if err != nil {
		slog.Error("Failed to initialize Docker client", "error", err)
		panic(err)
	}
	return c
}

// Close releases the SDK client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// PullImage pulls the configured image.
func (c *Client) PullImage(ctx context.Context) error {
	slog.Info("Pulling image", "image", c.opts.Image)
	reader, err := c.cli.ImagePull(ctx, c.opts.Image, image.PullOptions{})
	if err != nil {
		slog.Error("Failed to pull image", "image", c.opts.Image, "error", err)
		return fmt.Errorf("failed to pull image: %w", err)
	}
	// Drain the response body to ensure the pull completes properly.
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

// StartContainer creates and starts a long-lived container for one handle.
func (c *Client) StartContainer(ctx context.Context, handleID string) (string, error) {
	slog.Info("Creating container", "image", c.opts.Image, "handleID", handleID)
	resp, err := c.cli.ContainerCreate(ctx, containerConfig(c.opts.Image, handleID), hostConfig(c.opts.MemoryBytes), nil, nil, "")
	if err != nil {
		slog.Error("Failed to create container", "error", err)
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		c.RemoveContainer(context.Background(), resp.ID)
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	slog.Info("Container started", "containerID", resp.ID)
	return resp.ID, nil
}

// RemoveContainer force-removes a container, logging failures.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		slog.Warn("Failed to remove container", "containerID", containerID, "error", err)
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Exec runs cmd inside the container and returns its demultiplexed stdout
// and stderr with the exit code.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string) (stdout, stderr string, exitCode int, err error) {
	created, err := c.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var outBuf, errBuf bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&outBuf, &errBuf, attach.Reader)
		copied <- err
	}()

	select {
	case <-ctx.Done():
		// The process keeps running inside the container until the
		// container itself is removed.
		return "", "", 0, ctx.Err()
	case err := <-copied:
		if err != nil {
			return "", "", 0, fmt.Errorf("failed to read exec output: %w", err)
		}
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return outBuf.String(), errBuf.String(), inspect.ExitCode, nil
}

// Loader bootstraps by pulling the image and constructs one container per handle.
type Loader struct {
	client *Client

	mu     sync.Mutex
	pulled bool
}

var _ domain.Loader = (*Loader)(nil)

// NewLoader returns a Loader using client.
func NewLoader(client *Client) *Loader {
	return &Loader{client: client}
}

func (l *Loader) Name() string { return Name }

func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pulled
}

func (l *Loader) Bootstrap(ctx context.Context) error {
	if err := l.client.PullImage(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pulled = true
	return nil
}

// Unload forces the next Bootstrap to pull again, picking up a newer image.
func (l *Loader) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pulled = false
}

func (l *Loader) Construct(ctx context.Context, cfg domain.RuntimeConfig) (domain.RuntimeHandle, error) {
	id := uuid.New().String()
	containerID, err := l.client.StartContainer(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Handle{client: l.client, id: id, containerID: containerID, indexURL: cfg.IndexURL}, nil
}

// Handle is a running container. Installed packages live as long as it does.
type Handle struct {
	client      *Client
	id          string
	containerID string
	indexURL    string
}

var _ domain.RuntimeHandle = (*Handle)(nil)

// Execute runs source through the capture wrapper inside the container.
func (h *Handle) Execute(ctx context.Context, source string) (domain.Output, error) {
	stdout, stderr, code, err := h.client.Exec(ctx, h.containerID, pythonCommand(pywrap.Wrap(source, "main.py")))
	if err != nil {
		return domain.Output{}, err
	}
	if code != 0 {
		return domain.Output{}, exitError(code, stderr)
	}

	out, _, err := pywrap.ExtractOutput(stdout)
	if err != nil {
		return domain.Output{}, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
	}
	return out, nil
}

// InstallPackage pip-installs name into the container.
func (h *Handle) InstallPackage(ctx context.Context, name string) error {
	cmd := append([]string{"python"}, pywrap.PipInstallArgs(name, h.indexURL, "")...)
	_, stderr, code, err := h.client.Exec(ctx, h.containerID, cmd)
	if err != nil {
		return err
	}
	if code != 0 {
		return exitError(code, stderr)
	}
	return nil
}

// Close removes the container.
func (h *Handle) Close() error {
	slog.Info("Removing runtime container", "handleID", h.id, "containerID", h.containerID)
	return h.client.RemoveContainer(context.Background(), h.containerID)
}

func containerConfig(imageName, handleID string) *container.Config {
	return &container.Config{
		Image:  imageName,
		Cmd:    []string{"sleep", "infinity"},
		Labels: map[string]string{"pystudio.handle": handleID},
		Env:    []string{"PYTHONIOENCODING=utf-8", "PYTHONDONTWRITEBYTECODE=1"},
	}
}

// hostConfig configures a hard memory limit via Cgroups to prevent resource exhaustion.
func hostConfig(memoryBytes int64) *container.HostConfig {
	return &container.HostConfig{
		Resources: container.Resources{
			Memory: memoryBytes,
		},
		Init: boolPtr(true),
	}
}

func pythonCommand(source string) []string {
	return []string{"python", "-c", source}
}

func exitError(code int, stderr string) error {
	if msg := strings.TrimSpace(stderr); msg != "" {
		return errors.New(msg)
	}
	return fmt.Errorf("exit status %d", code)
}

func boolPtr(b bool) *bool { return &b }
