// Package sandbox manages Docker containers that back sandboxed command
// execution for the exec tool (internal/tools.ExecTool).
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// Mode controls which turns a sandbox container is used for.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeAll     Mode = "all"
	ModeNonMain Mode = "non-main"
)

// Config configures the sandbox container created per scope key.
type Config struct {
	Mode            Mode
	Image           string
	WorkspaceAccess string // "none", "ro", "rw"
	Scope           string // "session", "agent", "shared"
	MemoryMB        int
	CPUs            float64
	TimeoutSec      int
	NetworkEnabled  bool
	ReadOnlyRoot    bool
	SetupCommand    string
	Env             map[string]string
	User            string
	TmpfsSizeMB     int
	MaxOutputBytes  int
}

// DefaultConfig returns the baseline sandbox configuration.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeOff,
		Image:           "clawdbot/sandbox:latest",
		WorkspaceAccess: "rw",
		Scope:           "session",
		MemoryMB:        512,
		CPUs:            1,
		TimeoutSec:      120,
		ReadOnlyRoot:    true,
		User:            "1000",
		TmpfsSizeMB:     64,
		MaxOutputBytes:  200_000,
	}
}

// ErrSandboxDisabled is returned by Get when the sandbox is not configured
// for the caller's mode (e.g. mode "non-main" requested on the main session).
var ErrSandboxDisabled = errors.New("sandbox: disabled for this scope")

// Result is the output of a single command run inside a sandbox container.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sandbox is a single long-lived container scoped to a session/agent/shared key.
type Sandbox interface {
	// Exec runs argv with working directory cwd (relative to the container's
	// /workspace mount) and returns captured stdout/stderr and exit code.
	Exec(ctx context.Context, argv []string, cwd string) (Result, error)
	// ContainerID returns the backing Docker container id.
	ContainerID() string
}

// Manager creates and reuses sandbox containers keyed by scope string
// (e.g. "session:<sessionKey>", "agent:<agentID>", or "shared").
type Manager interface {
	// Get returns (creating if necessary) the sandbox for key, mounting
	// workingDir as /workspace per the configured WorkspaceAccess.
	Get(ctx context.Context, key string, workingDir string) (Sandbox, error)
	// Release stops and removes the sandbox for key, if one exists.
	Release(ctx context.Context, key string) error
	// Sweep removes containers idle past cfg.IdleHours or older than cfg.MaxAgeDays.
	Sweep(ctx context.Context) error
}

type entry struct {
	id         string
	createdAt  time.Time
	lastUsedAt time.Time
}

// DockerManager implements Manager using the Docker Engine API.
type DockerManager struct {
	cli     *client.Client
	cfg     Config
	runtime string // "" for runc, "runsc" for gVisor

	mu       sync.Mutex
	sandboxes map[string]*entry
}

// NewDockerManager creates a Docker-backed sandbox manager. runtime may be
// "" (default runc) or "runsc" to run containers under gVisor.
func NewDockerManager(cfg Config, runtime string) (Manager, error) {
	if cfg.Mode == ModeOff {
		return &disabledManager{}, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: create docker client: %w", err)
	}
	return &DockerManager{
		cli:       cli,
		cfg:       cfg,
		runtime:   runtime,
		sandboxes: make(map[string]*entry),
	}, nil
}

func containerName(key string) string {
	safe := strings.NewReplacer(":", "-", "/", "-", " ", "-").Replace(key)
	return fmt.Sprintf("clawdbot-sandbox-%s", safe)
}

func (m *DockerManager) Get(ctx context.Context, key string, workingDir string) (Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := containerName(key)
	if e, ok := m.sandboxes[key]; ok {
		running, err := m.isRunning(ctx, e.id)
		if err == nil && running {
			e.lastUsedAt = time.Now()
			return &dockerSandbox{mgr: m, id: e.id}, nil
		}
		delete(m.sandboxes, key)
	}

	id, err := m.create(ctx, name, workingDir)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	m.sandboxes[key] = &entry{id: id, createdAt: now, lastUsedAt: now}

	if m.cfg.SetupCommand != "" {
		sb := &dockerSandbox{mgr: m, id: id}
		if _, err := sb.Exec(ctx, []string{"sh", "-c", m.cfg.SetupCommand}, ""); err != nil {
			slog.Warn("sandbox setup command failed", "key", key, "error", err)
		}
	}
	return &dockerSandbox{mgr: m, id: id}, nil
}

func (m *DockerManager) create(ctx context.Context, name string, workingDir string) (string, error) {
	if existing, err := m.cli.ContainerInspect(ctx, name); err == nil {
		_ = m.cli.ContainerRemove(ctx, existing.ID, container.RemoveOptions{Force: true})
	}

	envVars := make([]string, 0, len(m.cfg.Env))
	for k, v := range m.cfg.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	hostCfg := &container.HostConfig{
		Runtime:        m.runtime,
		ReadonlyRootfs: m.cfg.ReadOnlyRoot,
		Resources: container.Resources{
			Memory:   int64(m.cfg.MemoryMB) * 1024 * 1024,
			NanoCPUs: int64(m.cfg.CPUs * 1e9),
		},
	}
	if !m.cfg.NetworkEnabled {
		hostCfg.NetworkMode = "none"
	}
	if m.cfg.WorkspaceAccess != "none" && workingDir != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   workingDir,
			Target:   "/workspace",
			ReadOnly: m.cfg.WorkspaceAccess == "ro",
		}}
	}
	if m.cfg.TmpfsSizeMB > 0 {
		hostCfg.Tmpfs = map[string]string{"/tmp": fmt.Sprintf("size=%dm", m.cfg.TmpfsSizeMB)}
	}

	resp, err := m.cli.ContainerCreate(ctx, &container.Config{
		Image:      m.cfg.Image,
		User:       m.cfg.User,
		WorkingDir: "/workspace",
		Cmd:        []string{"sleep", "infinity"},
		Env:        envVars,
		Tty:        false,
	}, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}
	slog.Info("sandbox container started", "container_id", resp.ID, "name", name)
	return resp.ID, nil
}

func (m *DockerManager) isRunning(ctx context.Context, id string) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return inspect.State.Running, nil
}

func (m *DockerManager) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.sandboxes[key]
	if ok {
		delete(m.sandboxes, key)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.stop(ctx, e.id)
}

func (m *DockerManager) stop(ctx context.Context, id string) error {
	timeout := 10
	if err := m.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("sandbox stop failed, forcing removal", "container_id", id, "error", err)
	}
	if err := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("sandbox: remove container %s: %w", id, err)
	}
	return nil
}

// Sweep removes sandboxes idle past the configured thresholds.
func (m *DockerManager) Sweep(ctx context.Context) error {
	m.mu.Lock()
	stale := make([]string, 0)
	for key, e := range m.sandboxes {
		if time.Since(e.lastUsedAt) > 4*time.Hour {
			stale = append(stale, key)
		}
	}
	m.mu.Unlock()

	for _, key := range stale {
		if err := m.Release(ctx, key); err != nil {
			slog.Warn("sandbox sweep release failed", "key", key, "error", err)
		}
	}
	return nil
}

type dockerSandbox struct {
	mgr *DockerManager
	id  string
}

func (s *dockerSandbox) ContainerID() string { return s.id }

func (s *dockerSandbox) Exec(ctx context.Context, argv []string, cwd string) (Result, error) {
	if s.mgr.cfg.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.mgr.cfg.TimeoutSec)*time.Second)
		defer cancel()
	}

	execCfg := container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		User:         s.mgr.cfg.User,
	}
	if cwd != "" {
		execCfg.WorkingDir = cwd
	}

	resp, err := s.mgr.cli.ContainerExecCreate(ctx, s.id, execCfg)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: exec create: %w", err)
	}

	attach, err := s.mgr.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := readExecOutput(&stdout, attach.Reader, s.mgr.cfg.MaxOutputBytes)
		done <- copyErr
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case err := <-done:
		if err != nil && err != io.EOF {
			return Result{}, fmt.Errorf("sandbox: read exec output: %w", err)
		}
	}

	inspect, err := s.mgr.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: exec inspect: %w", err)
	}

	return Result{
		Stdout:   stdout.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// readExecOutput reads the exec attach stream into dst, capped at maxBytes.
// The exec session is created with Tty:true, so Docker does not multiplex
// stdout/stderr behind an 8-byte frame header the way a non-Tty attach
// would — the stream is the raw combined terminal output, same as
// ashureev-shsh-labs's container manager relies on for its exec sessions.
func readExecOutput(dst io.Writer, src io.Reader, maxBytes int) (int64, error) {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	limited := io.LimitReader(src, int64(maxBytes))
	return io.Copy(dst, limited)
}

type disabledManager struct{}

func (disabledManager) Get(ctx context.Context, key, workingDir string) (Sandbox, error) {
	return nil, ErrSandboxDisabled
}
func (disabledManager) Release(ctx context.Context, key string) error { return nil }
func (disabledManager) Sweep(ctx context.Context) error               { return nil }
