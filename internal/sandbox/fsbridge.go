package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
)

// FsBridge exposes file read/write/list against a sandbox container's
// filesystem, routed through the container's Exec, so filesystem tools don't
// need a direct Docker client of their own.
type FsBridge struct {
	sb   Sandbox
	root string
}

// NewFsBridge returns a bridge rooted at root (a container path, typically
// "/workspace") inside sb.
func NewFsBridge(sb Sandbox, root string) *FsBridge {
	return &FsBridge{sb: sb, root: root}
}

func (b *FsBridge) containerPath(relOrAbs string) string {
	if path.IsAbs(relOrAbs) {
		return path.Clean(relOrAbs)
	}
	return path.Join(b.root, relOrAbs)
}

// ReadFile returns the contents of a file inside the container.
func (b *FsBridge) ReadFile(ctx context.Context, p string) (string, error) {
	target := b.containerPath(p)
	res, err := b.sb.Exec(ctx, []string{"cat", target}, "")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("read %s: %s", target, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// WriteFile writes content to a file inside the container, creating parent
// directories as needed. Content is base64-encoded over the exec argv to
// avoid needing a stdin stream into the container.
func (b *FsBridge) WriteFile(ctx context.Context, p string, content string) error {
	target := b.containerPath(p)
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	script := fmt.Sprintf("mkdir -p %q && printf '%%s' %q | base64 -d > %q", path.Dir(target), encoded, target)
	res, err := b.sb.Exec(ctx, []string{"sh", "-c", script}, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("write %s: %s", target, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ListFiles returns an `ls -la` style listing of a directory inside the container.
func (b *FsBridge) ListFiles(ctx context.Context, p string) (string, error) {
	target := b.containerPath(p)
	res, err := b.sb.Exec(ctx, []string{"ls", "-la", target}, "")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("list %s: %s", target, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}
