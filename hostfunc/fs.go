package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MountMode is the permission level of a mount point.
type MountMode int

const (
	MountReadOnly MountMode = iota
	// MountReadWrite allows writing existing files only.
	MountReadWrite
	MountReadWriteCreate
)

func (m MountMode) String() string {
	switch m {
	case MountReadOnly:
		return "ro"
	case MountReadWrite:
		return "rw"
	case MountReadWriteCreate:
		return "rwc"
	}
	return fmt.Sprintf("MountMode(%d)", int(m))
}

// ParseMountMode accepts the short forms ro, rw and rwc.
func ParseMountMode(s string) (MountMode, error) {
	switch s {
	case "ro", "":
		return MountReadOnly, nil
	case "rw":
		return MountReadWrite, nil
	case "rwc":
		return MountReadWriteCreate, nil
	}
	return 0, fmt.Errorf("unknown mount mode %q", s)
}

// Mount maps a virtual path seen by runtime code onto a host directory.
type Mount struct {
	VirtualPath string
	HostPath    string
	Mode        MountMode
}

const (
	DefaultMaxFileSize   = 10 << 20 // 10MB
	DefaultMaxWriteSize  = 10 << 20
	DefaultMaxPathLength = 4096
)

type FSConfig struct {
	Mounts        []Mount
	MaxFileSize   int64
	MaxWriteSize  int64
	MaxPathLength int
}

// FS serves file operations confined to its mounts.
type FS struct {
	cfg    FSConfig
	mounts []Mount
}

func NewFS(cfg FSConfig) *FS {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxWriteSize == 0 {
		cfg.MaxWriteSize = DefaultMaxWriteSize
	}
	if cfg.MaxPathLength == 0 {
		cfg.MaxPathLength = DefaultMaxPathLength
	}
	mounts := make([]Mount, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			continue
		}
		mounts = append(mounts, Mount{
			VirtualPath: "/" + strings.Trim(m.VirtualPath, "/"),
			HostPath:    hp,
			Mode:        m.Mode,
		})
	}
	return &FS{cfg: cfg, mounts: mounts}
}

// resolve maps a virtual path to a host path inside its mount.
func (f *FS) resolve(args map[string]any, write bool) (string, Mount, error) {
	p, ok := args["path"].(string)
	if !ok {
		return "", Mount{}, errors.New("path required")
	}
	if len(p) > f.cfg.MaxPathLength {
		return "", Mount{}, errors.New("path exceeds max length")
	}
	vp := filepath.Clean("/" + strings.TrimPrefix(p, "/"))
	for _, m := range f.mounts {
		if vp != m.VirtualPath && !strings.HasPrefix(vp, m.VirtualPath+"/") {
			continue
		}
		if write && m.Mode == MountReadOnly {
			return "", m, errors.New("permission denied: read-only mount")
		}
		hp := filepath.Join(m.HostPath, strings.TrimPrefix(vp, m.VirtualPath))
		if hp != m.HostPath && !strings.HasPrefix(hp, m.HostPath+string(filepath.Separator)) {
			return "", m, errors.New("permission denied: path escape attempt")
		}
		return hp, m, nil
	}
	return "", Mount{}, errors.New("permission denied: path not in any mount")
}

func (f *FS) Read(ctx context.Context, args map[string]any) (any, error) {
	hp, _, err := f.resolve(args, false)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(hp)
	if err != nil {
		return nil, notFound(err, args)
	}
	if info.Size() > f.cfg.MaxFileSize {
		return nil, fmt.Errorf("file exceeds max size of %d bytes", f.cfg.MaxFileSize)
	}
	data, err := os.ReadFile(hp)
	if err != nil {
		return nil, notFound(err, args)
	}
	return string(data), nil
}

func (f *FS) Write(ctx context.Context, args map[string]any) (any, error) {
	hp, m, err := f.resolve(args, true)
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, errors.New("content required")
	}
	if int64(len(content)) > f.cfg.MaxWriteSize {
		return nil, fmt.Errorf("content exceeds max size of %d bytes", f.cfg.MaxWriteSize)
	}
	if _, err := os.Stat(hp); os.IsNotExist(err) && m.Mode != MountReadWriteCreate {
		return nil, errors.New("permission denied: cannot create new files")
	}
	if err := os.WriteFile(hp, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write error: %w", err)
	}
	return "ok", nil
}

// List returns one dict per directory entry.
func (f *FS) List(ctx context.Context, args map[string]any) (any, error) {
	hp, _, err := f.resolve(args, false)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(hp)
	if err != nil {
		return nil, notFound(err, args)
	}
	out := make([]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{"name": entry.Name(), "is_dir": entry.IsDir()}
		if info, err := entry.Info(); err == nil {
			item["size"] = info.Size()
		}
		out = append(out, item)
	}
	return out, nil
}

// Exists reports false for paths outside every mount.
func (f *FS) Exists(ctx context.Context, args map[string]any) (any, error) {
	hp, _, err := f.resolve(args, false)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(hp)
	return err == nil, nil
}

func (f *FS) Stat(ctx context.Context, args map[string]any) (any, error) {
	hp, _, err := f.resolve(args, false)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(hp)
	if err != nil {
		return nil, notFound(err, args)
	}
	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().Unix(),
	}, nil
}

func notFound(err error, args map[string]any) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("not found: %v", args["path"])
	}
	return err
}
