package hostfunc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newFS(dir, virtual string, mode MountMode) *FS {
	return NewFS(FSConfig{Mounts: []Mount{{VirtualPath: virtual, HostPath: dir, Mode: mode}}})
}

func TestFSModes(t *testing.T) {
	tests := []struct {
		mode      MountMode
		canWrite  bool
		canCreate bool
	}{
		{MountReadOnly, false, false},
		{MountReadWrite, true, false},
		{MountReadWriteCreate, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			dir := t.TempDir()
			os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("original"), 0o644)
			fs := newFS(dir, "/data", tt.mode)
			ctx := context.Background()

			content, err := fs.Read(ctx, map[string]any{"path": "/data/existing.txt"})
			if err != nil || content != "original" {
				t.Fatalf("expected original, got %v (%v)", content, err)
			}

			_, err = fs.Write(ctx, map[string]any{"path": "/data/existing.txt", "content": "modified"})
			if (err == nil) != tt.canWrite {
				t.Errorf("expected write allowed=%v, got err %v", tt.canWrite, err)
			}
			_, err = fs.Write(ctx, map[string]any{"path": "/data/new.txt", "content": "new"})
			if (err == nil) != tt.canCreate {
				t.Errorf("expected create allowed=%v, got err %v", tt.canCreate, err)
			}
		})
	}
}

func TestParseMountMode(t *testing.T) {
	for _, s := range []string{"ro", "rw", "rwc"} {
		m, err := ParseMountMode(s)
		if err != nil {
			t.Fatalf("ParseMountMode(%s) failed: %v", s, err)
		}
		if m.String() != s {
			t.Errorf("expected %s, got %s", s, m)
		}
	}
	if _, err := ParseMountMode("rx"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestFSList(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "file1.txt"), []byte("1"), 0o644)
	os.WriteFile(filepath.Join(dir, "file2.txt"), []byte("22"), 0o644)
	os.Mkdir(filepath.Join(dir, "subdir"), 0o755)

	result, err := newFS(dir, "/data", MountReadOnly).List(context.Background(), map[string]any{"path": "/data"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	entries := result.([]any)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.(map[string]any)["name"].(string)] = true
	}
	if !names["file1.txt"] || !names["file2.txt"] || !names["subdir"] {
		t.Errorf("unexpected entries: %v", names)
	}
}

func TestFSConfinement(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(filepath.Dir(dir), "secret.txt")
	os.WriteFile(secret, []byte("secret"), 0o644)
	defer os.Remove(secret)

	fs := newFS(dir, "/data", MountReadOnly)
	ctx := context.Background()

	for _, p := range []string{"/data/../secret.txt", "/etc/passwd", "data/../../secret.txt"} {
		if _, err := fs.Read(ctx, map[string]any{"path": p}); err == nil {
			t.Errorf("expected read of %s to be refused", p)
		}
	}
	if _, err := fs.Read(ctx, map[string]any{"path": "/data/" + strings.Repeat("a", DefaultMaxPathLength)}); err == nil {
		t.Error("expected overlong path to be refused")
	}
}

func TestFSExists(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "exists.txt"), []byte(""), 0o644)
	fs := newFS(dir, "/data", MountReadOnly)
	ctx := context.Background()

	tests := []struct {
		path string
		want bool
	}{
		{"/data/exists.txt", true},
		{"/data/nope.txt", false},
		{"/etc/passwd", false},
	}
	for _, tt := range tests {
		got, _ := fs.Exists(ctx, map[string]any{"path": tt.path})
		if got != tt.want {
			t.Errorf("Exists(%s): expected %v, got %v", tt.path, tt.want, got)
		}
	}
}

func TestFSStat(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello"), 0o644)

	result, err := newFS(dir, "/data", MountReadOnly).Stat(context.Background(), map[string]any{"path": "/data/file.txt"})
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	stat := result.(map[string]any)
	if stat["name"] != "file.txt" {
		t.Errorf("expected name file.txt, got %v", stat["name"])
	}
	if stat["size"].(int64) != 5 {
		t.Errorf("expected size 5, got %v", stat["size"])
	}
	if stat["is_dir"].(bool) {
		t.Error("expected is_dir to be false")
	}
}

func TestFSSizeLimits(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "big.txt"), []byte("0123456789"), 0o644)
	fs := NewFS(FSConfig{
		Mounts:       []Mount{{VirtualPath: "/data", HostPath: dir, Mode: MountReadWriteCreate}},
		MaxFileSize:  5,
		MaxWriteSize: 5,
	})
	ctx := context.Background()

	if _, err := fs.Read(ctx, map[string]any{"path": "/data/big.txt"}); err == nil {
		t.Error("expected read of oversized file to fail")
	}
	if _, err := fs.Write(ctx, map[string]any{"path": "/data/out.txt", "content": "too long"}); err == nil {
		t.Error("expected oversized write to fail")
	}
}
