package wasmmod

import (
	"context"
	"errors"
	"testing"

	"github.com/caffeineduck/starbridge/foreign"
	"go.starlark.net/starlark"
)

// addWasm exports add(i32, i32) -> i32.
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func newHost(t *testing.T) *Host {
	t.Helper()
	h, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestLoadExposesNumericExports(t *testing.T) {
	h := newHost(t)

	mod, err := h.Load("math_wasm", addWasm)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	add, ok := mod.Members()["add"]
	if !ok {
		t.Fatalf("expected add export, got %v", mod.AttrNames())
	}

	thread := &starlark.Thread{Name: "test"}
	got, err := starlark.Call(thread, add, starlark.Tuple{starlark.MakeInt(2), starlark.MakeInt(3)}, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got.String() != "5" {
		t.Errorf("expected 5, got %s", got)
	}

	again, err := h.Load("math_wasm", addWasm)
	if err != nil || again != mod {
		t.Errorf("expected the cached module, got %v (%v)", again, err)
	}
}

func TestBuiltinChecksArguments(t *testing.T) {
	h := newHost(t)
	mod, err := h.Load("m", addWasm)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	add := mod.Members()["add"]
	thread := &starlark.Thread{Name: "test"}

	tests := []struct {
		name string
		args starlark.Tuple
	}{
		{"too few", starlark.Tuple{starlark.MakeInt(1)}},
		{"wrong type", starlark.Tuple{starlark.String("1"), starlark.MakeInt(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := starlark.Call(thread, add, tt.args, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromRuntime(t *testing.T) {
	h := newHost(t)
	mod, err := h.Load("calc", addWasm)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rt := foreign.New()
	g := rt.Lock()
	defer g.Unlock()
	rt.RegisterModule("calc", mod)
	thread := rt.NewThread("test", foreign.OriginHost)
	if err := rt.Exec(thread, "use.star", `load("calc", "add")`+"\nresult = add(40, 2)\n"); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if got := rt.Main().Members()["result"]; got == nil || got.String() != "42" {
		t.Errorf("expected 42, got %v", got)
	}
}

func TestClosedHost(t *testing.T) {
	h, err := New(context.Background(), Config{MemoryLimitPages: 16})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("expected second Close to succeed, got %v", err)
	}
	if _, err := h.Load("m", addWasm); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestLoadRejectsInvalidBinary(t *testing.T) {
	h := newHost(t)
	if _, err := h.Load("bad", []byte("not wasm")); err == nil {
		t.Error("expected compile error")
	}
}
