package hostfunc

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

type kvCall struct {
	op   string
	args map[string]any
	want any
}

func runKV(t *testing.T, kv *KV, calls []kvCall) {
	t.Helper()
	ops := map[string]Func{"get": kv.Get, "set": kv.Set, "delete": kv.Delete, "keys": kv.Keys}
	ctx := context.Background()
	for i, c := range calls {
		got, err := ops[c.op](ctx, c.args)
		if err != nil {
			t.Fatalf("call %d (%s %v) failed: %v", i, c.op, c.args, err)
		}
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("call %d (%s %v) mismatch (-want +got):\n%s", i, c.op, c.args, diff)
		}
	}
}

func TestKVOperations(t *testing.T) {
	tests := []struct {
		name  string
		calls []kvCall
	}{
		{"set then get", []kvCall{
			{"set", map[string]any{"key": "foo", "value": "bar"}, "ok"},
			{"get", map[string]any{"key": "foo"}, "bar"},
		}},
		{"missing key is nil", []kvCall{
			{"get", map[string]any{"key": "missing"}, nil},
		}},
		{"missing key returns default", []kvCall{
			{"get", map[string]any{"key": "missing", "default": "fallback"}, "fallback"},
		}},
		{"overwrite", []kvCall{
			{"set", map[string]any{"key": "foo", "value": "original"}, "ok"},
			{"set", map[string]any{"key": "foo", "value": "updated"}, "ok"},
			{"get", map[string]any{"key": "foo"}, "updated"},
		}},
		{"delete", []kvCall{
			{"set", map[string]any{"key": "foo", "value": "bar"}, "ok"},
			{"delete", map[string]any{"key": "foo"}, "ok"},
			{"get", map[string]any{"key": "foo"}, nil},
		}},
		{"keys are sorted", []kvCall{
			{"set", map[string]any{"key": "c", "value": int64(3)}, "ok"},
			{"set", map[string]any{"key": "a", "value": int64(1)}, "ok"},
			{"set", map[string]any{"key": "b", "value": int64(2)}, "ok"},
			{"keys", map[string]any{}, []string{"a", "b", "c"}},
		}},
		{"converted runtime values", []kvCall{
			{"set", map[string]any{"key": "list", "value": []any{int64(1), "two", 3.0}}, "ok"},
			{"set", map[string]any{"key": "dict", "value": map[string]any{"nested": true}}, "ok"},
			{"get", map[string]any{"key": "list"}, []any{int64(1), "two", 3.0}},
			{"get", map[string]any{"key": "dict"}, map[string]any{"nested": true}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runKV(t, NewKV(DefaultKVConfig()), tt.calls)
		})
	}
}

func TestKVLimits(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KVConfig
		prefill []string
		args    map[string]any
		wantErr bool
	}{
		{"key too large", KVConfig{MaxKeySize: 10}, nil, map[string]any{"key": "this-key-is-too-long", "value": "x"}, true},
		{"value too large", KVConfig{MaxValueSize: 10}, nil, map[string]any{"key": "k", "value": "this-value-is-way-too-large"}, true},
		{"composite value too large", KVConfig{MaxValueSize: 10}, nil, map[string]any{"key": "k", "value": []any{"abcdef", "ghijkl"}}, true},
		{"store full", KVConfig{MaxEntries: 2}, []string{"a", "b"}, map[string]any{"key": "c", "value": "3"}, true},
		{"overwrite when full", KVConfig{MaxEntries: 1}, []string{"a"}, map[string]any{"key": "a", "value": "2"}, false},
		{"missing value", DefaultKVConfig(), nil, map[string]any{"key": "k"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := NewKV(tt.cfg)
			ctx := context.Background()
			for _, k := range tt.prefill {
				if _, err := kv.Set(ctx, map[string]any{"key": k, "value": "1"}); err != nil {
					t.Fatalf("prefill %s failed: %v", k, err)
				}
			}
			_, err := kv.Set(ctx, tt.args)
			if tt.wantErr && err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestKVRequiresKey(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	for name, fn := range map[string]Func{"get": kv.Get, "set": kv.Set, "delete": kv.Delete} {
		if _, err := fn(ctx, map[string]any{"key": int64(1)}); err == nil || err.Error() != "key required" {
			t.Errorf("%s: expected 'key required', got %v", name, err)
		}
	}
}

func TestKVConcurrent(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	var g errgroup.Group
	for i := range 100 {
		g.Go(func() error {
			key := fmt.Sprintf("k%d", i%26)
			if _, err := kv.Set(ctx, map[string]any{"key": key, "value": int64(i)}); err != nil {
				return err
			}
			_, err := kv.Get(ctx, map[string]any{"key": key})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent access failed: %v", err)
	}

	keys, _ := kv.Keys(ctx, nil)
	if n := len(keys.([]string)); n != 26 {
		t.Errorf("expected 26 keys, got %d", n)
	}
}
