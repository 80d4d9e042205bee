// Package wasmmod loads WebAssembly binaries as runtime modules. Every
// exported function with numeric parameters and results becomes a builtin
// of the module.
package wasmmod

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/caffeineduck/starbridge/foreign"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tliron/commonlog"
	"go.starlark.net/starlark"
)

var log = commonlog.GetLogger("starbridge.wasmmod")

var ErrClosed = errors.New("wasm host closed")

type Config struct {
	DiskCache bool
	// CacheDir overrides DefaultCacheDir when DiskCache is set.
	CacheDir string
	// MemoryLimitPages caps module memory in 64KB pages. Zero keeps the
	// wazero default of 4GB.
	MemoryLimitPages uint32
}

// Host owns the wazero runtime shared by all loaded modules.
type Host struct {
	ctx     context.Context
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	modules map[string]*foreign.Module
	mu      sync.Mutex
	closed  bool
}

func New(ctx context.Context, cfg Config) (*Host, error) {
	var cache wazero.CompilationCache
	if cfg.DiskCache {
		dir := cfg.CacheDir
		if dir == "" {
			dir = DefaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.MemoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	return &Host{
		ctx:     ctx,
		runtime: rt,
		cache:   cache,
		modules: make(map[string]*foreign.Module),
	}, nil
}

// Load compiles and instantiates bin under name. Loading the same name
// twice returns the first module.
func (h *Host) Load(name string, bin []byte) (*foreign.Module, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if mod, ok := h.modules[name]; ok {
		return mod, nil
	}

	compiled, err := h.runtime.CompileModule(h.ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	inst, err := h.runtime.InstantiateModule(h.ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}

	members := make(starlark.StringDict)
	exports := compiled.ExportedFunctions()
	for _, export := range slices.Sorted(maps.Keys(exports)) {
		fn := inst.ExportedFunction(export)
		if fn == nil || !numericSignature(exports[export]) {
			log.Debugf("%s: skipping export %s", name, export)
			continue
		}
		members[export] = h.builtin(name+"."+export, fn)
	}

	mod := foreign.NewModule(name, members)
	mod.Freeze()
	h.modules[name] = mod
	log.Debugf("loaded wasm module %s with %d functions", name, len(members))
	return mod, nil
}

// LoadFile reads a binary from disk and loads it.
func (h *Host) LoadFile(name, path string) (*foreign.Module, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return h.Load(name, bin)
}

func numericSignature(def api.FunctionDefinition) bool {
	for _, t := range append(slices.Clone(def.ParamTypes()), def.ResultTypes()...) {
		switch t {
		case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		default:
			return false
		}
	}
	return true
}

func (h *Host) builtin(name string, fn api.Function) *starlark.Builtin {
	def := fn.Definition()
	params, results := def.ParamTypes(), def.ResultTypes()
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		if len(args) != len(params) {
			return nil, fmt.Errorf("%s: got %d arguments, want %d", b.Name(), len(args), len(params))
		}
		stack := make([]uint64, len(params))
		for i, a := range args {
			v, err := encode(a, params[i])
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", b.Name(), i, err)
			}
			stack[i] = v
		}
		out, err := fn.Call(h.ctx, stack...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		switch len(results) {
		case 0:
			return starlark.None, nil
		case 1:
			return decode(out[0], results[0]), nil
		}
		tuple := make(starlark.Tuple, len(results))
		for i, t := range results {
			tuple[i] = decode(out[i], t)
		}
		return tuple, nil
	})
}

func encode(v starlark.Value, t api.ValueType) (uint64, error) {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64:
		i, ok := v.(starlark.Int)
		if !ok {
			return 0, fmt.Errorf("want int, got %s", v.Type())
		}
		n, ok := i.Int64()
		if !ok {
			return 0, fmt.Errorf("int %s out of range", i)
		}
		if t == api.ValueTypeI32 {
			return api.EncodeI32(int32(n)), nil
		}
		return api.EncodeI64(n), nil
	case api.ValueTypeF32, api.ValueTypeF64:
		f, ok := starlark.AsFloat(v)
		if !ok {
			return 0, fmt.Errorf("want float, got %s", v.Type())
		}
		if t == api.ValueTypeF32 {
			return api.EncodeF32(float32(f)), nil
		}
		return api.EncodeF64(f), nil
	}
	return 0, fmt.Errorf("unsupported value type %s", api.ValueTypeName(t))
}

func decode(v uint64, t api.ValueType) starlark.Value {
	switch t {
	case api.ValueTypeI32:
		return starlark.MakeInt64(int64(api.DecodeI32(v)))
	case api.ValueTypeF32:
		return starlark.Float(api.DecodeF32(v))
	case api.ValueTypeF64:
		return starlark.Float(api.DecodeF64(v))
	}
	return starlark.MakeInt64(int64(v))
}

// Close releases the runtime and the compilation cache.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if err := h.runtime.Close(h.ctx); err != nil {
		errs = append(errs, err)
	}
	if h.cache != nil {
		if err := h.cache.Close(h.ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "starbridge")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "starbridge")
	}
	return filepath.Join(os.TempDir(), "starbridge-cache")
}
