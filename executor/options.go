package executor

import (
	"io"
	"os"
	"time"

	"github.com/caffeineduck/starbridge/hostfunc"
	"github.com/caffeineduck/starbridge/marshal"
)

const (
	DefaultSwitchDelay    = 500 * time.Millisecond
	DefaultSwitchInterval = 10 * time.Millisecond
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type wasmSource struct {
	name string
	bin  []byte
}

type executorConfig struct {
	modulePath     []string
	stdout         io.Writer
	switchDelay    time.Duration
	switchInterval time.Duration
	debugSink      marshal.DebugSink

	kv         *hostfunc.KVConfig
	httpConfig hostfunc.HTTPConfig
	fsConfig   hostfunc.FSConfig

	wasm             []wasmSource
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // 0 keeps the wazero default (4GB)
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		stdout:         os.Stdout,
		switchDelay:    DefaultSwitchDelay,
		switchInterval: DefaultSwitchInterval,
	}
}

// WithModulePath sets the directories searched by import and load().
func WithModulePath(dirs ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.modulePath = append(c.modulePath, dirs...)
	}
}

// WithStdout redirects print() output.
func WithStdout(w io.Writer) ExecutorOption {
	return func(c *executorConfig) {
		c.stdout = w
	}
}

// WithSwitchDelay sets how long the host loop waits before it starts
// handing time to background runtime tasks.
func WithSwitchDelay(d time.Duration) ExecutorOption {
	return func(c *executorConfig) {
		c.switchDelay = d
	}
}

// WithSwitchInterval sets how often background runtime tasks get time.
func WithSwitchInterval(d time.Duration) ExecutorOption {
	return func(c *executorConfig) {
		c.switchInterval = d
	}
}

// WithDebug routes __bridge.debug() output to the executor's logger.
func WithDebug() ExecutorOption {
	return func(c *executorConfig) {
		c.debugSink = logSink
	}
}

// WithDebugSink routes __bridge.debug() output to sink.
func WithDebugSink(sink marshal.DebugSink) ExecutorOption {
	return func(c *executorConfig) {
		c.debugSink = sink
	}
}

// WithKV enables host.kv_get, kv_set, kv_delete and kv_keys backed by an
// in-memory store with the default limits.
func WithKV() ExecutorOption {
	return func(c *executorConfig) {
		if c.kv == nil {
			cfg := hostfunc.DefaultKVConfig()
			c.kv = &cfg
		}
	}
}

// WithKVMaxKeySize enables the KV store and limits key size.
func WithKVMaxKeySize(size int) ExecutorOption {
	return func(c *executorConfig) {
		WithKV()(c)
		c.kv.MaxKeySize = size
	}
}

// WithKVMaxValueSize enables the KV store and limits value size.
func WithKVMaxValueSize(size int) ExecutorOption {
	return func(c *executorConfig) {
		WithKV()(c)
		c.kv.MaxValueSize = size
	}
}

// WithKVMaxEntries enables the KV store and limits its entry count.
func WithKVMaxEntries(n int) ExecutorOption {
	return func(c *executorConfig) {
		WithKV()(c)
		c.kv.MaxEntries = n
	}
}

// WithAllowedHosts enables host.http_request and http_get for these hosts
// and their subdomains.
func WithAllowedHosts(hosts []string) ExecutorOption {
	return func(c *executorConfig) {
		c.httpConfig.AllowedHosts = append(c.httpConfig.AllowedHosts, hosts...)
	}
}

func WithHTTPMaxURLLength(size int) ExecutorOption {
	return func(c *executorConfig) {
		c.httpConfig.MaxURLLength = size
	}
}

func WithHTTPMaxBodySize(size int64) ExecutorOption {
	return func(c *executorConfig) {
		c.httpConfig.MaxBodySize = size
	}
}

func WithHTTPTimeout(d time.Duration) ExecutorOption {
	return func(c *executorConfig) {
		c.httpConfig.RequestTimeout = d
	}
}

// Mount permission modes (re-exported from hostfunc for convenience).
const (
	MountReadOnly        = hostfunc.MountReadOnly
	MountReadWrite       = hostfunc.MountReadWrite
	MountReadWriteCreate = hostfunc.MountReadWriteCreate
)

// WithMount enables the host.fs_* functions and adds a mount point. The
// virtual path is what runtime code sees; host path is the actual location.
//
//	executor.WithMount("/data", "./input", executor.MountReadOnly)
//	executor.WithMount("/workspace", "./work", executor.MountReadWriteCreate)
func WithMount(virtualPath, hostPath string, mode hostfunc.MountMode) ExecutorOption {
	return func(c *executorConfig) {
		c.fsConfig.Mounts = append(c.fsConfig.Mounts, hostfunc.Mount{
			VirtualPath: virtualPath,
			HostPath:    hostPath,
			Mode:        mode,
		})
	}
}

func WithFSMaxFileSize(size int64) ExecutorOption {
	return func(c *executorConfig) {
		c.fsConfig.MaxFileSize = size
	}
}

func WithFSMaxWriteSize(size int64) ExecutorOption {
	return func(c *executorConfig) {
		c.fsConfig.MaxWriteSize = size
	}
}

// WithWasmModule makes a WebAssembly binary importable under name.
func WithWasmModule(name string, bin []byte) ExecutorOption {
	return func(c *executorConfig) {
		c.wasm = append(c.wasm, wasmSource{name: name, bin: bin})
	}
}

// WithDiskCache enables a persistent wasm compilation cache. Optionally
// provide a directory; otherwise XDG_CACHE_HOME/starbridge or
// ~/.cache/starbridge is used.
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit caps wasm module memory in 64KB pages:
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(1024) = 64MB max
//
// Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

const (
	MemoryLimit1MB   uint32 = 16
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
	MemoryLimit1GB   uint32 = 16384
)
